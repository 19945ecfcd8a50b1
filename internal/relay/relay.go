// Package relay forwards brokerage events to out-of-process sinks: the redis
// signal bus, the postgres audit log and execution journal, operator alerts
// and websocket clients. Every sink drains its own bounded queue, so a slow
// sink drops its own events and never delays the venue callback path.
package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/alanyoungcy/brokergw/internal/eventbus"
)

// Sink consumes events. Handle runs on the sink's own goroutine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev domain.Event) error
}

type funcSink struct {
	name string
	fn   func(context.Context, domain.Event) error
}

func (f funcSink) Name() string                                     { return f.name }
func (f funcSink) Handle(ctx context.Context, ev domain.Event) error { return f.fn(ctx, ev) }

// Func adapts a function to a Sink.
func Func(name string, fn func(context.Context, domain.Event) error) Sink {
	return funcSink{name: name, fn: fn}
}

// Config tunes the per-sink queues.
type Config struct {
	Buffer  int           // queued events per sink
	Timeout time.Duration // per Handle call
	// Drain bounds how long queued events are still delivered after shutdown.
	Drain time.Duration
}

// Relay fans bus events out to sinks.
type Relay struct {
	bus      *eventbus.Bus
	sinks    []Sink
	cfg      Config
	failures atomic.Int64
	ready    chan struct{}
	logger   *slog.Logger
}

// New creates a Relay. Sinks may be added until Run is called.
func New(bus *eventbus.Bus, cfg Config, logger *slog.Logger, sinks ...Sink) *Relay {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Drain <= 0 {
		cfg.Drain = 5 * time.Second
	}
	return &Relay{
		bus:    bus,
		sinks:  sinks,
		cfg:    cfg,
		ready:  make(chan struct{}),
		logger: logger.With(slog.String("component", "relay")),
	}
}

// Add registers another sink.
func (r *Relay) Add(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Len returns the number of sinks.
func (r *Relay) Len() int {
	return len(r.sinks)
}

// Failures returns the number of Handle calls that returned an error.
func (r *Relay) Failures() int64 {
	return r.failures.Load()
}

// Ready is closed once Run has subscribed every sink. Events published
// after that are seen by all sinks.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run delivers events until ctx is canceled, then drains what is queued.
func (r *Relay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Subscribe every sink before any goroutine starts so all of them see
	// the same event sequence.
	for _, s := range r.sinks {
		ch, unsub := r.bus.SubscribeChan(r.cfg.Buffer)
		g.Go(func() error {
			r.drain(gctx, s, ch, unsub)
			return nil
		})
	}
	close(r.ready)

	r.logger.InfoContext(ctx, "relay started", slog.Int("sinks", len(r.sinks)))
	<-gctx.Done()
	return g.Wait()
}

func (r *Relay) drain(ctx context.Context, s Sink, ch <-chan domain.Event, unsub func()) {
	for {
		select {
		case ev := <-ch:
			r.deliver(context.Background(), s, ev)
		case <-ctx.Done():
			unsub()
			deadline := time.Now().Add(r.cfg.Drain)
			for ev := range ch {
				if time.Now().After(deadline) {
					r.logger.Warn("relay drain timed out", slog.String("sink", s.Name()))
					return
				}
				r.deliver(context.Background(), s, ev)
			}
			return
		}
	}
}

func (r *Relay) deliver(parent context.Context, s Sink, ev domain.Event) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.Timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			r.failures.Add(1)
			r.logger.Error("sink panicked", slog.String("sink", s.Name()), slog.Any("panic", p))
		}
	}()
	if err := s.Handle(ctx, ev); err != nil {
		r.failures.Add(1)
		r.logger.Warn("sink failed",
			slog.String("sink", s.Name()),
			slog.String("kind", string(ev.Kind())),
			slog.String("error", err.Error()),
		)
	}
}
