// Package eventbus fans domain events out to subscribers in subscription
// order. Publish runs handlers synchronously on the caller's goroutine after
// releasing the subscriber lock, so handlers may subscribe, unsubscribe or
// query the brokerage without deadlocking.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Handler receives published events.
type Handler func(domain.Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	nextID  uint64
	dropped atomic.Int64
	logger  *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With(slog.String("component", "eventbus"))}
}

// Subscribe registers h and returns a func that removes it. The returned
// func is idempotent.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscribeChan delivers events to a buffered channel for consumers that run
// on their own goroutine. When the buffer is full the event is dropped for
// that consumer and counted in Dropped. The channel is closed on unsubscribe.
func (b *Bus) SubscribeChan(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan domain.Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsub := b.Subscribe(func(e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	})
	return ch, func() {
		unsub()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Publish delivers e to every current subscriber in order. A panicking
// handler is logged and skipped.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				slog.Uint64("subscriber", s.id),
				slog.String("event", string(e.Kind())),
				slog.Any("panic", r),
			)
		}
	}()
	s.handler(e)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events channel subscribers missed.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
