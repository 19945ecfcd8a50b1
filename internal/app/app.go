// Package app provides the top-level lifecycle of the brokerage gateway. It
// wires the venue session, the brokerage and its optional backends (redis,
// postgres, object storage, notifications), runs the HTTP API and event
// relay, and tears the session down in order on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/brokergw/internal/config"
	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/alanyoungcy/brokergw/internal/relay"
	"github.com/alanyoungcy/brokergw/internal/server"
	"github.com/alanyoungcy/brokergw/internal/server/handler"
	"github.com/alanyoungcy/brokergw/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
	session string
	started time.Time
}

// New creates a new App from the given configuration and logger. Every run
// gets a fresh session id that tags relayed events, journal rows and the
// shutdown archive.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		session: uuid.NewString(),
		started: time.Now().UTC(),
	}
}

// Session returns the id of this run.
func (a *App) Session() string { return a.session }

// Run is the main entry point. It wires all dependencies, serves until the
// context is cancelled, and then tears the venue session down. On return
// the caller should invoke Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("session", a.session),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.serve(ctx, deps)
}

// serve runs one session:
//
//  1. take the account lock (when redis is configured)
//  2. start the sinks and wait until they are subscribed
//  3. connect the brokerage
//  4. run the HTTP server, id cleanup and lock refresh until ctx ends
//  5. cancel open orders, archive the ledger, disconnect
//  6. stop the sinks after they drained the teardown events
func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	lock, err := a.acquireAccount(ctx, deps)
	if err != nil {
		return err
	}
	if lock != nil {
		defer lock.Release()
	}

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.status(deps), a.session, a.logger)
	}
	rl := a.buildRelay(deps, hub)

	// Sinks outlive ctx so the teardown below is still relayed.
	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSinks()
	sinks, sinkCtx := errgroup.WithContext(sinkCtx)
	sinks.Go(func() error { return rl.Run(sinkCtx) })
	if hub != nil {
		sinks.Go(func() error { return hub.Run(sinkCtx) })
	}
	<-rl.Ready()

	a.audit(ctx, deps, "session.start", map[string]any{"mode": a.cfg.Mode, "account": deps.Account})

	if err := deps.Brokerage.Connect(ctx); err != nil {
		stopSinks()
		_ = sinks.Wait()
		return fmt.Errorf("app: connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Brokerage.Run(gctx) })
	if lock != nil {
		g.Go(func() error { return a.keepLock(gctx, lock) })
	}
	if hub != nil {
		a.startHTTPServer(gctx, g, deps, hub)
	}
	runErr := g.Wait()

	a.teardown(deps)

	stopSinks()
	if err := sinks.Wait(); err != nil {
		a.logger.Warn("sinks stopped with error", slog.String("error", err.Error()))
	}
	return runErr
}

// acquireAccount takes the single-writer lock on the venue account. Two
// gateways on one account would both cancel and archive each other's orders.
func (a *App) acquireAccount(ctx context.Context, deps *Dependencies) (domain.Lock, error) {
	if deps.LockManager == nil {
		return nil, nil
	}
	lock, err := deps.LockManager.Acquire(ctx, "account:"+deps.Account, a.cfg.Redis.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("app: account %s is served by another gateway: %w", deps.Account, err)
		}
		return nil, fmt.Errorf("app: account lock: %w", err)
	}
	a.logger.InfoContext(ctx, "account lock acquired", slog.String("account", deps.Account))
	return lock, nil
}

// keepLock refreshes lock at a third of its TTL. Losing it ends the run.
func (a *App) keepLock(ctx context.Context, lock domain.Lock) error {
	ttl := a.cfg.Redis.LockTTL.Duration
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lock.Extend(ctx, ttl); err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					return fmt.Errorf("app: account lock lost: %w", err)
				}
				// A transient redis error is retried on the next tick; the
				// lease survives until the TTL runs out.
				a.logger.WarnContext(ctx, "account lock refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// teardown runs after the serving context ended. It uses its own deadline.
func (a *App) teardown(deps *Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout.Duration)
	defer cancel()
	b := deps.Brokerage

	if a.cfg.Shutdown.CancelOpenOrders && b.ConnectionState() == domain.ConnectionConnected {
		open := len(b.OpenOrders())
		if err := b.CancelAll(ctx); err != nil {
			a.logger.Error("cancel open orders failed", slog.String("error", err.Error()))
		} else if open > 0 {
			left := awaitClosed(ctx, b, 5*time.Second)
			a.logger.Info("open orders canceled", slog.Int("orders", open), slog.Int("unconfirmed", left))
		}
	}

	if deps.Archiver != nil {
		execs := b.Executions(domain.ExecutionFilter{})
		key, err := deps.Archiver.ArchiveExecutions(ctx, a.session, execs)
		switch {
		case err != nil:
			a.logger.Error("archive executions failed", slog.String("error", err.Error()))
		case key != "":
			a.logger.Info("executions archived", slog.String("key", key), slog.Int("executions", len(execs)))
		}
	}

	if err := b.Disconnect(); err != nil {
		a.logger.Warn("disconnect failed", slog.String("error", err.Error()))
	}
	a.audit(ctx, deps, "session.stop", map[string]any{
		"account":    deps.Account,
		"executions": len(b.Executions(domain.ExecutionFilter{})),
		"uptime_s":   int64(time.Since(a.started).Seconds()),
	})
}

// awaitClosed waits for the venue to confirm cancellations and returns the
// number of orders still open when it gave up.
func awaitClosed(ctx context.Context, b interface{ OpenOrders() []domain.Order }, limit time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		n := len(b.OpenOrders())
		if n == 0 {
			return 0
		}
		select {
		case <-ctx.Done():
			return n
		case <-ticker.C:
		}
	}
}

func (a *App) audit(ctx context.Context, deps *Dependencies, event string, detail map[string]any) {
	if deps.AuditStore == nil {
		return
	}
	detail["session"] = a.session
	if err := deps.AuditStore.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// buildRelay registers a sink per configured backend.
func (a *App) buildRelay(deps *Dependencies, hub *ws.Hub) *relay.Relay {
	rl := relay.New(deps.Bus, relay.Config{
		Buffer:  a.cfg.Relay.Buffer,
		Timeout: a.cfg.Relay.Timeout.Duration,
		Drain:   a.cfg.Relay.Drain.Duration,
	}, a.logger)

	if deps.SignalBus != nil {
		rl.Add(relay.NewSignalSink(deps.SignalBus, a.session))
	}
	if deps.AuditStore != nil {
		rl.Add(relay.NewAuditSink(deps.AuditStore, a.session))
	}
	if deps.Journal != nil {
		rl.Add(relay.NewJournalSink(deps.Journal, deps.Brokerage, a.session))
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		rl.Add(relay.Func("notify", deps.Notifier.HandleEvent))
	}
	if hub != nil {
		rl.Add(hub)
	}
	a.logger.Info("relay configured", slog.Int("sinks", rl.Len()))
	return rl
}

func (a *App) status(deps *Dependencies) ws.StatusFunc {
	b := deps.Brokerage
	return func() ws.Status {
		return ws.Status{
			Mode:       a.cfg.Mode,
			Connection: b.ConnectionState().String(),
			OpenOrders: len(b.OpenOrders()),
			Holdings:   len(b.Holdings()),
			UptimeSecs: int64(time.Since(a.started).Seconds()),
		}
	}
}

// startHTTPServer adds the HTTP server goroutines to g. The server is shut
// down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	srvCfg := server.Config{
		Addr:        a.cfg.Server.Addr(),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}
	if deps.RateLimiter != nil {
		srvCfg.RateLimiter = deps.RateLimiter
	}

	srv := server.NewServer(srvCfg, server.Handlers{
		Health: handler.NewHealthHandler(deps.Brokerage, deps.Pingers, a.logger),
		Status: &handler.StatusHandler{
			Mode:      a.cfg.Mode,
			Account:   deps.Account,
			Session:   a.session,
			StartedAt: a.started,
		},
		Orders:    handler.NewOrderHandler(deps.Brokerage, a.logger),
		Portfolio: handler.NewPortfolioHandler(deps.Brokerage),
		History: &handler.HistoryHandler{
			Signals:  deps.SignalBus,
			Audit:    deps.AuditStore,
			Journal:  deps.Journal,
			Archives: deps.BlobReader,
			Logger:   a.logger,
		},
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
