package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/brokergw/internal/config"
	"github.com/alanyoungcy/brokergw/internal/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type memArchiver struct {
	mu      sync.Mutex
	session string
	execs   []domain.Execution
}

func (m *memArchiver) ArchiveExecutions(_ context.Context, session string, execs []domain.Execution) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session, m.execs = session, execs
	return "executions/" + session + ".jsonl", nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) has(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeLocks struct {
	held      bool
	extendErr error
	released  chan struct{}
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (domain.Lock, error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return f, nil
}

func (f *fakeLocks) Extend(context.Context, time.Duration) error { return f.extendErr }
func (f *fakeLocks) Release()                                    { close(f.released) }

func paperConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Paper.Quotes = map[string]decimal.Decimal{"usdjpy": decimal.RequireFromString("151.25")}
	return &cfg
}

func wire(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps, cleanup, err := Wire(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	t.Cleanup(cleanup)
	return deps
}

func TestWire_PaperWithoutBackends(t *testing.T) {
	deps := wire(t, paperConfig())
	if deps.Account != paperAccount {
		t.Errorf("Account = %q, want %q", deps.Account, paperAccount)
	}
	if deps.SignalBus != nil || deps.AuditStore != nil || deps.Archiver != nil || deps.LockManager != nil {
		t.Error("optional backends wired without configuration")
	}
	if len(deps.Pingers) != 0 {
		t.Errorf("Pingers = %v, want none", deps.Pingers)
	}
}

func TestBuildVenue_RejectsUnknownMode(t *testing.T) {
	cfg := paperConfig()
	cfg.Mode = "backtest"
	if _, _, err := Wire(context.Background(), cfg, quiet()); err == nil {
		t.Error("Wire() accepted mode backtest")
	}
}

func TestServe_SessionLifecycle(t *testing.T) {
	cfg := paperConfig()
	a := New(cfg, quiet())
	deps := wire(t, cfg)
	arch := &memArchiver{}
	audit := &memAudit{}
	deps.Archiver = arch
	deps.AuditStore = audit

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, deps) }()

	b := deps.Brokerage
	eventually(t, func() bool { return b.ConnectionState() == domain.ConnectionConnected })

	filled, err := b.PlaceOrder(ctx, domain.Order{
		Symbol: "USDJPY", SecurityType: domain.SecurityTypeForex,
		Quantity: decimal.NewFromInt(1000), Kind: domain.OrderKindMarket,
	})
	if err != nil {
		t.Fatalf("PlaceOrder(market) error = %v", err)
	}
	resting, err := b.PlaceOrder(ctx, domain.Order{
		Symbol: "USDJPY", SecurityType: domain.SecurityTypeForex,
		Quantity: decimal.NewFromInt(500), Kind: domain.OrderKindLimit,
		LimitPrice: decimal.NewFromInt(150),
	})
	if err != nil {
		t.Fatalf("PlaceOrder(limit) error = %v", err)
	}
	eventually(t, func() bool {
		f, _ := b.Order(filled.ID)
		r, _ := b.Order(resting.ID)
		return f.Status == domain.OrderStatusFilled && r.Status == domain.OrderStatusSubmitted
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	if o, _ := b.Order(resting.ID); o.Status != domain.OrderStatusCanceled {
		t.Errorf("resting order status = %s, want canceled at shutdown", o.Status)
	}
	if st := b.ConnectionState(); st != domain.ConnectionDisconnected {
		t.Errorf("ConnectionState() = %s, want disconnected", st)
	}
	if arch.session != a.Session() || len(arch.execs) != 1 {
		t.Errorf("archived session %q with %d executions, want %q with 1", arch.session, len(arch.execs), a.Session())
	}
	for _, ev := range []string{"session.start", "order_status_changed", "connection_state_changed", "session.stop"} {
		if !audit.has(ev) {
			t.Errorf("audit log missing %q: %v", ev, audit.events)
		}
	}
}

func TestServe_AccountLock(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		cfg := paperConfig()
		deps := wire(t, cfg)
		deps.LockManager = &fakeLocks{held: true}

		err := New(cfg, quiet()).serve(context.Background(), deps)
		if !errors.Is(err, domain.ErrLockHeld) {
			t.Errorf("serve() = %v, want ErrLockHeld", err)
		}
		if st := deps.Brokerage.ConnectionState(); st != domain.ConnectionDisconnected {
			t.Errorf("ConnectionState() = %s, brokerage connected without the lock", st)
		}
	})

	t.Run("lost while running", func(t *testing.T) {
		cfg := paperConfig()
		cfg.Redis.LockTTL.Duration = 30 * time.Millisecond
		deps := wire(t, cfg)
		locks := &fakeLocks{extendErr: domain.ErrLockHeld, released: make(chan struct{})}
		deps.LockManager = locks

		done := make(chan error, 1)
		go func() { done <- New(cfg, quiet()).serve(context.Background(), deps) }()
		select {
		case err := <-done:
			if !errors.Is(err, domain.ErrLockHeld) {
				t.Errorf("serve() = %v, want lock lost", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("serve kept running after losing the lock")
		}
		select {
		case <-locks.released:
		default:
			t.Error("lock not released")
		}
		if st := deps.Brokerage.ConnectionState(); st != domain.ConnectionDisconnected {
			t.Errorf("ConnectionState() = %s, want disconnected", st)
		}
	})
}
