// Package brokerage bridges the local order and portfolio model to a venue
// session. Commands go out through the session manager; venue callbacks come
// back through the dispatcher, which updates order, ledger and portfolio
// state before publishing domain events.
package brokerage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/alanyoungcy/brokergw/internal/eventbus"
	"github.com/alanyoungcy/brokergw/internal/identity"
	"github.com/alanyoungcy/brokergw/internal/ledger"
	"github.com/alanyoungcy/brokergw/internal/orders"
	"github.com/alanyoungcy/brokergw/internal/portfolio"
	"github.com/alanyoungcy/brokergw/internal/session"
	"github.com/shopspring/decimal"
)

// Pacing caps outbound order commands. Limit commands are allowed per Window
// under Key.
type Pacing struct {
	Limiter domain.RateLimiter
	Key     string
	Limit   int
	Window  time.Duration
}

// Options configures a Brokerage. Zero values select defaults.
type Options struct {
	Session         session.Config
	Retention       time.Duration
	BaseCurrency    string
	CleanupInterval time.Duration
	Pacing          *Pacing
	IdentitySource  domain.OrderIdentitySource
}

// Brokerage is safe for concurrent use by any number of callers.
type Brokerage struct {
	venue     domain.VenueSession
	session   *session.Manager
	mapper    *identity.Mapper
	machine   *orders.Machine
	ledger    *ledger.Ledger
	portfolio *portfolio.Cache
	bus       *eventbus.Bus
	pacing    *Pacing
	nextLocal atomic.Int64
	logger    *slog.Logger

	cleanupInterval time.Duration
	now             func() time.Time
}

// New creates a Brokerage over venue. Events are published on bus.
func New(venue domain.VenueSession, bus *eventbus.Bus, opts Options, logger *slog.Logger) *Brokerage {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = eventbus.New(logger)
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 30 * time.Second
	}

	mapper := identity.NewMapper(opts.Retention)
	if opts.IdentitySource != nil {
		mapper.WithSource(opts.IdentitySource)
	}

	b := &Brokerage{
		venue:           venue,
		mapper:          mapper,
		machine:         orders.NewMachine(),
		ledger:          ledger.New(),
		portfolio:       portfolio.New(opts.BaseCurrency),
		bus:             bus,
		pacing:          opts.Pacing,
		logger:          logger.With(slog.String("component", "brokerage")),
		cleanupInterval: opts.CleanupInterval,
		now:             func() time.Time { return time.Now().UTC() },
	}
	b.session = session.NewManager(venue, opts.Session, bus.Publish, logger)
	return b
}

// Connect opens the venue session. Venue callbacks start flowing before
// Connect returns.
func (b *Brokerage) Connect(ctx context.Context) error {
	return b.session.Connect(ctx, &dispatcher{b: b})
}

// Disconnect closes the venue session. It is idempotent.
func (b *Brokerage) Disconnect() error {
	return b.session.Disconnect()
}

// ConnectionState returns the current session state.
func (b *Brokerage) ConnectionState() domain.ConnectionState {
	return b.session.State()
}

// Subscribe registers h for every published event.
func (b *Brokerage) Subscribe(h eventbus.Handler) (unsubscribe func()) {
	return b.bus.Subscribe(h)
}

// Run periodically drops expired venue-id history until ctx is done.
func (b *Brokerage) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.mapper.Cleanup()
		}
	}
}

// PlaceOrder submits o and returns the registered order with its local and
// venue ids. A zero o.ID is assigned from the local sequence. The resulting
// status changes arrive as OrderStatusChanged events.
func (b *Brokerage) PlaceOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	if err := b.admit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("brokerage: place order: %w", err)
	}
	orders.Normalize(&o)
	if err := orders.Validate(o); err != nil {
		return domain.Order{}, fmt.Errorf("brokerage: place order: %w", err)
	}

	localID := o.ID
	if localID == 0 {
		localID = b.nextLocal.Add(1)
	} else {
		b.reserveLocal(localID)
	}

	now := b.now()
	o.ID = localID
	o.BrokerIDs = nil
	o.Status = domain.OrderStatusCreated
	o.FilledQuantity = decimal.Zero
	o.AvgFillPrice = decimal.Zero
	o.CreatedAt = now
	o.UpdatedAt = now
	if err := b.mapper.Register(localID, o); err != nil {
		return domain.Order{}, fmt.Errorf("brokerage: place order: %w", err)
	}

	log := b.logger.With(slog.Int64("local_id", localID), slog.String("symbol", o.Symbol))

	brokerID, err := b.venue.NextOrderID(ctx)
	if err == nil {
		err = b.mapper.BindVenueID(localID, brokerID)
	}
	if err != nil {
		b.invalidate(localID, err)
		log.WarnContext(ctx, "order id reservation failed", slog.String("error", err.Error()))
		return domain.Order{}, fmt.Errorf("brokerage: place order: %w: %w", domain.ErrConnection, err)
	}

	if err := b.venue.PlaceOrder(ctx, brokerID, domain.VenueOrderFrom(o)); err != nil {
		b.invalidate(localID, err)
		log.WarnContext(ctx, "order submission failed", slog.Int64("broker_id", brokerID), slog.String("error", err.Error()))
		return domain.Order{}, fmt.Errorf("brokerage: place order: %w: %w", domain.ErrConnection, err)
	}

	log.InfoContext(ctx, "order placed",
		slog.Int64("broker_id", brokerID),
		slog.String("kind", string(o.Kind)),
		slog.String("quantity", o.Quantity.String()),
	)
	return b.mapper.ResolveByLocalID(localID)
}

// reserveLocal moves the local sequence past a caller-chosen id so assigned
// ids never collide with it.
func (b *Brokerage) reserveLocal(id int64) {
	for {
		cur := b.nextLocal.Load()
		if id <= cur || b.nextLocal.CompareAndSwap(cur, id) {
			return
		}
	}
}

// invalidate marks an order that never reached the venue as Invalid.
func (b *Brokerage) invalidate(localID int64, cause error) {
	var tr orders.Transition
	o, err := b.mapper.Mutate(localID, func(o *domain.Order) {
		tr = orders.MarkInvalid(o, cause.Error(), b.now())
	})
	if err != nil || tr.Verdict != orders.Applied {
		return
	}
	b.bus.Publish(domain.OrderStatusChanged{Order: o, Status: o.Status, Message: tr.Reason, Time: o.UpdatedAt})
}

// UpdateOrder amends the open order identified by o.ID. Non-zero quantity,
// price, time-in-force and tag fields of o replace the current values. The
// venue assigns the order a new id; the old id keeps resolving for the
// retention window so in-flight notifications still land.
func (b *Brokerage) UpdateOrder(ctx context.Context, o domain.Order) error {
	cur, err := b.mapper.ResolveByLocalID(o.ID)
	if err != nil {
		b.logger.ErrorContext(ctx, "update of unknown order", slog.Int64("local_id", o.ID))
		return fmt.Errorf("brokerage: update order: %w", err)
	}
	if err := b.admit(ctx); err != nil {
		return fmt.Errorf("brokerage: update order: %w", err)
	}

	amended := cur.Clone()
	if err := orders.Amend(&amended, o, b.now()); err != nil {
		return fmt.Errorf("brokerage: update order: %w", err)
	}

	replacement, err := b.venue.NextOrderID(ctx)
	if err != nil {
		return fmt.Errorf("brokerage: update order: %w: %w", domain.ErrConnection, err)
	}
	origID := cur.CurrentBrokerID()
	if err := b.mapper.Rebind(o.ID, replacement); err != nil {
		return fmt.Errorf("brokerage: update order: %w", err)
	}

	if err := b.venue.ModifyOrder(ctx, origID, replacement, domain.VenueOrderFrom(amended)); err != nil {
		if rerr := b.mapper.Revert(o.ID, replacement); rerr != nil {
			b.logger.ErrorContext(ctx, "revert venue id", slog.Int64("local_id", o.ID), slog.String("error", rerr.Error()))
		}
		return fmt.Errorf("brokerage: update order: %w: %w", domain.ErrConnection, err)
	}

	var amendErr error
	if _, err := b.mapper.Mutate(o.ID, func(stored *domain.Order) {
		amendErr = orders.Amend(stored, o, b.now())
	}); err == nil && amendErr != nil {
		// A notification finished the order while the amendment was in flight.
		b.logger.WarnContext(ctx, "amendment overtaken by venue", slog.Int64("local_id", o.ID), slog.String("reason", amendErr.Error()))
	}

	b.logger.InfoContext(ctx, "order amended",
		slog.Int64("local_id", o.ID),
		slog.Int64("orig_broker_id", origID),
		slog.Int64("broker_id", replacement),
	)
	return nil
}

// CancelOrder requests cancellation of the order with the given local id.
// It succeeds without contacting the venue when the order is already
// terminal. Confirmation arrives as a Canceled OrderStatusChanged event.
func (b *Brokerage) CancelOrder(ctx context.Context, localID int64) error {
	o, err := b.mapper.ResolveByLocalID(localID)
	if err != nil {
		b.logger.ErrorContext(ctx, "cancel of unknown order", slog.Int64("local_id", localID))
		return fmt.Errorf("brokerage: cancel order: %w", err)
	}
	if o.Status.IsTerminal() {
		b.logger.DebugContext(ctx, "cancel of terminal order ignored",
			slog.Int64("local_id", localID), slog.String("status", string(o.Status)))
		return nil
	}
	if err := b.admit(ctx); err != nil {
		return fmt.Errorf("brokerage: cancel order: %w", err)
	}

	brokerID := o.CurrentBrokerID()
	if err := b.venue.CancelOrder(ctx, brokerID); err != nil {
		return fmt.Errorf("brokerage: cancel order: %w: %w", domain.ErrConnection, err)
	}
	b.logger.InfoContext(ctx, "cancel requested", slog.Int64("local_id", localID), slog.Int64("broker_id", brokerID))
	return nil
}

// CancelAll requests cancellation of every non-terminal order and returns
// the joined errors of the requests that failed.
func (b *Brokerage) CancelAll(ctx context.Context) error {
	pending := b.mapper.Select(func(o domain.Order) bool { return !o.Status.IsTerminal() })
	var errs []error
	for _, o := range pending {
		if err := b.CancelOrder(ctx, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// admit applies connection and pacing checks to an outbound command.
func (b *Brokerage) admit(ctx context.Context) error {
	if err := b.session.Require(); err != nil {
		return err
	}
	if b.pacing == nil || b.pacing.Limiter == nil {
		return nil
	}
	ok, err := b.pacing.Limiter.Allow(ctx, b.pacing.Key, b.pacing.Limit, b.pacing.Window)
	if err != nil {
		// The limiter backend being down must not block trading.
		b.logger.WarnContext(ctx, "pacing check failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// Order returns a snapshot of the order with the given local id.
func (b *Brokerage) Order(localID int64) (domain.Order, error) {
	return b.mapper.ResolveByLocalID(localID)
}

// OpenOrders returns snapshots of every order still working at the venue.
func (b *Brokerage) OpenOrders() []domain.Order {
	return b.mapper.Select(func(o domain.Order) bool { return o.IsOpen() })
}

// Holdings returns a snapshot of every open position.
func (b *Brokerage) Holdings() []domain.Holding {
	return b.portfolio.Holdings()
}

// CashBalance returns a snapshot of every currency balance.
func (b *Brokerage) CashBalance() domain.CashBalance {
	return b.portfolio.Cash()
}

// Executions returns the recorded fills matching f in chronological order.
func (b *Brokerage) Executions(f domain.ExecutionFilter) []domain.Execution {
	return b.ledger.Query(f)
}

// OrderExecutions returns the fills recorded against one order.
func (b *Brokerage) OrderExecutions(localID int64) []domain.Execution {
	return b.ledger.ForOrder(localID)
}

// BookedExecutions returns every execution in the order it was booked into
// the portfolio, the sequence portfolio.Replay needs to reproduce it.
func (b *Brokerage) BookedExecutions() []domain.Execution {
	return b.ledger.Booked()
}
