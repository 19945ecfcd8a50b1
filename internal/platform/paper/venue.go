// Package paper is an in-memory venue that simulates executions against
// configured quotes. It implements domain.VenueSession with the same
// callback ordering guarantees as a live session.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

var errNotConnected = errors.New("paper: not connected")

// Config seeds the simulated account.
type Config struct {
	Currency     string
	StartingCash decimal.Decimal
	Quotes       map[string]decimal.Decimal
	Commission   decimal.Decimal // per execution
	// PartialFills splits each fill into this many executions.
	PartialFills int
	FirstOrderID int64
}

type working struct {
	brokerID int64
	order    domain.VenueOrder
	filled   decimal.Decimal
	avgPrice decimal.Decimal
}

type position struct {
	symbol   string
	secType  domain.SecurityType
	quantity decimal.Decimal
	avgPrice decimal.Decimal
}

// stream is the callback queue of one connection.
type stream struct {
	queue  []func(domain.VenueListener)
	wake   chan struct{}
	done   chan struct{}
	ending bool
}

// Venue is safe for concurrent use.
type Venue struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	stream    *stream
	failNext  int
	nextID    int64
	usedIDs   map[int64]struct{}
	working   map[int64]*working
	quotes    map[string]decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*position
	execSeq   int64
}

// New creates a Venue from cfg.
func New(cfg Config, logger *slog.Logger) *Venue {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.PartialFills < 1 {
		cfg.PartialFills = 1
	}
	if cfg.FirstOrderID <= 0 {
		cfg.FirstOrderID = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	quotes := make(map[string]decimal.Decimal, len(cfg.Quotes))
	for k, v := range cfg.Quotes {
		quotes[k] = v
	}
	return &Venue{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "paper")),
		nextID:    cfg.FirstOrderID,
		usedIDs:   make(map[int64]struct{}),
		working:   make(map[int64]*working),
		quotes:    quotes,
		cash:      cfg.StartingCash,
		positions: make(map[string]*position),
	}
}

// Connect starts a session and reports the account snapshot.
func (v *Venue) Connect(ctx context.Context, l domain.VenueListener) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stream != nil {
		return errors.New("paper: already connected")
	}
	if v.failNext > 0 {
		v.failNext--
		return errors.New("paper: gateway refused connection")
	}

	s := &stream{wake: make(chan struct{}, 1), done: make(chan struct{})}
	v.stream = s
	go deliver(v, s, l)

	now := time.Now().UTC()
	v.enqueueLocked(accountValue(v.cfg.Currency, v.cash, now))
	for _, p := range v.positions {
		v.enqueueLocked(positionReport(p, v.cfg.Currency, v.quotes[p.symbol], now))
	}
	v.logger.Info("paper session connected")
	return nil
}

// Disconnect ends the session without a connection-lost callback.
func (v *Venue) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		return nil
	}
	close(v.stream.done)
	v.stream = nil
	return nil
}

// Drop simulates an unexpected session loss. Callbacks already queued are
// delivered, then OnConnectionLost.
func (v *Venue) Drop(cause error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		return
	}
	if cause == nil {
		cause = errors.New("paper: connection reset")
	}
	v.enqueueLocked(func(l domain.VenueListener) { l.OnConnectionLost(cause) })
	v.stream.ending = true
	v.stream = nil
}

// FailConnects makes the next n Connect calls fail.
func (v *Venue) FailConnects(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = n
}

// SetQuote updates the price of symbol and fills any working order it
// makes marketable.
func (v *Venue) SetQuote(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quotes[symbol] = price
	if v.stream == nil {
		return
	}
	for _, w := range v.working {
		if w.order.Symbol == symbol {
			v.matchLocked(w)
		}
	}
}

// NextOrderID reserves a fresh order id.
func (v *Venue) NextOrderID(ctx context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		return 0, errNotConnected
	}
	id := v.nextID
	v.nextID++
	return id, nil
}

// PlaceOrder acknowledges o and fills it immediately when marketable.
func (v *Venue) PlaceOrder(ctx context.Context, brokerID int64, o domain.VenueOrder) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		return errNotConnected
	}

	now := time.Now().UTC()
	if _, used := v.usedIDs[brokerID]; used {
		v.enqueueLocked(status(brokerID, domain.OrderStatusRejected, decimal.Zero, o.Quantity, now, "duplicate order id"))
		return nil
	}
	v.usedIDs[brokerID] = struct{}{}
	if _, ok := v.quotes[o.Symbol]; !ok && o.Kind == domain.OrderKindMarket {
		v.enqueueLocked(status(brokerID, domain.OrderStatusRejected, decimal.Zero, o.Quantity, now, "no quote for "+o.Symbol))
		return nil
	}

	w := &working{brokerID: brokerID, order: o}
	v.working[brokerID] = w
	v.enqueueLocked(status(brokerID, domain.OrderStatusSubmitted, decimal.Zero, o.Quantity, now, ""))
	v.matchLocked(w)
	return nil
}

// ModifyOrder replaces a working order under a new id.
func (v *Venue) ModifyOrder(ctx context.Context, origID, replacementID int64, o domain.VenueOrder) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		return errNotConnected
	}
	w, ok := v.working[origID]
	if !ok {
		return fmt.Errorf("paper: order %d is not working", origID)
	}
	if _, used := v.usedIDs[replacementID]; used {
		return fmt.Errorf("paper: order id %d already used", replacementID)
	}
	v.usedIDs[replacementID] = struct{}{}

	delete(v.working, origID)
	w.brokerID = replacementID
	w.order = o
	v.working[replacementID] = w
	v.enqueueLocked(status(replacementID, domain.OrderStatusSubmitted, w.filled, o.Quantity.Sub(w.filled), time.Now().UTC(), "amended"))
	v.matchLocked(w)
	return nil
}

// CancelOrder cancels a working order.
func (v *Venue) CancelOrder(ctx context.Context, brokerID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		return errNotConnected
	}
	w, ok := v.working[brokerID]
	if !ok {
		return fmt.Errorf("paper: order %d is not working", brokerID)
	}
	delete(v.working, brokerID)
	v.enqueueLocked(status(brokerID, domain.OrderStatusCanceled, w.filled, w.order.Quantity.Sub(w.filled), time.Now().UTC(), ""))
	return nil
}

// matchLocked fills w if the current quote makes it executable.
func (v *Venue) matchLocked(w *working) {
	quote, ok := v.quotes[w.order.Symbol]
	if !ok {
		return
	}
	price, ok := executable(w.order, quote)
	if !ok {
		return
	}
	v.fillLocked(w, price)
}

// executable returns the fill price for o at quote, if any.
func executable(o domain.VenueOrder, quote decimal.Decimal) (decimal.Decimal, bool) {
	buy := o.Side == domain.OrderSideBuy
	triggered := func() bool {
		if buy {
			return quote.GreaterThanOrEqual(o.StopPrice)
		}
		return quote.LessThanOrEqual(o.StopPrice)
	}
	marketable := func() bool {
		if buy {
			return quote.LessThanOrEqual(o.LimitPrice)
		}
		return quote.GreaterThanOrEqual(o.LimitPrice)
	}

	switch o.Kind {
	case domain.OrderKindMarket:
		return quote, true
	case domain.OrderKindLimit:
		return quote, marketable()
	case domain.OrderKindStopMarket:
		return quote, triggered()
	case domain.OrderKindStopLimit:
		return quote, triggered() && marketable()
	default:
		return decimal.Zero, false
	}
}

func (v *Venue) fillLocked(w *working, price decimal.Decimal) {
	remaining := w.order.Quantity.Sub(w.filled)
	n := int64(v.cfg.PartialFills)
	slice := remaining.Div(decimal.NewFromInt(n)).Truncate(0)
	if slice.IsZero() {
		slice = remaining
		n = 1
	}

	now := time.Now().UTC()
	for i := int64(0); i < n; i++ {
		qty := slice
		if i == n-1 {
			qty = w.order.Quantity.Sub(w.filled)
		}
		v.execSeq++
		exec := domain.ExecutionReport{
			ExecID:       fmt.Sprintf("paper-%d.%d", w.brokerID, v.execSeq),
			BrokerID:     w.brokerID,
			Symbol:       w.order.Symbol,
			SecurityType: w.order.SecurityType,
			Side:         w.order.Side,
			Quantity:     qty,
			Price:        price,
			Commission:   v.cfg.Commission,
			Currency:     v.cfg.Currency,
			Time:         now,
		}
		v.bookLocked(exec)
		w.avgPrice = w.avgPrice.Mul(w.filled).Add(price.Mul(qty)).Div(w.filled.Add(qty))
		w.filled = w.filled.Add(qty)

		st := domain.OrderStatusPartiallyFilled
		if w.filled.Equal(w.order.Quantity) {
			st = domain.OrderStatusFilled
		}
		v.enqueueLocked(func(l domain.VenueListener) { l.OnExecution(exec) })
		rep := status(w.brokerID, st, w.filled, w.order.Quantity.Sub(w.filled), now, "")
		rep.AvgFillPrice = w.avgPrice
		v.enqueueLocked(func(l domain.VenueListener) { l.OnOrderStatus(rep) })
	}
	delete(v.working, w.brokerID)
	v.enqueueLocked(accountValue(v.cfg.Currency, v.cash, now))

	v.logger.Info("paper fill",
		slog.Int64("broker_id", w.brokerID),
		slog.String("symbol", w.order.Symbol),
		slog.String("side", string(w.order.Side)),
		slog.String("quantity", w.order.Quantity.String()),
		slog.String("price", price.String()),
	)
}

// bookLocked updates the simulated account for one execution.
func (v *Venue) bookLocked(e domain.ExecutionReport) {
	signed := e.Quantity
	if e.Side == domain.OrderSideSell {
		signed = signed.Neg()
	}
	v.cash = v.cash.Sub(signed.Mul(e.Price)).Sub(e.Commission)

	p, ok := v.positions[e.Symbol]
	if !ok {
		p = &position{symbol: e.Symbol, secType: e.SecurityType}
		v.positions[e.Symbol] = p
	}
	next := p.quantity.Add(signed)
	switch {
	case next.IsZero():
		p.avgPrice = decimal.Zero
	case p.quantity.IsZero() || p.quantity.IsPositive() == signed.IsPositive():
		p.avgPrice = p.avgPrice.Mul(p.quantity.Abs()).Add(e.Price.Mul(e.Quantity)).Div(next.Abs())
	case p.quantity.IsPositive() != next.IsPositive():
		p.avgPrice = e.Price
	}
	p.quantity = next
	if p.quantity.IsZero() {
		delete(v.positions, e.Symbol)
	}
}

func (v *Venue) enqueueLocked(fn func(domain.VenueListener)) {
	s := v.stream
	if s == nil {
		return
	}
	s.queue = append(s.queue, fn)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// deliver runs callbacks for one connection in enqueue order.
func deliver(v *Venue, s *stream, l domain.VenueListener) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			v.mu.Lock()
			batch := s.queue
			s.queue = nil
			ending := s.ending
			v.mu.Unlock()

			if len(batch) == 0 {
				if ending {
					return
				}
				break
			}
			for _, fn := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				fn(l)
			}
		}
	}
}

func status(brokerID int64, st domain.OrderStatus, filled, remaining decimal.Decimal, at time.Time, msg string) func(domain.VenueListener) {
	rep := domain.OrderStatusReport{
		BrokerID:  brokerID,
		Status:    st,
		Filled:    filled,
		Remaining: remaining,
		Message:   msg,
		Time:      at,
	}
	return func(l domain.VenueListener) { l.OnOrderStatus(rep) }
}

func accountValue(ccy string, cash decimal.Decimal, at time.Time) func(domain.VenueListener) {
	av := domain.AccountValue{Currency: ccy, CashBalance: cash, Time: at}
	return func(l domain.VenueListener) { l.OnAccountValue(av) }
}

func positionReport(p *position, ccy string, mark decimal.Decimal, at time.Time) func(domain.VenueListener) {
	pr := domain.PositionReport{
		Symbol:       p.symbol,
		SecurityType: p.secType,
		Quantity:     p.quantity,
		AveragePrice: p.avgPrice,
		MarketPrice:  mark,
		Currency:     ccy,
		Time:         at,
	}
	return func(l domain.VenueListener) { l.OnPosition(pr) }
}
