package brokerage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/alanyoungcy/brokergw/internal/orders"
)

// dispatcher turns venue callbacks into state changes and domain events. The
// venue calls it from one goroutine; each callback resolves the order, applies
// the transition, records fills, updates the portfolio and only then
// publishes, with no lock held.
type dispatcher struct {
	b *Brokerage
}

// guard keeps a fault in one notification from stopping the stream.
func (d *dispatcher) guard(callback string) {
	if r := recover(); r != nil {
		d.b.logger.Error("notification handler panicked",
			slog.String("callback", callback),
			slog.String("panic", fmt.Sprint(r)),
		)
	}
}

func (d *dispatcher) resolve(brokerID int64, callback string) (int64, bool) {
	localID, err := d.b.mapper.LocalID(brokerID)
	if err != nil {
		d.b.logger.Error("notification for unknown order",
			slog.String("callback", callback),
			slog.Int64("broker_id", brokerID),
		)
		return 0, false
	}
	return localID, true
}

func (d *dispatcher) OnOrderStatus(r domain.OrderStatusReport) {
	defer d.guard("order_status")

	localID, ok := d.resolve(r.BrokerID, "order_status")
	if !ok {
		return
	}
	var tr orders.Transition
	o, err := d.b.mapper.Mutate(localID, func(o *domain.Order) {
		tr = orders.ApplyStatus(o, r)
	})
	if err != nil {
		return
	}
	if !d.accepted(tr, localID, r.BrokerID, "order_status") {
		return
	}

	msg := r.Message
	if msg == "" {
		msg = tr.Reason
	}
	d.b.logger.Info("order status changed",
		slog.Int64("local_id", localID),
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)),
	)
	d.b.bus.Publish(domain.OrderStatusChanged{Order: o, Status: tr.To, Message: msg, Time: eventTime(r.Time, o)})
}

func (d *dispatcher) OnExecution(r domain.ExecutionReport) {
	defer d.guard("execution")

	localID, ok := d.resolve(r.BrokerID, "execution")
	if !ok {
		return
	}
	if r.ExecID == "" {
		r.ExecID = orders.ExecutionKey(r)
	}
	var tr orders.Transition
	o, err := d.b.mapper.Mutate(localID, func(o *domain.Order) {
		tr = d.b.machine.ApplyExecution(o, r)
	})
	if err != nil {
		return
	}
	if !d.accepted(tr, localID, r.BrokerID, "execution") {
		return
	}

	exec := executionFrom(r, o)
	d.b.ledger.Append(exec)
	holding, cash := d.b.portfolio.ApplyExecution(exec)

	d.b.logger.Info("order filled",
		slog.Int64("local_id", localID),
		slog.String("exec_id", r.ExecID),
		slog.String("quantity", r.Quantity.String()),
		slog.String("price", r.Price.String()),
		slog.String("status", string(tr.To)),
	)
	at := eventTime(r.Time, o)
	d.b.bus.Publish(domain.OrderStatusChanged{
		Order:        o,
		Status:       tr.To,
		FillPrice:    tr.FillPrice,
		FillQuantity: tr.FillQuantity,
		Time:         at,
	})
	d.b.bus.Publish(domain.SecurityHoldingUpdated{Holding: holding, Time: at})
	d.b.bus.Publish(domain.AccountChanged{Currency: cash.Currency, CashBalance: cash.Balance, Time: at})
}

func (d *dispatcher) OnAccountValue(v domain.AccountValue) {
	defer d.guard("account_value")

	change, changed := d.b.portfolio.ApplyAccountValue(v)
	if !changed {
		return
	}
	d.b.bus.Publish(domain.AccountChanged{Currency: change.Currency, CashBalance: change.Balance, Time: v.Time})
}

func (d *dispatcher) OnPosition(p domain.PositionReport) {
	defer d.guard("position")

	h, changed := d.b.portfolio.ApplyPosition(p)
	if !changed {
		return
	}
	d.b.bus.Publish(domain.SecurityHoldingUpdated{Holding: h, Time: p.Time})
}

// OnConnectionLost is handled by the session manager; the dispatcher only
// records it.
func (d *dispatcher) OnConnectionLost(err error) {
	if err != nil {
		d.b.logger.Debug("venue reported connection loss", slog.String("error", err.Error()))
	}
}

// accepted logs discarded notifications and reports whether tr applied.
func (d *dispatcher) accepted(tr orders.Transition, localID, brokerID int64, callback string) bool {
	switch {
	case tr.Verdict == orders.Applied:
		return true
	case tr.Reason == orders.ReasonSubmissionDesync:
		d.b.logger.Error("venue reported activity for an order marked invalid",
			slog.String("callback", callback),
			slog.Int64("local_id", localID),
			slog.Int64("broker_id", brokerID),
			slog.String("reason", tr.Reason),
		)
	case tr.Verdict == orders.Duplicate:
		d.b.logger.Debug("duplicate notification discarded",
			slog.String("callback", callback),
			slog.Int64("local_id", localID),
			slog.Int64("broker_id", brokerID),
			slog.String("reason", tr.Reason),
		)
	default:
		d.b.logger.Warn("invalid transition discarded",
			slog.String("callback", callback),
			slog.Int64("local_id", localID),
			slog.Int64("broker_id", brokerID),
			slog.String("status", string(tr.From)),
			slog.String("reason", tr.Reason),
		)
	}
	return false
}

func executionFrom(r domain.ExecutionReport, o domain.Order) domain.Execution {
	e := domain.Execution{
		ExecID:       r.ExecID,
		BrokerID:     r.BrokerID,
		LocalID:      o.ID,
		Symbol:       r.Symbol,
		SecurityType: r.SecurityType,
		Side:         r.Side,
		Quantity:     r.Quantity,
		Price:        r.Price,
		Commission:   r.Commission,
		Currency:     r.Currency,
		Time:         r.Time,
	}
	if e.Symbol == "" {
		e.Symbol = o.Symbol
	}
	if e.SecurityType == "" {
		e.SecurityType = o.SecurityType
	}
	if e.Side == "" {
		e.Side = o.Side()
	}
	if e.Time.IsZero() {
		e.Time = o.UpdatedAt
	}
	return e
}

func eventTime(reported time.Time, o domain.Order) time.Time {
	if reported.IsZero() {
		return o.UpdatedAt
	}
	return reported
}
