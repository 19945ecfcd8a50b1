// Package orders implements the order lifecycle. Transition functions mutate
// an order in place and report a Verdict; they never return errors because a
// notification that does not fit the current state is expected under venue
// races and is discarded by the caller.
package orders

import (
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

// Verdict classifies the outcome of applying a notification to an order.
type Verdict int

const (
	// Applied means the order changed and an event should be published.
	Applied Verdict = iota
	// Duplicate means the notification was already reflected in the order.
	Duplicate
	// Invalid means the notification contradicts the order's known state.
	Invalid
)

func (v Verdict) String() string {
	switch v {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Transition describes one application of a notification.
type Transition struct {
	Verdict      Verdict
	From         domain.OrderStatus
	To           domain.OrderStatus
	FillQuantity decimal.Decimal
	FillPrice    decimal.Decimal
	Reason       string
}

func applied(o *domain.Order, from domain.OrderStatus, at time.Time) Transition {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	o.UpdatedAt = at
	return Transition{Verdict: Applied, From: from, To: o.Status}
}

func skip(o *domain.Order, v Verdict, reason string) Transition {
	return Transition{Verdict: v, From: o.Status, To: o.Status, Reason: reason}
}

// ReasonSubmissionDesync marks venue activity for an order the gateway
// invalidated after its submission failed. The venue received the order
// after all; its fills are not booked and need reconciliation.
const ReasonSubmissionDesync = "venue activity on order that failed submission"

// closed classifies a notification for a terminal order.
func closed(o *domain.Order) Transition {
	if o.Status == domain.OrderStatusInvalid {
		return skip(o, Invalid, ReasonSubmissionDesync)
	}
	return skip(o, Duplicate, "order already "+string(o.Status))
}

// ApplyStatus applies a venue order-status report. Fill-type reports never
// move quantities: executions do. A fill report ahead of the known filled
// quantity is left for its execution to apply.
func ApplyStatus(o *domain.Order, rep domain.OrderStatusReport) Transition {
	from := o.Status
	if from.IsTerminal() {
		return closed(o)
	}

	switch rep.Status {
	case domain.OrderStatusSubmitted:
		if from != domain.OrderStatusCreated {
			return skip(o, Duplicate, "already acknowledged")
		}
		o.Status = domain.OrderStatusSubmitted
		return applied(o, from, rep.Time)

	case domain.OrderStatusCanceled:
		if !o.IsOpen() {
			return skip(o, Invalid, "cancel confirmation before acknowledgement")
		}
		o.Status = domain.OrderStatusCanceled
		return applied(o, from, rep.Time)

	case domain.OrderStatusRejected:
		if from == domain.OrderStatusPartiallyFilled {
			return skip(o, Invalid, "rejection after partial fill")
		}
		o.Status = domain.OrderStatusRejected
		t := applied(o, from, rep.Time)
		t.Reason = rep.Message
		return t

	case domain.OrderStatusPartiallyFilled, domain.OrderStatusFilled:
		if from == domain.OrderStatusCreated {
			return skip(o, Invalid, "fill report before acknowledgement")
		}
		if rep.Filled.LessThanOrEqual(o.FilledQuantity) {
			return skip(o, Duplicate, "fill already applied")
		}
		return skip(o, Duplicate, "awaiting execution")

	default:
		return skip(o, Invalid, "unexpected status "+string(rep.Status))
	}
}

// ApplyFill adds one execution to the order. Fills on unacknowledged orders
// and fills beyond the requested quantity are Invalid.
func ApplyFill(o *domain.Order, qty, price decimal.Decimal, at time.Time) Transition {
	from := o.Status
	switch {
	case from.IsTerminal():
		return closed(o)
	case from == domain.OrderStatusCreated:
		return skip(o, Invalid, "fill before acknowledgement")
	case !qty.IsPositive():
		return skip(o, Invalid, "non-positive fill quantity")
	case qty.GreaterThan(o.RemainingQuantity()):
		return skip(o, Invalid, "fill exceeds remaining quantity")
	}

	filled := o.FilledQuantity.Add(qty)
	o.AvgFillPrice = o.AvgFillPrice.Mul(o.FilledQuantity).Add(price.Mul(qty)).Div(filled)
	o.FilledQuantity = filled
	if filled.Equal(o.AbsQuantity()) {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}

	t := applied(o, from, at)
	t.FillQuantity = qty
	t.FillPrice = price
	return t
}

// MarkInvalid moves an order that failed validation or submission to Invalid.
func MarkInvalid(o *domain.Order, reason string, at time.Time) Transition {
	from := o.Status
	if from.IsTerminal() {
		return skip(o, Duplicate, "order already "+string(from))
	}
	o.Status = domain.OrderStatusInvalid
	t := applied(o, from, at)
	t.Reason = reason
	return t
}
