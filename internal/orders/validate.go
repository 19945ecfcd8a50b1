package orders

import (
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Normalize fills defaults on a caller-supplied order.
func Normalize(o *domain.Order) {
	if o.TimeInForce == "" {
		o.TimeInForce = domain.TimeInForceDay
	}
	if o.Kind == "" {
		o.Kind = domain.OrderKindMarket
	}
}

// Validate checks the parameters a caller controls.
func Validate(o domain.Order) error {
	if o.Symbol == "" {
		return &domain.ValidationError{Field: "symbol", Reason: "is required"}
	}
	if o.Quantity.IsZero() {
		return &domain.ValidationError{Field: "quantity", Reason: "must be non-zero"}
	}
	switch o.SecurityType {
	case domain.SecurityTypeForex, domain.SecurityTypeEquity, domain.SecurityTypeFuture, domain.SecurityTypeOption:
	default:
		return &domain.ValidationError{Field: "security_type", Reason: "unsupported " + string(o.SecurityType)}
	}
	switch o.TimeInForce {
	case domain.TimeInForceDay, domain.TimeInForceGTC:
	default:
		return &domain.ValidationError{Field: "time_in_force", Reason: "unsupported " + string(o.TimeInForce)}
	}

	switch o.Kind {
	case domain.OrderKindMarket:
	case domain.OrderKindLimit:
		if !o.LimitPrice.IsPositive() {
			return &domain.ValidationError{Field: "limit_price", Reason: "must be positive for limit orders"}
		}
	case domain.OrderKindStopMarket:
		if !o.StopPrice.IsPositive() {
			return &domain.ValidationError{Field: "stop_price", Reason: "must be positive for stop orders"}
		}
	case domain.OrderKindStopLimit:
		if !o.StopPrice.IsPositive() {
			return &domain.ValidationError{Field: "stop_price", Reason: "must be positive for stop orders"}
		}
		if !o.LimitPrice.IsPositive() {
			return &domain.ValidationError{Field: "limit_price", Reason: "must be positive for stop-limit orders"}
		}
	default:
		return &domain.ValidationError{Field: "kind", Reason: "unsupported " + string(o.Kind)}
	}
	return nil
}

// Amend copies the amendable fields of req onto o. Side, symbol and kind are
// fixed once placed, and the new size may not drop below what already filled.
func Amend(o *domain.Order, req domain.Order, at time.Time) error {
	if o.Status.IsTerminal() {
		return &domain.ValidationError{Field: "status", Reason: "order is " + string(o.Status)}
	}
	if req.Symbol != "" && req.Symbol != o.Symbol {
		return &domain.ValidationError{Field: "symbol", Reason: "cannot change on amendment"}
	}
	if req.Kind != "" && req.Kind != o.Kind {
		return &domain.ValidationError{Field: "kind", Reason: "cannot change on amendment"}
	}

	next := o.Clone()
	if !req.Quantity.IsZero() {
		if req.Quantity.IsNegative() != o.Quantity.IsNegative() {
			return &domain.ValidationError{Field: "quantity", Reason: "cannot flip side on amendment"}
		}
		if req.Quantity.Abs().LessThanOrEqual(o.FilledQuantity) {
			return &domain.ValidationError{Field: "quantity", Reason: "must exceed filled quantity"}
		}
		next.Quantity = req.Quantity
	}
	if !req.LimitPrice.IsZero() {
		next.LimitPrice = req.LimitPrice
	}
	if !req.StopPrice.IsZero() {
		next.StopPrice = req.StopPrice
	}
	if req.TimeInForce != "" {
		next.TimeInForce = req.TimeInForce
	}
	if req.Tag != "" {
		next.Tag = req.Tag
	}
	if err := Validate(next); err != nil {
		return err
	}
	next.UpdatedAt = at
	*o = next
	return nil
}
