package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell. It is derived from the
// sign of Order.Quantity and never stored separately.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderKind selects the pricing behaviour of an order.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "market"
	OrderKindLimit      OrderKind = "limit"
	OrderKindStopMarket OrderKind = "stop_market"
	OrderKindStopLimit  OrderKind = "stop_limit"
)

// TimeInForce indicates how long an order rests at the venue.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
)

// SecurityType classifies the traded instrument.
type SecurityType string

const (
	SecurityTypeForex  SecurityType = "forex"
	SecurityTypeEquity SecurityType = "equity"
	SecurityTypeFuture SecurityType = "future"
	SecurityTypeOption SecurityType = "option"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusInvalid         OrderStatus = "invalid"
)

// IsTerminal reports whether no further transition is expected from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusInvalid:
		return true
	default:
		return false
	}
}

// Order represents a trading instruction owned by the brokerage once placed.
// Quantity is signed: positive buys, negative sells.
type Order struct {
	ID             int64   // local id, assigned once
	BrokerIDs      []int64 // venue ids in assignment order; the last one is current
	Symbol         string
	SecurityType   SecurityType
	Quantity       decimal.Decimal
	Kind           OrderKind
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	TimeInForce    TimeInForce
	Status         OrderStatus
	FilledQuantity decimal.Decimal // magnitude, never signed
	AvgFillPrice   decimal.Decimal
	Tag            string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Side returns the order direction implied by the quantity sign.
func (o Order) Side() OrderSide {
	if o.Quantity.IsNegative() {
		return OrderSideSell
	}
	return OrderSideBuy
}

// AbsQuantity returns the requested quantity magnitude.
func (o Order) AbsQuantity() decimal.Decimal {
	return o.Quantity.Abs()
}

// RemainingQuantity returns the unfilled quantity magnitude.
func (o Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Abs().Sub(o.FilledQuantity)
}

// IsOpen reports whether the order is still working at the venue.
func (o Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusSubmitted, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// CurrentBrokerID returns the venue id currently identifying the order, or 0
// if the venue has not assigned one yet.
func (o Order) CurrentBrokerID() int64 {
	if len(o.BrokerIDs) == 0 {
		return 0
	}
	return o.BrokerIDs[len(o.BrokerIDs)-1]
}

// HasBrokerID reports whether id was ever assigned to this order.
func (o Order) HasBrokerID(id int64) bool {
	for _, b := range o.BrokerIDs {
		if b == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers.
func (o Order) Clone() Order {
	c := o
	if o.BrokerIDs != nil {
		c.BrokerIDs = append([]int64(nil), o.BrokerIDs...)
	}
	return c
}
