package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// VenueOrder is the outbound order instruction sent to the venue.
type VenueOrder struct {
	Symbol       string
	SecurityType SecurityType
	Side         OrderSide
	Quantity     decimal.Decimal // magnitude
	Kind         OrderKind
	LimitPrice   decimal.Decimal
	StopPrice    decimal.Decimal
	TimeInForce  TimeInForce
}

// VenueOrderFrom converts a local order into its outbound form.
func VenueOrderFrom(o Order) VenueOrder {
	return VenueOrder{
		Symbol:       o.Symbol,
		SecurityType: o.SecurityType,
		Side:         o.Side(),
		Quantity:     o.AbsQuantity(),
		Kind:         o.Kind,
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		TimeInForce:  o.TimeInForce,
	}
}

// OrderStatusReport is a raw order-status callback. Filled is the cumulative
// quantity the venue believes is filled.
type OrderStatusReport struct {
	BrokerID     int64
	Status       OrderStatus
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	AvgFillPrice decimal.Decimal
	Message      string
	Time         time.Time
}

// ExecutionReport is a raw fill callback.
type ExecutionReport struct {
	ExecID       string
	BrokerID     int64
	Symbol       string
	SecurityType SecurityType
	Side         OrderSide
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Commission   decimal.Decimal
	Currency     string
	Time         time.Time
}

// AccountValue is a raw account update for the cash balance of one currency.
type AccountValue struct {
	Currency    string
	CashBalance decimal.Decimal
	Time        time.Time
}

// PositionReport is a raw holdings update for one symbol.
type PositionReport struct {
	Symbol       string
	SecurityType SecurityType
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	MarketPrice  decimal.Decimal
	Currency     string
	Time         time.Time
}

// VenueListener receives callbacks from a venue session. All calls for one
// session arrive on a single goroutine, in venue order.
type VenueListener interface {
	OnOrderStatus(r OrderStatusReport)
	OnExecution(r ExecutionReport)
	OnAccountValue(v AccountValue)
	OnPosition(p PositionReport)
	// OnConnectionLost reports an unexpected end of the session. It is not
	// called after Disconnect.
	OnConnectionLost(err error)
}

// VenueSession is the transport to the trading venue.
type VenueSession interface {
	// Connect establishes the session and starts delivering callbacks to l.
	// It may be called again after a lost connection.
	Connect(ctx context.Context, l VenueListener) error
	// Disconnect ends the session. It is idempotent.
	Disconnect() error
	// NextOrderID reserves a fresh, non-zero venue order id.
	NextOrderID(ctx context.Context) (int64, error)
	PlaceOrder(ctx context.Context, brokerID int64, o VenueOrder) error
	// ModifyOrder amends the order known as origID; afterwards the venue
	// identifies it as replacementID.
	ModifyOrder(ctx context.Context, origID, replacementID int64, o VenueOrder) error
	CancelOrder(ctx context.Context, brokerID int64) error
}

// OrderIdentitySource is the caller's own order registry.
type OrderIdentitySource interface {
	OrderByID(localID int64) (Order, bool)
	OrderByBrokerID(brokerID int64) (Order, bool)
}
