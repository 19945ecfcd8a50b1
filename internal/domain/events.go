package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names a published domain event.
type EventKind string

const (
	EventOrderStatusChanged     EventKind = "order_status_changed"
	EventAccountChanged         EventKind = "account_changed"
	EventSecurityHoldingUpdated EventKind = "security_holding_updated"
	EventConnectionStateChanged EventKind = "connection_state_changed"
)

// Event is implemented by everything the brokerage publishes to subscribers.
type Event interface {
	Kind() EventKind
	OccurredAt() time.Time
}

// OrderStatusChanged is published after an order transition has been applied.
// FillPrice and FillQuantity are set for fill transitions only.
type OrderStatusChanged struct {
	Order        Order
	Status       OrderStatus
	FillPrice    decimal.Decimal
	FillQuantity decimal.Decimal
	Message      string
	Time         time.Time
}

func (e OrderStatusChanged) Kind() EventKind       { return EventOrderStatusChanged }
func (e OrderStatusChanged) OccurredAt() time.Time { return e.Time }

// AccountChanged carries the new cash balance of one currency.
type AccountChanged struct {
	Currency    string
	CashBalance decimal.Decimal
	Time        time.Time
}

func (e AccountChanged) Kind() EventKind       { return EventAccountChanged }
func (e AccountChanged) OccurredAt() time.Time { return e.Time }

// SecurityHoldingUpdated carries the new holding snapshot of one symbol.
type SecurityHoldingUpdated struct {
	Holding Holding
	Time    time.Time
}

func (e SecurityHoldingUpdated) Kind() EventKind       { return EventSecurityHoldingUpdated }
func (e SecurityHoldingUpdated) OccurredAt() time.Time { return e.Time }

// ConnectionStateChanged is published on every session state transition.
// Reason holds the transport error text, if any.
type ConnectionStateChanged struct {
	State    ConnectionState
	Previous ConnectionState
	Reason   string
	Time     time.Time
}

func (e ConnectionStateChanged) Kind() EventKind       { return EventConnectionStateChanged }
func (e ConnectionStateChanged) OccurredAt() time.Time { return e.Time }
