package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Execution is an immutable fill reported by the venue.
type Execution struct {
	ExecID       string
	BrokerID     int64 // venue order id the fill was reported against
	LocalID      int64
	Symbol       string
	SecurityType SecurityType
	Side         OrderSide
	Quantity     decimal.Decimal // magnitude
	Price        decimal.Decimal
	Commission   decimal.Decimal
	Currency     string
	Time         time.Time
}

// SignedQuantity returns the fill quantity signed by side.
func (e Execution) SignedQuantity() decimal.Decimal {
	if e.Side == OrderSideSell {
		return e.Quantity.Neg()
	}
	return e.Quantity
}

// ExecutionFilter scopes ledger queries. Zero values match everything; From
// and To bound the execution time inclusively.
type ExecutionFilter struct {
	Symbol       string
	SecurityType SecurityType
	Side         OrderSide
	From         time.Time
	To           time.Time
}

// Match reports whether e satisfies the filter.
func (f ExecutionFilter) Match(e Execution) bool {
	if f.Symbol != "" && f.Symbol != e.Symbol {
		return false
	}
	if f.SecurityType != "" && f.SecurityType != e.SecurityType {
		return false
	}
	if f.Side != "" && f.Side != e.Side {
		return false
	}
	if !f.From.IsZero() && e.Time.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Time.After(f.To) {
		return false
	}
	return true
}
