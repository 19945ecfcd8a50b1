package domain

import "github.com/shopspring/decimal"

// Holding is the current position snapshot for one symbol.
type Holding struct {
	Symbol       string
	SecurityType SecurityType
	Quantity     decimal.Decimal // positive long, negative short
	AveragePrice decimal.Decimal
	MarketPrice  decimal.Decimal
	Currency     string
}

// IsLong reports whether the holding is long.
func (h Holding) IsLong() bool {
	return h.Quantity.IsPositive()
}

// IsShort reports whether the holding is short.
func (h Holding) IsShort() bool {
	return h.Quantity.IsNegative()
}

// CashBalance maps a currency code to its amount.
type CashBalance map[string]decimal.Decimal

// Clone returns a copy of the balance map.
func (c CashBalance) Clone() CashBalance {
	out := make(CashBalance, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
