// Package portfolio maintains the queryable snapshot of cash and holdings.
// All state is derived: it can be rebuilt from empty with Replay.
package portfolio

import (
	"cmp"
	"slices"
	"sync"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultCurrency books executions that carry no currency.
const DefaultCurrency = "USD"

// Cache is safe for concurrent use. Readers always receive copies.
type Cache struct {
	mu       sync.RWMutex
	base     string
	holdings map[string]domain.Holding
	cash     domain.CashBalance
}

// New creates an empty Cache. base is the currency used for executions that
// do not name one; empty selects DefaultCurrency.
func New(base string) *Cache {
	if base == "" {
		base = DefaultCurrency
	}
	return &Cache{
		base:     base,
		holdings: make(map[string]domain.Holding),
		cash:     make(domain.CashBalance),
	}
}

// CashChange is the new balance of one currency.
type CashChange struct {
	Currency string
	Balance  decimal.Decimal
}

// ApplyExecution books a fill: the holding moves by the signed quantity and
// cash moves by the opposite notional less commission.
func (c *Cache) ApplyExecution(e domain.Execution) (domain.Holding, CashChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ccy := e.Currency
	if ccy == "" {
		ccy = c.base
	}

	h, ok := c.holdings[e.Symbol]
	if !ok {
		h = domain.Holding{Symbol: e.Symbol, SecurityType: e.SecurityType, Currency: ccy}
	}
	h = addFill(h, e.SignedQuantity(), e.Price)
	h.MarketPrice = e.Price
	if h.Quantity.IsZero() {
		delete(c.holdings, e.Symbol)
	} else {
		c.holdings[e.Symbol] = h
	}

	bal := c.cash[ccy].Sub(e.SignedQuantity().Mul(e.Price)).Sub(e.Commission)
	c.cash[ccy] = bal
	return h, CashChange{Currency: ccy, Balance: bal}
}

// addFill returns h after a signed fill. Adding to a position averages the
// price; reducing keeps it; crossing through flat restarts at the fill price.
func addFill(h domain.Holding, qty, price decimal.Decimal) domain.Holding {
	next := h.Quantity.Add(qty)
	switch {
	case next.IsZero():
		h.AveragePrice = decimal.Zero
	case h.Quantity.IsZero() || h.Quantity.IsPositive() == qty.IsPositive():
		h.AveragePrice = h.AveragePrice.Mul(h.Quantity.Abs()).Add(price.Mul(qty.Abs())).Div(next.Abs())
	case h.Quantity.IsPositive() != next.IsPositive():
		h.AveragePrice = price
	}
	h.Quantity = next
	return h
}

// ApplyAccountValue overwrites the balance of one currency with the venue's
// figure. changed is false when the balance already matched.
func (c *Cache) ApplyAccountValue(v domain.AccountValue) (change CashChange, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.cash[v.Currency]
	c.cash[v.Currency] = v.CashBalance
	return CashChange{Currency: v.Currency, Balance: v.CashBalance}, !ok || !prev.Equal(v.CashBalance)
}

// ApplyPosition overwrites the holding of one symbol with the venue's figure.
// changed is false when quantity and average price already matched.
func (c *Cache) ApplyPosition(p domain.PositionReport) (h domain.Holding, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.holdings[p.Symbol]
	h = domain.Holding{
		Symbol:       p.Symbol,
		SecurityType: p.SecurityType,
		Quantity:     p.Quantity,
		AveragePrice: p.AveragePrice,
		MarketPrice:  p.MarketPrice,
		Currency:     p.Currency,
	}
	if h.Currency == "" {
		h.Currency = c.base
	}
	if p.Quantity.IsZero() {
		delete(c.holdings, p.Symbol)
		return h, ok
	}
	c.holdings[p.Symbol] = h
	return h, !ok || !prev.Quantity.Equal(h.Quantity) || !prev.AveragePrice.Equal(h.AveragePrice)
}

// Holdings returns a snapshot of every open position ordered by symbol.
func (c *Cache) Holdings() []domain.Holding {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Holding, 0, len(c.holdings))
	for _, h := range c.holdings {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b domain.Holding) int { return cmp.Compare(a.Symbol, b.Symbol) })
	return out
}

// Holding returns the position in symbol, if any.
func (c *Cache) Holding(symbol string) (domain.Holding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.holdings[symbol]
	return h, ok
}

// Cash returns a snapshot of every currency balance.
func (c *Cache) Cash() domain.CashBalance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cash.Clone()
}
