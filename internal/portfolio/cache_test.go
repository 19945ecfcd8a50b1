package portfolio

import (
	"testing"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(symbol string, side domain.OrderSide, qty, price string) domain.Execution {
	return domain.Execution{
		ExecID:       symbol + qty + price,
		Symbol:       symbol,
		SecurityType: domain.SecurityTypeForex,
		Side:         side,
		Quantity:     d(qty),
		Price:        d(price),
		Currency:     "USD",
		Time:         t0,
	}
}

func TestCache_ApplyExecution(t *testing.T) {
	tests := []struct {
		name    string
		fills   []domain.Execution
		wantQty string
		wantAvg string
		cash    string
	}{
		{
			name:    "open long",
			fills:   []domain.Execution{fill("USDJPY", domain.OrderSideBuy, "100", "150")},
			wantQty: "100", wantAvg: "150", cash: "-15000",
		},
		{
			name: "add to long averages",
			fills: []domain.Execution{
				fill("USDJPY", domain.OrderSideBuy, "100", "150"),
				fill("USDJPY", domain.OrderSideBuy, "100", "152"),
			},
			wantQty: "200", wantAvg: "151", cash: "-30200",
		},
		{
			name: "reduce keeps average",
			fills: []domain.Execution{
				fill("USDJPY", domain.OrderSideBuy, "100", "150"),
				fill("USDJPY", domain.OrderSideSell, "40", "155"),
			},
			wantQty: "60", wantAvg: "150", cash: "-8800",
		},
		{
			name: "flip to short restarts average",
			fills: []domain.Execution{
				fill("USDJPY", domain.OrderSideBuy, "100", "150"),
				fill("USDJPY", domain.OrderSideSell, "150", "149"),
			},
			wantQty: "-50", wantAvg: "149", cash: "7350",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("USD")
			for _, f := range tt.fills {
				c.ApplyExecution(f)
			}
			h, ok := c.Holding("USDJPY")
			if !ok {
				t.Fatal("holding missing")
			}
			if !h.Quantity.Equal(d(tt.wantQty)) || !h.AveragePrice.Equal(d(tt.wantAvg)) {
				t.Errorf("holding = %s @ %s, want %s @ %s", h.Quantity, h.AveragePrice, tt.wantQty, tt.wantAvg)
			}
			if got := c.Cash()["USD"]; !got.Equal(d(tt.cash)) {
				t.Errorf("cash = %s, want %s", got, tt.cash)
			}
		})
	}
}

func TestCache_FlatPositionIsRemoved(t *testing.T) {
	c := New("USD")
	c.ApplyExecution(fill("EURUSD", domain.OrderSideBuy, "10", "1.1"))
	h, _ := c.ApplyExecution(fill("EURUSD", domain.OrderSideSell, "10", "1.2"))
	if !h.Quantity.IsZero() {
		t.Errorf("closing fill returned quantity %s", h.Quantity)
	}
	if _, ok := c.Holding("EURUSD"); ok || len(c.Holdings()) != 0 {
		t.Error("flat holding still listed")
	}
}

func TestCache_CommissionAndDefaultCurrency(t *testing.T) {
	c := New("")
	e := fill("AAPL", domain.OrderSideBuy, "10", "100")
	e.Currency = ""
	e.Commission = d("1.5")
	_, change := c.ApplyExecution(e)
	if change.Currency != DefaultCurrency || !change.Balance.Equal(d("-1001.5")) {
		t.Errorf("cash change = %+v, want USD -1001.5", change)
	}
}

func TestCache_AuthoritativeUpdates(t *testing.T) {
	c := New("USD")
	if _, changed := c.ApplyAccountValue(domain.AccountValue{Currency: "USD", CashBalance: d("1000")}); !changed {
		t.Error("first account value reported unchanged")
	}
	if _, changed := c.ApplyAccountValue(domain.AccountValue{Currency: "USD", CashBalance: d("1000.00")}); changed {
		t.Error("equal account value reported changed")
	}

	p := domain.PositionReport{Symbol: "USDJPY", Quantity: d("100"), AveragePrice: d("150")}
	if _, changed := c.ApplyPosition(p); !changed {
		t.Error("first position reported unchanged")
	}
	if _, changed := c.ApplyPosition(p); changed {
		t.Error("equal position reported changed")
	}
	p.Quantity = decimal.Zero
	if _, changed := c.ApplyPosition(p); !changed {
		t.Error("closing position reported unchanged")
	}
	if len(c.Holdings()) != 0 {
		t.Errorf("Holdings() = %v after flat position report", c.Holdings())
	}
}

func TestCache_SnapshotsAreCopies(t *testing.T) {
	c := New("USD")
	c.ApplyAccountValue(domain.AccountValue{Currency: "USD", CashBalance: d("10")})
	snap := c.Cash()
	snap["USD"] = d("0")
	if !c.Cash()["USD"].Equal(d("10")) {
		t.Error("cash changed through a snapshot")
	}
}

func TestReplay_MatchesIncremental(t *testing.T) {
	opening := domain.AccountValue{Currency: "USD", CashBalance: d("100000")}
	execs := []domain.Execution{
		fill("USDJPY", domain.OrderSideBuy, "100", "150"),
		fill("EURUSD", domain.OrderSideSell, "1000", "1.08"),
		fill("USDJPY", domain.OrderSideSell, "30", "151"),
		fill("USDJPY", domain.OrderSideBuy, "5", "149.5"),
	}

	live := New("USD")
	live.ApplyAccountValue(opening)
	for _, e := range execs {
		live.ApplyExecution(e)
	}

	inputs := append([]Input{{Account: &opening}}, ExecutionInputs(execs)...)
	rebuilt := Replay("USD", inputs)

	lh, rh := live.Holdings(), rebuilt.Holdings()
	if len(lh) != len(rh) {
		t.Fatalf("holdings: live %v, replayed %v", lh, rh)
	}
	for i := range lh {
		if lh[i].Symbol != rh[i].Symbol || !lh[i].Quantity.Equal(rh[i].Quantity) || !lh[i].AveragePrice.Equal(rh[i].AveragePrice) {
			t.Errorf("holding %d: live %+v, replayed %+v", i, lh[i], rh[i])
		}
	}
	for ccy, v := range live.Cash() {
		if !rebuilt.Cash()[ccy].Equal(v) {
			t.Errorf("cash %s: live %s, replayed %s", ccy, v, rebuilt.Cash()[ccy])
		}
	}
}
