package paper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

// capture records callbacks in arrival order.
type capture struct {
	mu     sync.Mutex
	calls  []string
	execs  []domain.ExecutionReport
	status []domain.OrderStatusReport
	cash   []domain.AccountValue
	lost   chan error
	notify chan struct{}
}

func newCapture() *capture {
	return &capture{lost: make(chan error, 1), notify: make(chan struct{}, 256)}
}

func (c *capture) record(kind string) {
	c.calls = append(c.calls, kind)
	c.notify <- struct{}{}
}

func (c *capture) OnOrderStatus(r domain.OrderStatusReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, r)
	c.record("status:" + string(r.Status))
}

func (c *capture) OnExecution(r domain.ExecutionReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, r)
	c.record("execution")
}

func (c *capture) OnAccountValue(v domain.AccountValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cash = append(c.cash, v)
	c.record("account")
}

func (c *capture) OnPosition(domain.PositionReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("position")
}

func (c *capture) OnConnectionLost(err error) { c.lost <- err }

// waitCalls blocks until n callbacks have arrived.
func (c *capture) waitCalls(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.calls)
		calls := append([]string(nil), c.calls...)
		c.mu.Unlock()
		if got >= n {
			return calls
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out with callbacks %v, want %d", calls, n)
		}
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newVenue(partials int) *Venue {
	return New(Config{
		Currency:     "USD",
		StartingCash: d("100000"),
		Quotes:       map[string]decimal.Decimal{"USDJPY": d("150")},
		PartialFills: partials,
		FirstOrderID: 100,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func buy(qty string, kind domain.OrderKind) domain.VenueOrder {
	return domain.VenueOrder{
		Symbol: "USDJPY", SecurityType: domain.SecurityTypeForex,
		Side: domain.OrderSideBuy, Quantity: d(qty), Kind: kind, TimeInForce: domain.TimeInForceDay,
	}
}

func TestVenue_MarketOrderCallbackOrder(t *testing.T) {
	v := newVenue(1)
	c := newCapture()
	ctx := context.Background()
	if err := v.Connect(ctx, c); err != nil {
		t.Fatal(err)
	}
	defer v.Disconnect()

	id, err := v.NextOrderID(ctx)
	if err != nil || id != 100 {
		t.Fatalf("NextOrderID() = %d, %v; want 100", id, err)
	}
	if err := v.PlaceOrder(ctx, id, buy("100", domain.OrderKindMarket)); err != nil {
		t.Fatal(err)
	}

	got := c.waitCalls(t, 5)
	want := []string{"account", "status:submitted", "execution", "status:filled", "account"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("callbacks = %v, want %v", got, want)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cash[1].CashBalance.Equal(d("85000")) {
		t.Errorf("cash after fill = %s, want 85000", c.cash[1].CashBalance)
	}
}

func TestVenue_PartialFillsSumToQuantity(t *testing.T) {
	v := newVenue(3)
	c := newCapture()
	ctx := context.Background()
	_ = v.Connect(ctx, c)
	defer v.Disconnect()

	id, _ := v.NextOrderID(ctx)
	_ = v.PlaceOrder(ctx, id, buy("100", domain.OrderKindMarket))
	c.waitCalls(t, 1+1+3*2+1)

	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, e := range c.execs {
		total = total.Add(e.Quantity)
	}
	if len(c.execs) != 3 || !total.Equal(d("100")) {
		t.Errorf("%d executions totalling %s, want 3 totalling 100", len(c.execs), total)
	}
}

func TestVenue_LimitRestsUntilQuoteCrosses(t *testing.T) {
	v := newVenue(1)
	c := newCapture()
	ctx := context.Background()
	_ = v.Connect(ctx, c)
	defer v.Disconnect()

	o := buy("10", domain.OrderKindLimit)
	o.LimitPrice = d("149")
	id, _ := v.NextOrderID(ctx)
	_ = v.PlaceOrder(ctx, id, o)
	c.waitCalls(t, 2)

	v.SetQuote("USDJPY", d("148.5"))
	got := c.waitCalls(t, 5)
	if got[2] != "execution" {
		t.Errorf("callbacks = %v, want an execution after the quote crossed", got)
	}
}

func TestVenue_CancelAndModify(t *testing.T) {
	v := newVenue(1)
	c := newCapture()
	ctx := context.Background()
	_ = v.Connect(ctx, c)
	defer v.Disconnect()

	o := buy("10", domain.OrderKindLimit)
	o.LimitPrice = d("1")
	id, _ := v.NextOrderID(ctx)
	_ = v.PlaceOrder(ctx, id, o)

	repl, _ := v.NextOrderID(ctx)
	o.LimitPrice = d("2")
	if err := v.ModifyOrder(ctx, id, repl, o); err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if err := v.CancelOrder(ctx, id); err == nil {
		t.Error("cancel by the replaced id succeeded")
	}
	if err := v.CancelOrder(ctx, repl); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	got := c.waitCalls(t, 4)
	if got[3] != "status:canceled" {
		t.Errorf("callbacks = %v, want canceled last", got)
	}
}

func TestVenue_DropAndReconnect(t *testing.T) {
	v := newVenue(1)
	c := newCapture()
	ctx := context.Background()
	_ = v.Connect(ctx, c)

	v.Drop(errors.New("reset by peer"))
	select {
	case err := <-c.lost:
		if err == nil || err.Error() != "reset by peer" {
			t.Errorf("OnConnectionLost(%v)", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnectionLost not delivered")
	}
	if _, err := v.NextOrderID(ctx); !errors.Is(err, errNotConnected) {
		t.Errorf("NextOrderID after drop = %v, want not connected", err)
	}

	v.FailConnects(1)
	if err := v.Connect(ctx, c); err == nil {
		t.Error("Connect succeeded while failures were scheduled")
	}
	if err := v.Connect(ctx, c); err != nil {
		t.Fatalf("Connect after failures: %v", err)
	}
	_ = v.Disconnect()
	_ = v.Disconnect()
}
