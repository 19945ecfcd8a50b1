package api

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

func TestOrderRequest_ToOrder(t *testing.T) {
	tests := []struct {
		name    string
		req     OrderRequest
		wantQty string
		wantErr bool
	}{
		{"signed buy", OrderRequest{Quantity: decimal.NewFromInt(100)}, "100", false},
		{"signed sell", OrderRequest{Quantity: decimal.NewFromInt(-100)}, "-100", false},
		{"side sell", OrderRequest{Side: "sell", Quantity: decimal.NewFromInt(25)}, "-25", false},
		{"side BUY", OrderRequest{Side: "BUY", Quantity: decimal.NewFromInt(25)}, "25", false},
		{"side with negative qty", OrderRequest{Side: "buy", Quantity: decimal.NewFromInt(-1)}, "", true},
		{"unknown side", OrderRequest{Side: "short", Quantity: decimal.NewFromInt(1)}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Symbol = " usdjpy "
			o, err := tt.req.ToOrder()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("ToOrder() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToOrder() error = %v", err)
			}
			if o.Quantity.String() != tt.wantQty || o.Symbol != "USDJPY" {
				t.Errorf("ToOrder() = %s %s, want %s USDJPY", o.Quantity, o.Symbol, tt.wantQty)
			}
		})
	}
}

func TestFromEvent(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	ev := domain.OrderStatusChanged{
		Order:        domain.Order{ID: 4, Symbol: "ESZ6", Quantity: decimal.NewFromInt(-2), Status: domain.OrderStatusPartiallyFilled},
		Status:       domain.OrderStatusPartiallyFilled,
		FillQuantity: decimal.NewFromInt(1),
		FillPrice:    decimal.RequireFromString("5800.25"),
		Time:         at,
	}
	raw, err := json.Marshal(FromEvent(ev, "s1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"kind":"order_status_changed"`, `"side":"sell"`, `"fill_price":"5800.25"`, `"broker_ids":[]`, `"session":"s1"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("encoded event %s missing %s", raw, want)
		}
	}

	conn := FromEvent(domain.ConnectionStateChanged{State: domain.ConnectionFailed, Previous: domain.ConnectionReconnecting}, "")
	if p, ok := conn.Payload.(connectionPayload); !ok || p.State != "failed" || p.Previous != "reconnecting" {
		t.Errorf("connection payload = %#v", conn.Payload)
	}
}
