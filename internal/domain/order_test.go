package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrder_Side(t *testing.T) {
	tests := []struct {
		qty  int64
		want OrderSide
	}{
		{100, OrderSideBuy},
		{-100, OrderSideSell},
	}
	for _, tt := range tests {
		o := Order{Quantity: decimal.NewFromInt(tt.qty)}
		if got := o.Side(); got != tt.want {
			t.Errorf("Order{Quantity: %d}.Side() = %s, want %s", tt.qty, got, tt.want)
		}
	}
}

func TestOrder_IsOpen(t *testing.T) {
	tests := []struct {
		status OrderStatus
		open   bool
		term   bool
	}{
		{OrderStatusCreated, false, false},
		{OrderStatusSubmitted, true, false},
		{OrderStatusPartiallyFilled, true, false},
		{OrderStatusFilled, false, true},
		{OrderStatusCanceled, false, true},
		{OrderStatusRejected, false, true},
		{OrderStatusInvalid, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			o := Order{Status: tt.status}
			if got := o.IsOpen(); got != tt.open {
				t.Errorf("IsOpen() = %v, want %v", got, tt.open)
			}
			if got := tt.status.IsTerminal(); got != tt.term {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.term)
			}
		})
	}
}

func TestOrder_BrokerIDsAndClone(t *testing.T) {
	o := Order{Quantity: decimal.NewFromInt(-50), FilledQuantity: decimal.NewFromInt(20)}
	if o.CurrentBrokerID() != 0 {
		t.Errorf("CurrentBrokerID() = %d before binding, want 0", o.CurrentBrokerID())
	}
	o.BrokerIDs = []int64{3, 9}
	if o.CurrentBrokerID() != 9 || !o.HasBrokerID(3) || o.HasBrokerID(4) {
		t.Errorf("broker ids misreported for %v", o.BrokerIDs)
	}
	if got := o.RemainingQuantity(); !got.Equal(decimal.NewFromInt(30)) {
		t.Errorf("RemainingQuantity() = %s, want 30", got)
	}

	c := o.Clone()
	c.BrokerIDs[0] = 100
	if o.BrokerIDs[0] != 3 {
		t.Error("Clone shares the BrokerIDs backing array")
	}
}

func TestExecutionFilter_Match(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := Execution{Symbol: "USDJPY", SecurityType: SecurityTypeForex, Side: OrderSideBuy, Time: at}
	tests := []struct {
		name   string
		filter ExecutionFilter
		want   bool
	}{
		{"empty", ExecutionFilter{}, true},
		{"symbol", ExecutionFilter{Symbol: "USDJPY"}, true},
		{"other symbol", ExecutionFilter{Symbol: "EURUSD"}, false},
		{"type", ExecutionFilter{SecurityType: SecurityTypeEquity}, false},
		{"side", ExecutionFilter{Side: OrderSideSell}, false},
		{"inclusive from", ExecutionFilter{From: at}, true},
		{"inclusive to", ExecutionFilter{To: at}, true},
		{"after window", ExecutionFilter{To: at.Add(-time.Second)}, false},
		{"before window", ExecutionFilter{From: at.Add(time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(e); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
