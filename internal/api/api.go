// Package api defines the JSON representations of orders, holdings,
// executions and brokerage events shared by the HTTP API, the websocket
// stream and the signal relay.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

type Order struct {
	ID             int64           `json:"id"`
	BrokerIDs      []int64         `json:"broker_ids"`
	Symbol         string          `json:"symbol"`
	SecurityType   string          `json:"security_type"`
	Side           string          `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	Kind           string          `json:"kind"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	TimeInForce    string          `json:"time_in_force"`
	Status         string          `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	Tag            string          `json:"tag,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func FromOrder(o domain.Order) Order {
	ids := o.BrokerIDs
	if ids == nil {
		ids = []int64{}
	}
	return Order{
		ID:             o.ID,
		BrokerIDs:      ids,
		Symbol:         o.Symbol,
		SecurityType:   string(o.SecurityType),
		Side:           string(o.Side()),
		Quantity:       o.Quantity,
		Kind:           string(o.Kind),
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		TimeInForce:    string(o.TimeInForce),
		Status:         string(o.Status),
		FilledQuantity: o.FilledQuantity,
		AvgFillPrice:   o.AvgFillPrice,
		Tag:            o.Tag,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func FromOrders(os []domain.Order) []Order {
	out := make([]Order, len(os))
	for i, o := range os {
		out[i] = FromOrder(o)
	}
	return out
}

type Holding struct {
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"security_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	MarketPrice  decimal.Decimal `json:"market_price"`
	Currency     string          `json:"currency"`
}

func FromHolding(h domain.Holding) Holding {
	return Holding{
		Symbol:       h.Symbol,
		SecurityType: string(h.SecurityType),
		Quantity:     h.Quantity,
		AveragePrice: h.AveragePrice,
		MarketPrice:  h.MarketPrice,
		Currency:     h.Currency,
	}
}

func FromHoldings(hs []domain.Holding) []Holding {
	out := make([]Holding, len(hs))
	for i, h := range hs {
		out[i] = FromHolding(h)
	}
	return out
}

type Execution struct {
	ExecID       string          `json:"exec_id"`
	BrokerID     int64           `json:"broker_id"`
	LocalID      int64           `json:"local_id"`
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"security_type"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Commission   decimal.Decimal `json:"commission"`
	Currency     string          `json:"currency"`
	Time         time.Time       `json:"time"`
}

func FromExecutions(es []domain.Execution) []Execution {
	out := make([]Execution, len(es))
	for i, e := range es {
		out[i] = Execution{
			ExecID:       e.ExecID,
			BrokerID:     e.BrokerID,
			LocalID:      e.LocalID,
			Symbol:       e.Symbol,
			SecurityType: string(e.SecurityType),
			Side:         string(e.Side),
			Quantity:     e.Quantity,
			Price:        e.Price,
			Commission:   e.Commission,
			Currency:     e.Currency,
			Time:         e.Time,
		}
	}
	return out
}

// Event is the envelope every published event is serialised in.
type Event struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Session string    `json:"session,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

type orderStatusPayload struct {
	Order        Order           `json:"order"`
	Status       string          `json:"status"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FillQuantity decimal.Decimal `json:"fill_quantity"`
	Message      string          `json:"message,omitempty"`
}

type accountPayload struct {
	Currency    string          `json:"currency"`
	CashBalance decimal.Decimal `json:"cash_balance"`
}

type connectionPayload struct {
	State    string `json:"state"`
	Previous string `json:"previous"`
	Reason   string `json:"reason,omitempty"`
}

// FromEvent wraps ev in an envelope with a fresh id.
func FromEvent(ev domain.Event, session string) Event {
	out := Event{
		ID:      uuid.NewString(),
		Kind:    string(ev.Kind()),
		Session: session,
		Time:    ev.OccurredAt(),
	}
	switch e := ev.(type) {
	case domain.OrderStatusChanged:
		out.Payload = orderStatusPayload{
			Order:        FromOrder(e.Order),
			Status:       string(e.Status),
			FillPrice:    e.FillPrice,
			FillQuantity: e.FillQuantity,
			Message:      e.Message,
		}
	case domain.AccountChanged:
		out.Payload = accountPayload{Currency: e.Currency, CashBalance: e.CashBalance}
	case domain.SecurityHoldingUpdated:
		out.Payload = FromHolding(e.Holding)
	case domain.ConnectionStateChanged:
		out.Payload = connectionPayload{State: e.State.String(), Previous: e.Previous.String(), Reason: e.Reason}
	default:
		out.Payload = fmt.Sprintf("%v", ev)
	}
	return out
}

// OrderRequest is the body of POST /api/orders and PUT /api/orders/{id}.
// Side and an unsigned quantity may be given instead of a signed quantity.
type OrderRequest struct {
	ID           int64           `json:"id,omitempty"`
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"security_type"`
	Side         string          `json:"side,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Kind         string          `json:"kind"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	TimeInForce  string          `json:"time_in_force"`
	Tag          string          `json:"tag,omitempty"`
}

// ToOrder converts the request into a domain order. Field-level validation
// happens in the brokerage; only the side/quantity combination is checked
// here.
func (r OrderRequest) ToOrder() (domain.Order, error) {
	qty := r.Quantity
	switch strings.ToLower(r.Side) {
	case "":
	case string(domain.OrderSideBuy):
		qty = qty.Abs()
	case string(domain.OrderSideSell):
		qty = qty.Abs().Neg()
	default:
		return domain.Order{}, &domain.ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", r.Side)}
	}
	if r.Side != "" && r.Quantity.IsNegative() {
		return domain.Order{}, &domain.ValidationError{Field: "quantity", Reason: "must be unsigned when side is given"}
	}
	return domain.Order{
		ID:           r.ID,
		Symbol:       strings.ToUpper(strings.TrimSpace(r.Symbol)),
		SecurityType: domain.SecurityType(r.SecurityType),
		Quantity:     qty,
		Kind:         domain.OrderKind(r.Kind),
		LimitPrice:   r.LimitPrice,
		StopPrice:    r.StopPrice,
		TimeInForce:  domain.TimeInForce(r.TimeInForce),
		Tag:          r.Tag,
	}, nil
}
