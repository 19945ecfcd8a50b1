package wsvenue

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

// Message types on the venue socket.
const (
	msgNextValidID      = "next_valid_id"
	msgPlaceOrder       = "place_order"
	msgModifyOrder      = "modify_order"
	msgCancelOrder      = "cancel_order"
	msgSubscribeAccount = "subscribe_account"
	msgOrderStatus      = "order_status"
	msgExecution        = "execution"
	msgAccountValue     = "account_value"
	msgPosition         = "position"
	msgError            = "error"
)

// wireEnvelope is the outer frame of every message in both directions.
type wireEnvelope struct {
	Type    string          `json:"type"`
	ReqID   int64           `json:"req_id,omitempty"`
	OrderID int64           `json:"order_id,omitempty"`
	OrigID  int64           `json:"orig_id,omitempty"`
	Account string          `json:"account,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type wireOrder struct {
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"sec_type"`
	Action       string          `json:"action"` // BUY or SELL
	Quantity     decimal.Decimal `json:"quantity"`
	OrderType    string          `json:"order_type"` // MKT, LMT, STP, STP LMT
	LimitPrice   decimal.Decimal `json:"lmt_price"`
	StopPrice    decimal.Decimal `json:"aux_price"`
	TIF          string          `json:"tif"`
}

type wireOrderStatus struct {
	OrderID      int64           `json:"order_id"`
	Status       string          `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Message      string          `json:"message"`
	Time         time.Time       `json:"time"`
}

type wireExecution struct {
	ExecID       string          `json:"exec_id"`
	OrderID      int64           `json:"order_id"`
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"sec_type"`
	Side         string          `json:"side"` // BOT or SLD
	Shares       decimal.Decimal `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	Commission   decimal.Decimal `json:"commission"`
	Currency     string          `json:"currency"`
	Time         time.Time       `json:"time"`
}

type wireAccountValue struct {
	Key      string          `json:"key"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	Time     time.Time       `json:"time"`
}

type wirePosition struct {
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"sec_type"`
	Position     decimal.Decimal `json:"position"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	MarketPrice  decimal.Decimal `json:"market_price"`
	Currency     string          `json:"currency"`
	Time         time.Time       `json:"time"`
}

type wireError struct {
	OrderID int64  `json:"order_id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// cashBalanceKey is the account value key carrying settled cash.
const cashBalanceKey = "CashBalance"

var secTypes = map[domain.SecurityType]string{
	domain.SecurityTypeForex:  "CASH",
	domain.SecurityTypeEquity: "STK",
	domain.SecurityTypeFuture: "FUT",
	domain.SecurityTypeOption: "OPT",
}

var orderTypes = map[domain.OrderKind]string{
	domain.OrderKindMarket:     "MKT",
	domain.OrderKindLimit:      "LMT",
	domain.OrderKindStopMarket: "STP",
	domain.OrderKindStopLimit:  "STP LMT",
}

// venueStatuses maps venue status strings to order statuses. PreSubmitted
// means the venue holds the order locally, which is still an acknowledgement.
var venueStatuses = map[string]domain.OrderStatus{
	"PreSubmitted":    domain.OrderStatusSubmitted,
	"Submitted":       domain.OrderStatusSubmitted,
	"PartiallyFilled": domain.OrderStatusPartiallyFilled,
	"Filled":          domain.OrderStatusFilled,
	"Cancelled":       domain.OrderStatusCanceled,
	"ApiCancelled":    domain.OrderStatusCanceled,
	"Inactive":        domain.OrderStatusRejected,
}

func toWireOrder(o domain.VenueOrder) wireOrder {
	action := "BUY"
	if o.Side == domain.OrderSideSell {
		action = "SELL"
	}
	return wireOrder{
		Symbol:       o.Symbol,
		SecurityType: secTypes[o.SecurityType],
		Action:       action,
		Quantity:     o.Quantity,
		OrderType:    orderTypes[o.Kind],
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		TIF:          tif(o.TimeInForce),
	}
}

func tif(t domain.TimeInForce) string {
	if t == domain.TimeInForceGTC {
		return "GTC"
	}
	return "DAY"
}

func fromSecType(s string) domain.SecurityType {
	for k, v := range secTypes {
		if v == s {
			return k
		}
	}
	return domain.SecurityType(s)
}

func (w wireOrderStatus) report() (domain.OrderStatusReport, bool) {
	st, ok := venueStatuses[w.Status]
	if !ok {
		return domain.OrderStatusReport{}, false
	}
	return domain.OrderStatusReport{
		BrokerID:     w.OrderID,
		Status:       st,
		Filled:       w.Filled,
		Remaining:    w.Remaining,
		AvgFillPrice: w.AvgFillPrice,
		Message:      w.Message,
		Time:         w.Time,
	}, true
}

func (w wireExecution) report() domain.ExecutionReport {
	side := domain.OrderSideBuy
	if w.Side == "SLD" {
		side = domain.OrderSideSell
	}
	return domain.ExecutionReport{
		ExecID:       w.ExecID,
		BrokerID:     w.OrderID,
		Symbol:       w.Symbol,
		SecurityType: fromSecType(w.SecurityType),
		Side:         side,
		Quantity:     w.Shares,
		Price:        w.Price,
		Commission:   w.Commission,
		Currency:     w.Currency,
		Time:         w.Time,
	}
}

func (w wirePosition) report() domain.PositionReport {
	return domain.PositionReport{
		Symbol:       w.Symbol,
		SecurityType: fromSecType(w.SecurityType),
		Quantity:     w.Position,
		AveragePrice: w.AverageCost,
		MarketPrice:  w.MarketPrice,
		Currency:     w.Currency,
		Time:         w.Time,
	}
}
