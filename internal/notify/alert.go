package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Severity orders alerts for channels that render urgency.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// Field is one labelled detail of an alert.
type Field struct {
	Name  string
	Value string
}

// Alert is a rendered brokerage event, ready for any channel.
type Alert struct {
	Event    string
	Title    string
	Summary  string
	Severity Severity
	Fields   []Field
	Time     time.Time
}

// Describe renders ev as an alert. ok is false for events that never alert,
// such as partial fills and account updates.
func Describe(ev domain.Event) (Alert, bool) {
	switch e := ev.(type) {
	case domain.OrderStatusChanged:
		return describeOrder(e)
	case domain.ConnectionStateChanged:
		a := Alert{Time: e.Time, Fields: []Field{{"State", string(e.State)}}}
		switch e.State {
		case domain.ConnectionReconnecting:
			a.Event, a.Title, a.Severity = EventConnectionLost, "Venue connection lost", SeverityWarning
			a.Summary = reasonOr(e.Reason, "reconnecting")
		case domain.ConnectionFailed:
			a.Event, a.Title, a.Severity = EventConnectionFailed, "Venue connection failed", SeverityCritical
			a.Summary = reasonOr(e.Reason, "retries exhausted")
		default:
			return Alert{}, false
		}
		return a, true
	}
	return Alert{}, false
}

func describeOrder(e domain.OrderStatusChanged) (Alert, bool) {
	o := e.Order
	a := Alert{
		Time: e.Time,
		Fields: []Field{
			{"Order", "#" + strconv.FormatInt(o.ID, 10)},
			{"Symbol", o.Symbol},
			{"Side", string(o.Side())},
			{"Quantity", o.AbsQuantity().String()},
		},
	}
	if id := o.CurrentBrokerID(); id != 0 {
		a.Fields = append(a.Fields, Field{"Venue id", strconv.FormatInt(id, 10)})
	}

	switch e.Status {
	case domain.OrderStatusFilled:
		a.Event, a.Title, a.Severity = EventOrderFilled, "Order filled", SeverityInfo
		a.Summary = fmt.Sprintf("#%d %s %s %s @ %s", o.ID, o.Side(), o.AbsQuantity(), o.Symbol, o.AvgFillPrice)
		a.Fields = append(a.Fields, Field{"Average price", o.AvgFillPrice.String()})
	case domain.OrderStatusRejected:
		a.Event, a.Title, a.Severity = EventOrderRejected, "Order rejected", SeverityWarning
		a.Summary = fmt.Sprintf("#%d %s %s %s: %s", o.ID, o.Side(), o.AbsQuantity(), o.Symbol, e.Message)
		a.Fields = append(a.Fields, Field{"Reason", reasonOr(e.Message, "not given")})
	case domain.OrderStatusCanceled:
		a.Event, a.Title, a.Severity = EventOrderCanceled, "Order canceled", SeverityInfo
		a.Summary = fmt.Sprintf("#%d %s %s, filled %s", o.ID, o.Symbol, o.AbsQuantity(), o.FilledQuantity)
		a.Fields = append(a.Fields, Field{"Filled", o.FilledQuantity.String()})
	default:
		return Alert{}, false
	}
	return a, true
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
