package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func order(status domain.OrderStatus, qty string) domain.Order {
	return domain.Order{
		ID:           1,
		BrokerIDs:    []int64{10},
		Symbol:       "USDJPY",
		SecurityType: domain.SecurityTypeForex,
		Quantity:     d(qty),
		Kind:         domain.OrderKindMarket,
		TimeInForce:  domain.TimeInForceDay,
		Status:       status,
	}
}

func TestApplyStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.OrderStatus
		report  domain.OrderStatus
		filled  string
		verdict Verdict
		to      domain.OrderStatus
	}{
		{"ack", domain.OrderStatusCreated, domain.OrderStatusSubmitted, "0", Applied, domain.OrderStatusSubmitted},
		{"repeated ack", domain.OrderStatusSubmitted, domain.OrderStatusSubmitted, "0", Duplicate, domain.OrderStatusSubmitted},
		{"cancel working", domain.OrderStatusSubmitted, domain.OrderStatusCanceled, "0", Applied, domain.OrderStatusCanceled},
		{"cancel partial", domain.OrderStatusPartiallyFilled, domain.OrderStatusCanceled, "0", Applied, domain.OrderStatusCanceled},
		{"cancel before ack", domain.OrderStatusCreated, domain.OrderStatusCanceled, "0", Invalid, domain.OrderStatusCreated},
		{"cancel after fill", domain.OrderStatusFilled, domain.OrderStatusCanceled, "0", Duplicate, domain.OrderStatusFilled},
		{"reject working", domain.OrderStatusSubmitted, domain.OrderStatusRejected, "0", Applied, domain.OrderStatusRejected},
		{"reject on placement", domain.OrderStatusCreated, domain.OrderStatusRejected, "0", Applied, domain.OrderStatusRejected},
		{"reject partial", domain.OrderStatusPartiallyFilled, domain.OrderStatusRejected, "0", Invalid, domain.OrderStatusPartiallyFilled},
		{"fill report before ack", domain.OrderStatusCreated, domain.OrderStatusFilled, "100", Invalid, domain.OrderStatusCreated},
		{"fill report ahead of execution", domain.OrderStatusSubmitted, domain.OrderStatusFilled, "100", Duplicate, domain.OrderStatusSubmitted},
		{"filled twice", domain.OrderStatusFilled, domain.OrderStatusFilled, "100", Duplicate, domain.OrderStatusFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := order(tt.from, "100")
			if tt.from == domain.OrderStatusFilled {
				o.FilledQuantity = d("100")
			}
			got := ApplyStatus(&o, domain.OrderStatusReport{BrokerID: 10, Status: tt.report, Filled: d(tt.filled), Time: t0})
			if got.Verdict != tt.verdict {
				t.Errorf("Verdict = %s, want %s (%s)", got.Verdict, tt.verdict, got.Reason)
			}
			if o.Status != tt.to {
				t.Errorf("Status = %s, want %s", o.Status, tt.to)
			}
		})
	}
}

func TestApplyFill_PartialThenFull(t *testing.T) {
	o := order(domain.OrderStatusSubmitted, "-100")

	tr := ApplyFill(&o, d("40"), d("150.10"), t0)
	if tr.Verdict != Applied || o.Status != domain.OrderStatusPartiallyFilled {
		t.Fatalf("first fill: verdict %s status %s", tr.Verdict, o.Status)
	}
	if !tr.FillQuantity.Equal(d("40")) || !tr.FillPrice.Equal(d("150.10")) {
		t.Errorf("transition fill = %s @ %s", tr.FillQuantity, tr.FillPrice)
	}

	tr = ApplyFill(&o, d("60"), d("150.20"), t0.Add(time.Second))
	if tr.Verdict != Applied || o.Status != domain.OrderStatusFilled {
		t.Fatalf("second fill: verdict %s status %s", tr.Verdict, o.Status)
	}
	if !o.FilledQuantity.Equal(d("100")) {
		t.Errorf("FilledQuantity = %s, want 100", o.FilledQuantity)
	}
	if want := d("150.16"); !o.AvgFillPrice.Equal(want) {
		t.Errorf("AvgFillPrice = %s, want %s", o.AvgFillPrice, want)
	}

	if tr := ApplyFill(&o, d("1"), d("150"), t0); tr.Verdict != Duplicate {
		t.Errorf("fill on filled order verdict = %s, want duplicate", tr.Verdict)
	}
}

func TestApplyFill_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		status domain.OrderStatus
		qty    string
	}{
		{"before ack", domain.OrderStatusCreated, "10"},
		{"overfill", domain.OrderStatusSubmitted, "101"},
		{"zero", domain.OrderStatusSubmitted, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := order(tt.status, "100")
			tr := ApplyFill(&o, d(tt.qty), d("1"), t0)
			if tr.Verdict != Invalid {
				t.Errorf("Verdict = %s, want invalid", tr.Verdict)
			}
			if o.Status != tt.status || !o.FilledQuantity.IsZero() {
				t.Errorf("order changed: status %s filled %s", o.Status, o.FilledQuantity)
			}
		})
	}
}

func TestInvalidOrderFlagsVenueActivity(t *testing.T) {
	o := order(domain.OrderStatusInvalid, "100")
	if tr := ApplyFill(&o, d("10"), d("1"), t0); tr.Verdict != Invalid || tr.Reason != ReasonSubmissionDesync {
		t.Errorf("fill on invalid order: %s (%s)", tr.Verdict, tr.Reason)
	}
	rep := domain.OrderStatusReport{BrokerID: 10, Status: domain.OrderStatusSubmitted, Time: t0}
	if tr := ApplyStatus(&o, rep); tr.Reason != ReasonSubmissionDesync {
		t.Errorf("ack on invalid order reason = %q", tr.Reason)
	}
	if o.Status != domain.OrderStatusInvalid || !o.FilledQuantity.IsZero() {
		t.Errorf("invalid order changed: %s filled %s", o.Status, o.FilledQuantity)
	}

	canceled := order(domain.OrderStatusCanceled, "100")
	if tr := ApplyFill(&canceled, d("10"), d("1"), t0); tr.Verdict != Duplicate {
		t.Errorf("fill on canceled order verdict = %s, want duplicate", tr.Verdict)
	}
}

func TestMachine_DeduplicatesExecutions(t *testing.T) {
	m := NewMachine()
	o := order(domain.OrderStatusSubmitted, "100")
	rep := domain.ExecutionReport{ExecID: "e1", BrokerID: 10, Quantity: d("100"), Price: d("151"), Time: t0}

	if tr := m.ApplyExecution(&o, rep); tr.Verdict != Applied {
		t.Fatalf("first delivery verdict = %s", tr.Verdict)
	}
	if tr := m.ApplyExecution(&o, rep); tr.Verdict != Duplicate {
		t.Errorf("redelivery verdict = %s, want duplicate", tr.Verdict)
	}
	if !m.Seen("e1") {
		t.Error("Seen(e1) = false after apply")
	}
}

func TestMachine_ExecutionsWithoutID(t *testing.T) {
	m := NewMachine()
	o := order(domain.OrderStatusSubmitted, "100")
	first := domain.ExecutionReport{BrokerID: 10, Quantity: d("40"), Price: d("150"), Time: t0}
	second := domain.ExecutionReport{BrokerID: 10, Quantity: d("60"), Price: d("150"), Time: t0}

	if tr := m.ApplyExecution(&o, first); tr.Verdict != Applied {
		t.Fatalf("first fill verdict = %s", tr.Verdict)
	}
	if tr := m.ApplyExecution(&o, first); tr.Verdict != Duplicate {
		t.Errorf("redelivered fill verdict = %s, want duplicate", tr.Verdict)
	}
	if tr := m.ApplyExecution(&o, second); tr.Verdict != Applied {
		t.Fatalf("second fill verdict = %s, want applied", tr.Verdict)
	}
	if o.Status != domain.OrderStatusFilled || !o.FilledQuantity.Equal(d("100")) {
		t.Errorf("order %s filled %s, want filled 100", o.Status, o.FilledQuantity)
	}
	if ExecutionKey(first) == ExecutionKey(second) {
		t.Error("distinct fills share a key")
	}
	if got := ExecutionKey(domain.ExecutionReport{ExecID: "e9"}); got != "e9" {
		t.Errorf("ExecutionKey = %q, want the venue id", got)
	}
}

func TestMachine_InvalidExecutionNotRemembered(t *testing.T) {
	m := NewMachine()
	o := order(domain.OrderStatusCreated, "100")
	rep := domain.ExecutionReport{ExecID: "e1", Quantity: d("100"), Price: d("1"), Time: t0}

	if tr := m.ApplyExecution(&o, rep); tr.Verdict != Invalid {
		t.Fatalf("verdict = %s, want invalid", tr.Verdict)
	}
	o.Status = domain.OrderStatusSubmitted
	if tr := m.ApplyExecution(&o, rep); tr.Verdict != Applied {
		t.Errorf("redelivery after ack verdict = %s, want applied", tr.Verdict)
	}
}

func TestMarkInvalid(t *testing.T) {
	o := order(domain.OrderStatusCreated, "5")
	if tr := MarkInvalid(&o, "venue unreachable", t0); tr.Verdict != Applied || o.Status != domain.OrderStatusInvalid {
		t.Errorf("MarkInvalid = %s, status %s", tr.Verdict, o.Status)
	}
	if tr := MarkInvalid(&o, "again", t0); tr.Verdict != Duplicate {
		t.Errorf("second MarkInvalid verdict = %s, want duplicate", tr.Verdict)
	}
}

func TestValidate(t *testing.T) {
	base := order(domain.OrderStatusCreated, "100")
	tests := []struct {
		name  string
		edit  func(o *domain.Order)
		field string
	}{
		{"ok market", func(o *domain.Order) {}, ""},
		{"missing symbol", func(o *domain.Order) { o.Symbol = "" }, "symbol"},
		{"zero quantity", func(o *domain.Order) { o.Quantity = decimal.Zero }, "quantity"},
		{"unknown security", func(o *domain.Order) { o.SecurityType = "crypto" }, "security_type"},
		{"limit without price", func(o *domain.Order) { o.Kind = domain.OrderKindLimit }, "limit_price"},
		{"stop without price", func(o *domain.Order) { o.Kind = domain.OrderKindStopMarket }, "stop_price"},
		{"stop limit without limit", func(o *domain.Order) {
			o.Kind = domain.OrderKindStopLimit
			o.StopPrice = d("1")
		}, "limit_price"},
		{"bad tif", func(o *domain.Order) { o.TimeInForce = "ioc" }, "time_in_force"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base.Clone()
			tt.edit(&o)
			err := Validate(o)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("Validate() = %v, want ValidationError on %s", err, tt.field)
			}
		})
	}
}

func TestAmend(t *testing.T) {
	o := order(domain.OrderStatusPartiallyFilled, "100")
	o.Kind = domain.OrderKindLimit
	o.LimitPrice = d("150")
	o.FilledQuantity = d("30")

	if err := Amend(&o, domain.Order{Quantity: d("20")}, t0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("shrinking below filled: err = %v", err)
	}
	if err := Amend(&o, domain.Order{Quantity: d("-100")}, t0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("flipping side: err = %v", err)
	}
	if err := Amend(&o, domain.Order{Quantity: d("80"), LimitPrice: d("149.5")}, t0); err != nil {
		t.Fatalf("Amend: %v", err)
	}
	if !o.Quantity.Equal(d("80")) || !o.LimitPrice.Equal(d("149.5")) {
		t.Errorf("after amend qty %s limit %s", o.Quantity, o.LimitPrice)
	}

	o.Status = domain.OrderStatusFilled
	if err := Amend(&o, domain.Order{LimitPrice: d("1")}, t0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("amending a filled order: err = %v", err)
	}
}
