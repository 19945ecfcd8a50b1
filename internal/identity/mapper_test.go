package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/shopspring/decimal"
)

func newOrder(qty int64) domain.Order {
	return domain.Order{
		Symbol:   "EURUSD",
		Quantity: decimal.NewFromInt(qty),
		Kind:     domain.OrderKindMarket,
		Status:   domain.OrderStatusCreated,
	}
}

func TestMapper_RegisterAndResolve(t *testing.T) {
	m := NewMapper(time.Minute)
	if err := m.Register(1, newOrder(100)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.BindVenueID(1, 501); err != nil {
		t.Fatalf("BindVenueID: %v", err)
	}

	byLocal, err := m.ResolveByLocalID(1)
	if err != nil {
		t.Fatalf("ResolveByLocalID: %v", err)
	}
	byVenue, err := m.ResolveByBrokerID(501)
	if err != nil {
		t.Fatalf("ResolveByBrokerID: %v", err)
	}
	if byLocal.ID != byVenue.ID || byLocal.CurrentBrokerID() != 501 {
		t.Errorf("resolved %+v and %+v, want the same order bound to 501", byLocal, byVenue)
	}
}

func TestMapper_RegisterRejectsReuse(t *testing.T) {
	m := NewMapper(time.Minute)
	if err := m.Register(7, newOrder(1)); err != nil {
		t.Fatal(err)
	}
	err := m.Register(7, newOrder(2))
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("second Register err = %v, want ErrValidation", err)
	}
	if err := m.Register(0, newOrder(2)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Register(0) err = %v, want ErrValidation", err)
	}
}

func TestMapper_UnknownIDs(t *testing.T) {
	m := NewMapper(time.Minute)
	if _, err := m.ResolveByLocalID(99); !errors.Is(err, domain.ErrUnknownOrder) {
		t.Errorf("ResolveByLocalID err = %v, want ErrUnknownOrder", err)
	}
	if _, err := m.ResolveByBrokerID(99); !errors.Is(err, domain.ErrUnknownOrder) {
		t.Errorf("ResolveByBrokerID err = %v, want ErrUnknownOrder", err)
	}
	if err := m.BindVenueID(99, 1); !errors.Is(err, domain.ErrUnknownOrder) {
		t.Errorf("BindVenueID err = %v, want ErrUnknownOrder", err)
	}
}

func TestMapper_BindVenueIDConflict(t *testing.T) {
	m := NewMapper(time.Minute)
	_ = m.Register(1, newOrder(1))
	_ = m.Register(2, newOrder(1))
	if err := m.BindVenueID(1, 10); err != nil {
		t.Fatal(err)
	}
	if err := m.BindVenueID(2, 10); err == nil {
		t.Error("binding a venue id owned by another order succeeded")
	}
}

func TestMapper_RebindRetainsPreviousID(t *testing.T) {
	now := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	m := NewMapper(time.Minute)
	m.now = func() time.Time { return now }

	_ = m.Register(1, newOrder(100))
	_ = m.BindVenueID(1, 10)
	if err := m.Rebind(1, 11); err != nil {
		t.Fatalf("Rebind: %v", err)
	}

	o, _ := m.ResolveByLocalID(1)
	if got := o.BrokerIDs; len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Fatalf("BrokerIDs = %v, want [10 11]", got)
	}
	for _, id := range []int64{10, 11} {
		if local, err := m.LocalID(id); err != nil || local != 1 {
			t.Errorf("LocalID(%d) = %d, %v; want 1", id, local, err)
		}
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.LocalID(10); !errors.Is(err, domain.ErrUnknownOrder) {
		t.Errorf("replaced id resolved after retention: err = %v", err)
	}
	if local, err := m.LocalID(11); err != nil || local != 1 {
		t.Errorf("current id stopped resolving: %d, %v", local, err)
	}

	m.Cleanup()
	if n := len(m.history); n != 0 {
		t.Errorf("history has %d entries after Cleanup, want 0", n)
	}
}

func TestMapper_Revert(t *testing.T) {
	m := NewMapper(time.Minute)
	_ = m.Register(1, newOrder(100))
	_ = m.BindVenueID(1, 10)
	_ = m.Rebind(1, 11)

	if err := m.Revert(1, 11); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	o, _ := m.ResolveByLocalID(1)
	if o.CurrentBrokerID() != 10 || len(o.BrokerIDs) != 1 {
		t.Errorf("after Revert BrokerIDs = %v, want [10]", o.BrokerIDs)
	}
	if _, err := m.LocalID(11); err == nil {
		t.Error("reverted id still resolves")
	}
	if err := m.Revert(1, 11); err == nil {
		t.Error("reverting a non-current id succeeded")
	}
}

func TestMapper_MutateReturnsCopies(t *testing.T) {
	m := NewMapper(time.Minute)
	_ = m.Register(1, newOrder(100))
	_ = m.BindVenueID(1, 10)

	got, err := m.Mutate(1, func(o *domain.Order) { o.Status = domain.OrderStatusSubmitted })
	if err != nil {
		t.Fatal(err)
	}
	got.BrokerIDs[0] = 999

	stored, _ := m.ResolveByLocalID(1)
	if stored.Status != domain.OrderStatusSubmitted {
		t.Errorf("Status = %s, want submitted", stored.Status)
	}
	if stored.BrokerIDs[0] != 10 {
		t.Errorf("caller mutation leaked into the registry: %v", stored.BrokerIDs)
	}
}

func TestMapper_SelectOrdersByID(t *testing.T) {
	m := NewMapper(time.Minute)
	for _, id := range []int64{3, 1, 2} {
		_ = m.Register(id, newOrder(id))
	}
	got := m.Select(func(o domain.Order) bool { return o.ID != 2 })
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Errorf("Select = %v, want ids [1 3]", got)
	}
}

type stubSource struct {
	byID     map[int64]domain.Order
	byBroker map[int64]domain.Order
}

func (s stubSource) OrderByID(id int64) (domain.Order, bool) {
	o, ok := s.byID[id]
	return o, ok
}

func (s stubSource) OrderByBrokerID(id int64) (domain.Order, bool) {
	o, ok := s.byBroker[id]
	return o, ok
}

func TestMapper_WithSource(t *testing.T) {
	known := newOrder(5)
	known.ID = 4
	src := stubSource{
		byID:     map[int64]domain.Order{4: known},
		byBroker: map[int64]domain.Order{77: known},
	}
	m := NewMapper(time.Minute).WithSource(src)

	if err := m.Register(5, newOrder(5)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Register of an order unknown to the source: err = %v", err)
	}
	if err := m.Register(4, known); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if local, err := m.LocalID(77); err != nil || local != 4 {
		t.Errorf("LocalID(77) via source = %d, %v; want 4", local, err)
	}
}
