// Package identity maintains the registry of placed orders keyed by local id
// together with a bidirectional index to venue-assigned ids.
package identity

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// DefaultRetention is how long a replaced venue id keeps resolving.
const DefaultRetention = 5 * time.Minute

// retired is a venue id that was replaced by an amendment.
type retired struct {
	localID int64
	expires time.Time
}

// Mapper is safe for concurrent use. Orders are stored by value; callers
// always receive copies.
type Mapper struct {
	mu        sync.RWMutex
	orders    map[int64]*domain.Order
	byBroker  map[int64]int64 // current venue id -> local id
	history   map[int64]retired
	retention time.Duration
	source    domain.OrderIdentitySource
	now       func() time.Time
}

// NewMapper creates a Mapper that keeps replaced venue ids resolvable for
// retention. A non-positive retention selects DefaultRetention.
func NewMapper(retention time.Duration) *Mapper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Mapper{
		orders:    make(map[int64]*domain.Order),
		byBroker:  make(map[int64]int64),
		history:   make(map[int64]retired),
		retention: retention,
		now:       time.Now,
	}
}

// WithSource attaches the caller's order registry. Register then requires the
// caller to know the order, and venue-id misses fall back to the source.
func (m *Mapper) WithSource(src domain.OrderIdentitySource) *Mapper {
	m.source = src
	return m
}

// Register stores o under localID before submission. Local ids are never
// reused, so registering an id twice is a validation failure.
func (m *Mapper) Register(localID int64, o domain.Order) error {
	if localID <= 0 {
		return &domain.ValidationError{Field: "id", Reason: "must be positive"}
	}
	if m.source != nil {
		if _, ok := m.source.OrderByID(localID); !ok {
			return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("%d not known to the order source", localID)}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[localID]; exists {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("%d already registered", localID)}
	}
	c := o.Clone()
	c.ID = localID
	m.orders[localID] = &c
	for _, id := range c.BrokerIDs {
		m.byBroker[id] = localID
	}
	return nil
}

// BindVenueID attaches the first venue id to a registered order.
func (m *Mapper) BindVenueID(localID, brokerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[localID]
	if !ok {
		return &domain.UnknownOrderError{LocalID: localID}
	}
	if owner, taken := m.byBroker[brokerID]; taken && owner != localID {
		return fmt.Errorf("identity: broker id %d already bound to order %d", brokerID, owner)
	}
	if !o.HasBrokerID(brokerID) {
		o.BrokerIDs = append(o.BrokerIDs, brokerID)
	}
	m.byBroker[brokerID] = localID
	return nil
}

// Rebind makes brokerID the current venue id of localID after an amendment.
// The previous id keeps resolving until the retention window elapses.
func (m *Mapper) Rebind(localID, brokerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[localID]
	if !ok {
		return &domain.UnknownOrderError{LocalID: localID}
	}
	now := m.now()
	m.sweepLocked(now)

	if prev := o.CurrentBrokerID(); prev != 0 && prev != brokerID {
		delete(m.byBroker, prev)
		m.history[prev] = retired{localID: localID, expires: now.Add(m.retention)}
	}
	o.BrokerIDs = append(o.BrokerIDs, brokerID)
	m.byBroker[brokerID] = localID
	return nil
}

// Revert undoes a Rebind whose amendment never reached the venue, restoring
// the previous id as current.
func (m *Mapper) Revert(localID, brokerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[localID]
	if !ok {
		return &domain.UnknownOrderError{LocalID: localID}
	}
	if o.CurrentBrokerID() != brokerID {
		return fmt.Errorf("identity: broker id %d is not current for order %d", brokerID, localID)
	}
	o.BrokerIDs = o.BrokerIDs[:len(o.BrokerIDs)-1]
	delete(m.byBroker, brokerID)
	if prev := o.CurrentBrokerID(); prev != 0 {
		delete(m.history, prev)
		m.byBroker[prev] = localID
	}
	return nil
}

// ResolveByLocalID returns a copy of the order registered under localID.
func (m *Mapper) ResolveByLocalID(localID int64) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[localID]
	if !ok {
		return domain.Order{}, &domain.UnknownOrderError{LocalID: localID}
	}
	return o.Clone(), nil
}

// ResolveByBrokerID returns a copy of the order identified by a current or
// recently replaced venue id.
func (m *Mapper) ResolveByBrokerID(brokerID int64) (domain.Order, error) {
	localID, err := m.LocalID(brokerID)
	if err != nil {
		return domain.Order{}, err
	}
	return m.ResolveByLocalID(localID)
}

// LocalID maps a venue id to its local id.
func (m *Mapper) LocalID(brokerID int64) (int64, error) {
	m.mu.RLock()
	localID, ok := m.lookupLocked(brokerID)
	m.mu.RUnlock()
	if ok {
		return localID, nil
	}

	// The caller may know a binding we missed, e.g. after an amendment that
	// outlived the retention window.
	if m.source != nil {
		if o, found := m.source.OrderByBrokerID(brokerID); found {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, registered := m.orders[o.ID]; registered {
				m.history[brokerID] = retired{localID: o.ID, expires: m.now().Add(m.retention)}
				return o.ID, nil
			}
		}
	}
	return 0, &domain.UnknownOrderError{BrokerID: brokerID}
}

func (m *Mapper) lookupLocked(brokerID int64) (int64, bool) {
	if localID, ok := m.byBroker[brokerID]; ok {
		return localID, true
	}
	if r, ok := m.history[brokerID]; ok && m.now().Before(r.expires) {
		return r.localID, true
	}
	return 0, false
}

// Mutate runs fn against the stored order under the write lock. fn must not
// call back into the Mapper. The returned copy reflects fn's changes.
func (m *Mapper) Mutate(localID int64, fn func(o *domain.Order)) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[localID]
	if !ok {
		return domain.Order{}, &domain.UnknownOrderError{LocalID: localID}
	}
	fn(o)
	return o.Clone(), nil
}

// Select returns copies of every order accepted by keep, ordered by local id.
func (m *Mapper) Select(keep func(o domain.Order) bool) []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range m.orders {
		if keep == nil || keep(*o) {
			out = append(out, o.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of registered orders.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// Cleanup removes replaced venue ids whose retention has elapsed. Rebind also
// sweeps, so history stays bounded even if Cleanup is never called.
func (m *Mapper) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
}

func (m *Mapper) sweepLocked(now time.Time) {
	for id, r := range m.history {
		if !now.Before(r.expires) {
			delete(m.history, id)
		}
	}
}
