package orders

import (
	"strconv"
	"sync"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Machine applies executions exactly once. Venues re-deliver executions on
// reconnect, so each execution id is remembered for the adapter's lifetime.
type Machine struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMachine creates an empty Machine.
func NewMachine() *Machine {
	return &Machine{seen: make(map[string]struct{})}
}

// Seen reports whether execID was already accepted.
func (m *Machine) Seen(execID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[execID]
	return ok
}

// ExecutionKey identifies rep for deduplication. Reports without a venue
// execution id are keyed by order, time, quantity and price, so a
// re-delivered fill still collapses while distinct fills do not.
func ExecutionKey(rep domain.ExecutionReport) string {
	if rep.ExecID != "" {
		return rep.ExecID
	}
	return "derived:" + strconv.FormatInt(rep.BrokerID, 10) +
		"/" + strconv.FormatInt(rep.Time.UnixNano(), 10) +
		"/" + rep.Quantity.String() +
		"@" + rep.Price.String()
}

// ApplyExecution applies rep to o unless its execution was already
// accepted. The key is only remembered when the fill is Applied, so an
// execution discarded as Invalid can still apply if re-delivered later.
func (m *Machine) ApplyExecution(o *domain.Order, rep domain.ExecutionReport) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ExecutionKey(rep)
	if _, ok := m.seen[key]; ok {
		return skip(o, Duplicate, "execution "+key+" already applied")
	}
	t := ApplyFill(o, rep.Quantity, rep.Price, rep.Time)
	if t.Verdict == Applied {
		m.seen[key] = struct{}{}
	}
	return t
}
