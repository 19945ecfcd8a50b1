// Package ledger keeps the append-only record of fills for the session.
package ledger

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Ledger is safe for concurrent use. It keeps executions twice: in time
// order for queries and in booking order for replay, since holdings average
// prices depend on the order fills were applied in.
type Ledger struct {
	mu     sync.RWMutex
	execs  []domain.Execution
	booked []domain.Execution
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append records e. Executions normally arrive in time order; a late one is
// inserted at its chronological position.
func (l *Ledger) Append(e domain.Execution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.booked = append(l.booked, e)
	n := len(l.execs)
	if n == 0 || !e.Time.Before(l.execs[n-1].Time) {
		l.execs = append(l.execs, e)
		return
	}
	i := sort.Search(n, func(i int) bool { return l.execs[i].Time.After(e.Time) })
	l.execs = append(l.execs, domain.Execution{})
	copy(l.execs[i+1:], l.execs[i:])
	l.execs[i] = e
}

// Query returns the executions matching f in chronological order.
func (l *Ledger) Query(f domain.ExecutionFilter) []domain.Execution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Execution, 0)
	for _, e := range l.execs {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// ForOrder returns the executions recorded against a local order id.
func (l *Ledger) ForOrder(localID int64) []domain.Execution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Execution
	for _, e := range l.execs {
		if e.LocalID == localID {
			out = append(out, e)
		}
	}
	return out
}

// All returns a copy of every execution in chronological order.
func (l *Ledger) All() []domain.Execution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Execution(nil), l.execs...)
}

// Booked returns a copy of every execution in the order it was appended.
// Replaying this sequence reproduces the incrementally maintained portfolio.
func (l *Ledger) Booked() []domain.Execution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Execution(nil), l.booked...)
}

// Len returns the number of recorded executions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.execs)
}
