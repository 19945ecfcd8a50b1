package portfolio

import "github.com/alanyoungcy/brokergw/internal/domain"

// Input is one replayable mutation. Exactly one field is set.
type Input struct {
	Execution *domain.Execution
	Account   *domain.AccountValue
	Position  *domain.PositionReport
}

// ExecutionInputs wraps a ledger snapshot for Replay.
func ExecutionInputs(execs []domain.Execution) []Input {
	out := make([]Input, len(execs))
	for i := range execs {
		out[i] = Input{Execution: &execs[i]}
	}
	return out
}

// Replay rebuilds a Cache from empty by applying inputs in order.
func Replay(base string, inputs []Input) *Cache {
	c := New(base)
	for _, in := range inputs {
		switch {
		case in.Execution != nil:
			c.ApplyExecution(*in.Execution)
		case in.Account != nil:
			c.ApplyAccountValue(*in.Account)
		case in.Position != nil:
			c.ApplyPosition(*in.Position)
		}
	}
	return c
}
