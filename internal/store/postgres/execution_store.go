package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// ExecutionStore implements domain.ExecutionJournal. Re-delivered executions
// of the same session are ignored by the primary key.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const insertExecution = `
	INSERT INTO executions (
		session_id, exec_id, broker_id, local_id,
		symbol, security_type, side,
		quantity, price, commission, currency, executed_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7,
		$8, $9, $10, $11, $12
	) ON CONFLICT (session_id, exec_id) DO NOTHING`

func executionArgs(sessionID string, e domain.Execution) []any {
	return []any{
		sessionID, e.ExecID, e.BrokerID, e.LocalID,
		e.Symbol, string(e.SecurityType), string(e.Side),
		e.Quantity, e.Price, e.Commission, e.Currency, e.Time,
	}
}

// Append journals one execution.
func (s *ExecutionStore) Append(ctx context.Context, sessionID string, e domain.Execution) error {
	if _, err := s.pool.Exec(ctx, insertExecution, executionArgs(sessionID, e)...); err != nil {
		return fmt.Errorf("postgres: append execution %s: %w", e.ExecID, err)
	}
	return nil
}

// AppendBatch journals several executions in one round trip.
func (s *ExecutionStore) AppendBatch(ctx context.Context, sessionID string, execs []domain.Execution) error {
	if len(execs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range execs {
		batch.Queue(insertExecution, executionArgs(sessionID, e)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range execs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append execution batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListSession returns the journaled executions of one session in time order.
func (s *ExecutionStore) ListSession(ctx context.Context, sessionID string) ([]domain.Execution, error) {
	const query = `
		SELECT exec_id, broker_id, local_id, symbol, security_type, side,
		       quantity, price, commission, currency, executed_at
		FROM executions WHERE session_id = $1
		ORDER BY executed_at, exec_id`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	out := []domain.Execution{}
	for rows.Next() {
		var (
			e       domain.Execution
			secType string
			side    string
		)
		if err := rows.Scan(
			&e.ExecID, &e.BrokerID, &e.LocalID, &e.Symbol, &secType, &side,
			&e.Quantity, &e.Price, &e.Commission, &e.Currency, &e.Time,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		e.SecurityType = domain.SecurityType(secType)
		e.Side = domain.OrderSide(side)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}

var _ domain.ExecutionJournal = (*ExecutionStore)(nil)
