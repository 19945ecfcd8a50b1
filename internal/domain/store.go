package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Event  string
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of published events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ExecutionJournal appends executions to durable storage. The brokerage never
// reads it back; queries are served from the in-memory ledger. Appends are
// idempotent per (session, exec id).
type ExecutionJournal interface {
	Append(ctx context.Context, sessionID string, exec Execution) error
	AppendBatch(ctx context.Context, sessionID string, execs []Execution) error
	ListSession(ctx context.Context, sessionID string) ([]Execution, error)
}
