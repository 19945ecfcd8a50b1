package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/brokergw/internal/api"
	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Channel and stream names on the signal bus. Channels are per event kind,
// e.g. "events:order_status_changed".
const (
	ChannelPrefix = "events:"
	EventStream   = "events"
)

// SignalSink publishes every event on the signal bus and appends it to the
// bounded event stream.
type SignalSink struct {
	bus     domain.SignalBus
	session string
}

func NewSignalSink(bus domain.SignalBus, session string) *SignalSink {
	return &SignalSink{bus: bus, session: session}
}

func (s *SignalSink) Name() string { return "signal" }

func (s *SignalSink) Handle(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(api.FromEvent(ev, s.session))
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", ev.Kind(), err)
	}
	if err := s.bus.Publish(ctx, ChannelPrefix+string(ev.Kind()), payload); err != nil {
		return err
	}
	return s.bus.StreamAppend(ctx, EventStream, payload)
}

// AuditSink records order and connection events in the audit log. Account
// and holding updates are derivable from the journal and are skipped.
type AuditSink struct {
	store   domain.AuditStore
	session string
}

func NewAuditSink(store domain.AuditStore, session string) *AuditSink {
	return &AuditSink{store: store, session: session}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Handle(ctx context.Context, ev domain.Event) error {
	switch ev.(type) {
	case domain.OrderStatusChanged, domain.ConnectionStateChanged:
	default:
		return nil
	}
	env := api.FromEvent(ev, s.session)
	return s.store.Log(ctx, env.Kind, map[string]any{
		"id":      env.ID,
		"session": env.Session,
		"time":    env.Time,
		"payload": env.Payload,
	})
}

// ExecutionSource exposes the fills recorded against an order.
type ExecutionSource interface {
	OrderExecutions(localID int64) []domain.Execution
}

// JournalSink copies an order's fills to the execution journal whenever a
// fill is published for it. The journal ignores executions it already holds,
// so re-sending earlier fills of the order is harmless and heals a previously
// failed append.
type JournalSink struct {
	journal domain.ExecutionJournal
	source  ExecutionSource
	session string
}

func NewJournalSink(journal domain.ExecutionJournal, source ExecutionSource, session string) *JournalSink {
	return &JournalSink{journal: journal, source: source, session: session}
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Handle(ctx context.Context, ev domain.Event) error {
	e, ok := ev.(domain.OrderStatusChanged)
	if !ok || !e.FillQuantity.IsPositive() {
		return nil
	}
	return s.journal.AppendBatch(ctx, s.session, s.source.OrderExecutions(e.Order.ID))
}
