// Package notify alerts operators about order and session events on chat
// channels (Telegram, Discord). Alerts are filtered by event name so an
// operator can subscribe to fills only, rejections only, and so on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Alert names.
const (
	EventOrderFilled      = "order_filled"
	EventOrderRejected    = "order_rejected"
	EventOrderCanceled    = "order_canceled"
	EventConnectionLost   = "connection_lost"
	EventConnectionFailed = "connection_failed"
)

// DefaultEvents is used when the configuration names none.
var DefaultEvents = []string{EventOrderFilled, EventOrderRejected, EventConnectionFailed}

// Sender delivers an Alert to one chat channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier dispatches alerts to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that forwards only the named alerts. An
// empty events list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// HandleEvent turns a brokerage event into an alert when it is one the
// operator asked for. Other events are ignored.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) error {
	a, ok := Describe(ev)
	if !ok {
		return nil
	}
	if !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}
	return n.dispatch(ctx, a)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
