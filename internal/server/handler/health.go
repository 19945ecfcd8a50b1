package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// Pinger is a dependency whose reachability is reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionReporter exposes the venue session state.
type ConnectionReporter interface {
	ConnectionState() domain.ConnectionState
}

// HealthHandler serves the health-check and connection endpoints.
type HealthHandler struct {
	conn    ConnectionReporter
	deps    map[string]Pinger
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. deps maps a dependency name such
// as "redis" to its pinger; nil entries are skipped.
func NewHealthHandler(conn ConnectionReporter, deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{conn: conn, deps: deps, started: time.Now(), logger: logger}
}

// HealthCheck reports the process as healthy while every dependency answers.
// A disconnected venue does not fail the check; it is reported in the body.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.deps))
	for name, p := range h.deps {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health dependency down", slog.String("dependency", name), slog.String("error", err.Error()))
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":         overall,
		"venue":          h.conn.ConnectionState(),
		"dependencies":   deps,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Connection reports the venue session state.
// GET /api/connection
func (h *HealthHandler) Connection(w http.ResponseWriter, r *http.Request) {
	st := h.conn.ConnectionState()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     st,
		"connected": st == domain.ConnectionConnected,
	})
}
