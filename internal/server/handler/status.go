package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves static facts about the running gateway.
type StatusHandler struct {
	Mode      string
	Account   string
	Session   string
	StartedAt time.Time
}

// GetStatus responds with the gateway mode, account and session id.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       h.Mode,
		"account":    h.Account,
		"session":    h.Session,
		"started_at": h.StartedAt.UTC().Format(time.RFC3339),
	})
}
