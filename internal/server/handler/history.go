package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/brokergw/internal/api"
	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/alanyoungcy/brokergw/internal/relay"
)

// HistoryHandler serves data kept outside the process: the relayed event
// stream, the audit log, the execution journal and ledger archives. Each
// backend is optional; a missing one answers 501.
type HistoryHandler struct {
	Signals  domain.SignalBus
	Audit    domain.AuditStore
	Journal  domain.ExecutionJournal
	Archives domain.BlobReader
	Logger   *slog.Logger
}

func notConfigured(w http.ResponseWriter, what string) {
	writeError(w, http.StatusNotImplemented, what+" not configured")
}

// ListEvents pages through the relayed event stream.
// GET /api/events?after=<stream id>&limit=100
func (h *HistoryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.Signals == nil {
		notConfigured(w, "signal bus")
		return
	}
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	msgs, err := h.Signals.StreamRead(r.Context(), relay.EventStream, r.URL.Query().Get("after"), limit)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "handler: read events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read events")
		return
	}

	type entry struct {
		StreamID string          `json:"stream_id"`
		Event    json.RawMessage `json:"event"`
	}
	out := make([]entry, len(msgs))
	for i, m := range msgs {
		out[i] = entry{StreamID: m.ID, Event: json.RawMessage(m.Payload)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// ListAudit returns audit entries newest first.
// GET /api/audit?event=&from=&to=&limit=&offset=
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		notConfigured(w, "audit store")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.Audit.List(r.Context(), opts)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// SessionExecutions returns the journaled fills of a past or current session.
// GET /api/sessions/{session}/executions
func (h *HistoryHandler) SessionExecutions(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		notConfigured(w, "execution journal")
		return
	}
	execs, err := h.Journal.ListSession(r.Context(), r.PathValue("session"))
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "handler: list journal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": api.FromExecutions(execs)})
}

// ListArchives lists archived ledgers.
// GET /api/archives?prefix=executions/2026/10/
func (h *HistoryHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.Archives == nil {
		notConfigured(w, "archive storage")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "executions/"
	}
	infos, err := h.Archives.List(r.Context(), prefix)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "handler: list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// GetArchive streams one archive as JSONL.
// GET /api/archives/{path...}
func (h *HistoryHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.Archives == nil {
		notConfigured(w, "archive storage")
		return
	}
	path := r.PathValue("path")
	if !strings.HasPrefix(path, "executions/") || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	body, err := h.Archives.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.Logger.ErrorContext(r.Context(), "handler: get archive failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.Logger.WarnContext(r.Context(), "handler: archive stream interrupted", slog.String("error", err.Error()))
	}
}
