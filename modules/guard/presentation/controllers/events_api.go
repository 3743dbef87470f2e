package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type EventsController struct {
	Reader ports.AuditReader
	Logger zerolog.Logger
}

func (c EventsController) HandleEventsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if c.Reader == nil {
		writeError(w, r, http.StatusNotImplemented, "events_unavailable", "audit sink is not readable")
		return
	}

	limit := defaultEventsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "invalid limit")
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := c.Reader.Recent(r.Context(), limit)
	if err != nil {
		c.Logger.Error().Err(err).Msg("audit read failed")
		writeError(w, r, http.StatusInternalServerError, "events_read_failed", "events read failed")
		return
	}
	if events == nil {
		events = make([]types.AuditEvent, 0)
	}
	writeJSON(w, map[string]any{"limit": limit, "events": events})
}
