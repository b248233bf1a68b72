package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	polls  PollReader
	mode   string
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(polls PollReader, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{polls: polls, mode: mode, logger: logger}
}

// HealthCheck responds with the engine clock and the number of polls.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"mode":      h.mode,
		"polls":     len(h.polls.Polls()),
		"timestamp": h.polls.Now().UTC().Format(time.RFC3339),
	})
}
