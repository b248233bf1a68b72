package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
)

// ReputationHandler serves participant reputation.
type ReputationHandler struct {
	reader PollReader
	logger *slog.Logger
}

// NewReputationHandler creates a ReputationHandler.
func NewReputationHandler(reader PollReader, logger *slog.Logger) *ReputationHandler {
	return &ReputationHandler{reader: reader, logger: logHandler(logger, "reputation")}
}

type reputationResponse struct {
	Address      string     `json:"address"`
	Raw          uint64     `json:"raw"`
	Effective    uint64     `json:"effective"`
	Multiplier   string     `json:"multiplier"`
	Tier         string     `json:"tier"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// GetReputation returns raw and decayed reputation with the current tier.
// Unknown addresses report zero reputation.
// GET /api/reputation/{address}
func (h *ReputationHandler) GetReputation(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	v := h.reader.Reputation(addr)
	resp := reputationResponse{
		Address:    v.Address.Hex(),
		Raw:        v.Raw,
		Effective:  v.Effective,
		Multiplier: fixedpoint.Raw(v.Multiplier),
		Tier:       v.Tier,
	}
	if !v.LastActivity.IsZero() {
		last := v.LastActivity
		resp.LastActivity = &last
	}
	writeJSON(w, http.StatusOK, resp)
}
