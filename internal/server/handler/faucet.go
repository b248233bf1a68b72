package handler

import (
	"log/slog"
	"net/http"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// FaucetHandler mints development tokens and approves the escrow to spend
// them. It is only routed when the development faucet is enabled.
type FaucetHandler struct {
	minter domain.TokenMinter
	escrow common.Address
	amount math.Int
	logger *slog.Logger
}

// NewFaucetHandler creates a FaucetHandler dispensing amount base units per
// request.
func NewFaucetHandler(minter domain.TokenMinter, escrow common.Address, amount math.Int, logger *slog.Logger) *FaucetHandler {
	return &FaucetHandler{minter: minter, escrow: escrow, amount: amount, logger: logHandler(logger, "faucet")}
}

// Drip mints to the caller and sets the caller's escrow allowance to the
// dripped amount.
// POST /api/dev/faucet
func (h *FaucetHandler) Drip(w http.ResponseWriter, r *http.Request) {
	to, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.minter.Mint(r.Context(), to, h.amount); err != nil {
		writeDomainError(w, r, h.logger, "faucet mint", err)
		return
	}
	if err := h.minter.Approve(r.Context(), to, h.escrow, h.amount); err != nil {
		writeDomainError(w, r, h.logger, "faucet approve", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: faucet drip",
		slog.String("to", to.Hex()),
		slog.String("amount", h.amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"address":   to.Hex(),
		"minted":    h.amount.String(),
		"spender":   h.escrow.Hex(),
		"allowance": h.amount.String(),
	})
}
