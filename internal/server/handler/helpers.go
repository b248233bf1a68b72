package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/server/middleware"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the envelope of every rejection.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"INTERNAL"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// rejection maps an engine sentinel to its HTTP status and stable code.
type rejection struct {
	err    error
	status int
	code   string
}

// rejections is ordered: ErrInvalidPoll may wrap ErrInvalidMethod and must
// be matched first.
var rejections = []rejection{
	{domain.ErrPollNotFound, http.StatusNotFound, "POLL_NOT_FOUND"},
	{domain.ErrInvalidPoll, http.StatusBadRequest, "INVALID_POLL"},
	{domain.ErrInvalidOption, http.StatusBadRequest, "INVALID_OPTION"},
	{domain.ErrInvalidCredits, http.StatusBadRequest, "INVALID_CREDITS"},
	{domain.ErrInvalidMethod, http.StatusBadRequest, "INVALID_METHOD"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{domain.ErrPollClosed, http.StatusConflict, "POLL_CLOSED"},
	{domain.ErrPollActive, http.StatusConflict, "POLL_ACTIVE"},
	{domain.ErrAlreadyVoted, http.StatusConflict, "ALREADY_VOTED"},
	{domain.ErrMethodMismatch, http.StatusConflict, "METHOD_MISMATCH"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "ALREADY_CLAIMED"},
	{domain.ErrNothingToClaim, http.StatusConflict, "NOTHING_TO_CLAIM"},
	{domain.ErrNotAWinner, http.StatusForbidden, "NOT_A_WINNER"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
	{domain.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "INSUFFICIENT_ALLOWANCE"},
	{domain.ErrInsufficientShares, http.StatusUnprocessableEntity, "INSUFFICIENT_SHARES"},
	{domain.ErrInsufficientLiquidity, http.StatusUnprocessableEntity, "INSUFFICIENT_LIQUIDITY"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
}

// writeDomainError writes the rejection matching err, or a logged 500 when
// err is not an engine rejection.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, rj := range rejections {
		if errors.Is(err, rj.err) {
			writeError(w, rj.status, rj.code, err.Error())
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "INTERNAL", op+" failed")
}

// decodeBody decodes a bounded JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// caller returns the authenticated participant or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.Participant(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+middleware.HeaderParticipant+" header")
		return common.Address{}, false
	}
	return addr, true
}

// addressParam parses a hex address path parameter or writes a 400.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := strings.TrimSpace(r.PathValue(name))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "malformed address "+strconv.Quote(raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since accepts RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	return opts
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
