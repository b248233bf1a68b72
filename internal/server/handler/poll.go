package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
)

// PollReader is the read side of the engine used by the API.
type PollReader interface {
	Now() time.Time
	Poll(id string) (domain.Poll, error)
	Polls() []domain.Poll
	Results(id string) (domain.Results, error)
	Prices(id string) ([]math.LegacyDec, error)
	AdjustedPrices(id string, addr common.Address) ([]math.LegacyDec, error)
	Position(id string, addr common.Address) (domain.Position, error)
	Winner(id string) (int, math.LegacyDec, error)
	Reputation(addr common.Address) domain.ReputationView
}

// PollWriter is the write side, served by the poll service.
type PollWriter interface {
	CreatePoll(ctx context.Context, creator common.Address, params domain.PollParams) (domain.Poll, error)
	Vote(ctx context.Context, voter common.Address, pollID string, option int, credits int64, method domain.VotingMethod) (domain.Delta, error)
	Buy(ctx context.Context, trader common.Address, pollID string, option int, amount int64) (domain.Delta, error)
	Sell(ctx context.Context, trader common.Address, pollID string, option int, amount int64) (domain.Delta, error)
	Claim(ctx context.Context, claimant common.Address, pollID string) (domain.Delta, error)
}

// PollHandler serves the poll, vote, market and claim endpoints.
type PollHandler struct {
	reader PollReader
	writer PollWriter
	logger *slog.Logger
}

// NewPollHandler creates a PollHandler.
func NewPollHandler(reader PollReader, writer PollWriter, logger *slog.Logger) *PollHandler {
	return &PollHandler{
		reader: reader,
		writer: writer,
		logger: logHandler(logger, "polls"),
	}
}

// pollResponse is a poll with its time-derived status. Token amounts are
// base-unit strings.
type pollResponse struct {
	ID             string              `json:"id"`
	Creator        string              `json:"creator"`
	Question       string              `json:"question"`
	Options        []string            `json:"options"`
	EndTime        time.Time           `json:"end_time"`
	Method         domain.VotingMethod `json:"method"`
	MethodLocked   bool                `json:"method_locked"`
	MaxWeightCap   int                 `json:"max_weight_cap"`
	CreatedAt      time.Time           `json:"created_at"`
	IsActive       bool                `json:"is_active"`
	TotalBetAmount string              `json:"total_bet_amount,omitempty"`
}

func newPollResponse(p domain.Poll, now time.Time) pollResponse {
	return pollResponse{
		ID:           p.ID,
		Creator:      p.Creator.Hex(),
		Question:     p.Question,
		Options:      p.Options,
		EndTime:      p.EndTime,
		Method:       p.Method,
		MethodLocked: p.MethodLocked,
		MaxWeightCap: p.MaxWeightCap,
		CreatedAt:    p.CreatedAt,
		IsActive:     p.IsActive(now),
	}
}

// resultsResponse mirrors domain.Results with weights as raw 18-decimal
// integers.
type resultsResponse struct {
	Weights        []string `json:"weights"`
	TotalVoters    int      `json:"total_voters"`
	TotalBetAmount string   `json:"total_bet_amount"`
	Shares         []int64  `json:"shares"`
	MarketReserve  string   `json:"market_reserve"`
}

type voteView struct {
	Option    int                 `json:"option"`
	Credits   int64               `json:"credits"`
	Method    domain.VotingMethod `json:"method"`
	Weight    string              `json:"weight"`
	Timestamp time.Time           `json:"timestamp"`
}

type participantResponse struct {
	PollID     string    `json:"poll_id"`
	Address    string    `json:"address"`
	HasVoted   bool      `json:"has_voted"`
	Vote       *voteView `json:"vote,omitempty"`
	Shares     []int64   `json:"shares"`
	HasClaimed bool      `json:"has_claimed"`
	Bet        string    `json:"bet"`
}

type createPollRequest struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	EndTime         string   `json:"end_time,omitempty"`
	DurationSeconds int64    `json:"duration_seconds,omitempty"`
	Method          string   `json:"method"`
	MethodLocked    bool     `json:"method_locked"`
	MaxWeightCap    int      `json:"max_weight_cap"`
}

type voteRequest struct {
	Option  int    `json:"option"`
	Credits int64  `json:"credits"`
	Method  string `json:"method,omitempty"`
}

type tradeRequest struct {
	Option int   `json:"option"`
	Amount int64 `json:"amount"`
}

// deltaResponse reports a committed operation.
type deltaResponse struct {
	DeltaID    string                   `json:"delta_id"`
	Kind       domain.DeltaKind         `json:"kind"`
	PollID     string                   `json:"poll_id"`
	Actor      string                   `json:"actor"`
	At         time.Time                `json:"at"`
	Vote       *voteView                `json:"vote,omitempty"`
	Amount     string                   `json:"amount,omitempty"`
	Trade      *domain.Trade            `json:"trade,omitempty"`
	Claim      *domain.Claim            `json:"claim,omitempty"`
	Reputation *domain.ReputationChange `json:"reputation,omitempty"`
}

func newVoteView(v domain.Vote) *voteView {
	return &voteView{
		Option:    v.Option,
		Credits:   v.Credits,
		Method:    v.Method,
		Weight:    fixedpoint.Raw(v.Weight),
		Timestamp: v.Timestamp,
	}
}

func newDeltaResponse(d domain.Delta) deltaResponse {
	resp := deltaResponse{
		DeltaID:    d.ID,
		Kind:       d.Kind,
		PollID:     d.PollID,
		Actor:      d.Actor.Hex(),
		At:         d.At,
		Trade:      d.Trade,
		Claim:      d.Claim,
		Reputation: d.Reputation,
	}
	if d.Vote != nil {
		resp.Vote = newVoteView(*d.Vote)
	}
	if d.Amount != nil {
		resp.Amount = d.Amount.String()
	}
	return resp
}

// ListPolls returns every poll with its status.
// GET /api/polls
func (h *PollHandler) ListPolls(w http.ResponseWriter, r *http.Request) {
	now := h.reader.Now()
	polls := h.reader.Polls()
	out := make([]pollResponse, 0, len(polls))
	for _, p := range polls {
		out = append(out, newPollResponse(p, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"polls": out})
}

// CreatePoll opens a poll owned by the caller.
// POST /api/polls
func (h *PollHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	creator, ok := caller(w, r)
	if !ok {
		return
	}
	var req createPollRequest
	if !decodeBody(w, r, &req) {
		return
	}

	method, err := domain.ParseVotingMethod(req.Method)
	if err != nil {
		writeDomainError(w, r, h.logger, "create poll", err)
		return
	}
	var end time.Time
	switch {
	case req.EndTime != "":
		end, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_POLL", "end_time must be RFC 3339")
			return
		}
	case req.DurationSeconds > 0:
		end = h.reader.Now().Add(time.Duration(req.DurationSeconds) * time.Second)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_POLL", "end_time or duration_seconds is required")
		return
	}

	poll, err := h.writer.CreatePoll(r.Context(), creator, domain.PollParams{
		Question:     req.Question,
		Options:      req.Options,
		EndTime:      end,
		Method:       method,
		MethodLocked: req.MethodLocked,
		MaxWeightCap: req.MaxWeightCap,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create poll", err)
		return
	}
	writeJSON(w, http.StatusCreated, newPollResponse(poll, h.reader.Now()))
}

// GetPoll returns one poll with its prize pool.
// GET /api/polls/{id}
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	poll, err := h.reader.Poll(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get poll", err)
		return
	}
	res, err := h.reader.Results(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get poll", err)
		return
	}
	resp := newPollResponse(poll, h.reader.Now())
	resp.TotalBetAmount = res.TotalBetAmount.String()
	writeJSON(w, http.StatusOK, resp)
}

// GetResults returns the governance and market aggregates.
// GET /api/polls/{id}/results
func (h *PollHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.reader.Results(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get results", err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		Weights:        fixedpoint.Raws(res.Weights),
		TotalVoters:    res.TotalVoters,
		TotalBetAmount: res.TotalBetAmount.String(),
		Shares:         res.Shares,
		MarketReserve:  res.MarketReserve.String(),
	})
}

// GetPrices returns the unadjusted per-option share prices.
// GET /api/polls/{id}/prices
func (h *PollHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.reader.Prices(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": fixedpoint.Raws(prices)})
}

// GetAdjustedPrices returns the prices the given address would pay.
// GET /api/polls/{id}/prices/{address}
func (h *PollHandler) GetAdjustedPrices(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	prices, err := h.reader.AdjustedPrices(r.PathValue("id"), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get adjusted prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"prices":  fixedpoint.Raws(prices),
	})
}

// GetParticipant returns an address's vote, shares, claim flag and stake.
// GET /api/polls/{id}/participants/{address}
func (h *PollHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	pos, err := h.reader.Position(r.PathValue("id"), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get participant", err)
		return
	}
	resp := participantResponse{
		PollID:     pos.PollID,
		Address:    pos.Address.Hex(),
		HasVoted:   pos.HasVoted,
		Shares:     pos.Shares,
		HasClaimed: pos.HasClaimed,
		Bet:        pos.Bet.String(),
	}
	if pos.HasVoted {
		resp.Vote = newVoteView(pos.Vote)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetWinner returns the leading option, final once the poll has ended.
// GET /api/polls/{id}/winner
func (h *PollHandler) GetWinner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	poll, err := h.reader.Poll(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get winner", err)
		return
	}
	option, weight, err := h.reader.Winner(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get winner", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"option": option,
		"weight": fixedpoint.Raw(weight),
		"final":  !poll.IsActive(h.reader.Now()),
	})
}

// Vote casts the caller's one vote. Clients should re-read balance,
// allowance and vote status right before submitting; the engine rejects
// stale submissions without side effects.
// POST /api/polls/{id}/vote
func (h *PollHandler) Vote(w http.ResponseWriter, r *http.Request) {
	voter, ok := caller(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var method domain.VotingMethod
	if strings.TrimSpace(req.Method) != "" {
		m, err := domain.ParseVotingMethod(req.Method)
		if err != nil {
			writeDomainError(w, r, h.logger, "vote", err)
			return
		}
		method = m
	}
	d, err := h.writer.Vote(r.Context(), voter, r.PathValue("id"), req.Option, req.Credits, method)
	if err != nil {
		writeDomainError(w, r, h.logger, "vote", err)
		return
	}
	writeJSON(w, http.StatusCreated, newDeltaResponse(d))
}

// Buy purchases outcome shares for the caller.
// POST /api/polls/{id}/buy
func (h *PollHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "buy", h.writer.Buy)
}

// Sell redeems the caller's outcome shares.
// POST /api/polls/{id}/sell
func (h *PollHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "sell", h.writer.Sell)
}

func (h *PollHandler) trade(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	do func(context.Context, common.Address, string, int, int64) (domain.Delta, error),
) {
	trader, ok := caller(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := do(r.Context(), trader, r.PathValue("id"), req.Option, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeltaResponse(d))
}

// Claim pays the caller's share of the prize pool.
// POST /api/polls/{id}/claim
func (h *PollHandler) Claim(w http.ResponseWriter, r *http.Request) {
	claimant, ok := caller(w, r)
	if !ok {
		return
	}
	d, err := h.writer.Claim(r.Context(), claimant, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, newDeltaResponse(d))
}
