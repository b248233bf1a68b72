package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quadpoll/internal/crypto"
	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/engine"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
	"github.com/alanyoungcy/quadpoll/internal/server/handler"
	"github.com/alanyoungcy/quadpoll/internal/server/middleware"
	"github.com/alanyoungcy/quadpoll/internal/service"
	"github.com/alanyoungcy/quadpoll/internal/token"
)

var (
	t0     = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	escrow = common.HexToAddress("0xe5c0")
	alice  = common.HexToAddress("0xa11ce")
	bob    = common.HexToAddress("0xb0b")
)

const apiKey = "operator-key"

type fakeAudit struct {
	mu     sync.Mutex
	events []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, domain.AuditEntry{ID: int64(len(a.events) + 1), Event: event, Detail: detail})
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.events...), nil
}

type testAPI struct {
	handler http.Handler
	now     time.Time
	tokens  *token.Ledger
}

func newTestAPI(t *testing.T, cfg Config) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	api := &testAPI{now: t0, tokens: token.NewLedger()}
	eng := engine.New(api.tokens, escrow,
		engine.WithClock(func() time.Time { return api.now }),
		engine.WithLogger(logger),
	)
	audit := &fakeAudit{}
	svc := service.NewPollService(eng, nil, nil, audit, logger)

	cfg.APIKey = apiKey
	srv := NewServer(cfg, Handlers{
		Health:     handler.NewHealthHandler(eng, "server", logger),
		Polls:      handler.NewPollHandler(eng, svc, logger),
		Reputation: handler.NewReputationHandler(eng, logger),
		Audit:      handler.NewAuditHandler(audit, logger),
		Faucet:     handler.NewFaucetHandler(api.tokens, escrow, fixedpoint.Tokens(100), logger),
	}, nil, nil, logger)
	api.handler = srv.Handler()
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, who *common.Address, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if who != nil {
		req.Header.Set(middleware.HeaderParticipant, who.Hex())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *testAPI) createPoll(t *testing.T) string {
	t.Helper()
	code, body := a.do(t, http.MethodPost, "/api/polls", &alice, map[string]any{
		"question":         "Fund the community garden?",
		"options":          []string{"yes", "no"},
		"duration_seconds": 3600,
		"method":           "quadratic",
		"max_weight_cap":   5,
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["is_active"])
	return body["id"].(string)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, Config{})
	code, body := api.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["polls"])
}

func TestVoteFlow(t *testing.T) {
	api := newTestAPI(t, Config{})
	code, _ := api.do(t, http.MethodPost, "/api/dev/faucet", &alice, nil)
	require.Equal(t, http.StatusOK, code)
	id := api.createPoll(t)

	code, body := api.do(t, http.MethodPost, "/api/polls/"+id+"/vote", &alice, map[string]any{"option": 0, "credits": 4})
	require.Equal(t, http.StatusCreated, code, body)
	vote := body["vote"].(map[string]any)
	assert.Equal(t, "600000000000000000", vote["weight"], "sqrt(4) at the 0.3 floor multiplier")
	assert.Equal(t, "4000000000000000000", body["amount"])

	code, body = api.do(t, http.MethodGet, "/api/polls/"+id+"/results", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"600000000000000000", "0"}, body["weights"])
	assert.Equal(t, float64(1), body["total_voters"])
	assert.Equal(t, "4000000000000000000", body["total_bet_amount"])

	code, body = api.do(t, http.MethodGet, "/api/polls/"+id, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "4000000000000000000", body["total_bet_amount"])

	code, body = api.do(t, http.MethodGet, "/api/polls/"+id+"/participants/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["has_voted"])
	assert.Equal(t, false, body["has_claimed"])

	code, body = api.do(t, http.MethodPost, "/api/polls/"+id+"/vote", &alice, map[string]any{"option": 1, "credits": 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_VOTED", body["code"])

	code, body = api.do(t, http.MethodGet, "/api/reputation/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(10), body["raw"])
	assert.Equal(t, "Novice", body["tier"])

	code, body = api.do(t, http.MethodGet, "/api/polls", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["polls"], 1)
}

func TestRejectionCodes(t *testing.T) {
	api := newTestAPI(t, Config{})
	api.do(t, http.MethodPost, "/api/dev/faucet", &alice, nil)
	id := api.createPoll(t)
	votePath := "/api/polls/" + id + "/vote"

	tests := []struct {
		name   string
		path   string
		who    *common.Address
		body   any
		status int
		code   string
	}{
		{"no participant", votePath, nil, map[string]any{"option": 0, "credits": 1}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown poll", "/api/polls/nope/vote", &alice, map[string]any{"option": 0, "credits": 1}, http.StatusNotFound, "POLL_NOT_FOUND"},
		{"bad option", votePath, &alice, map[string]any{"option": 2, "credits": 1}, http.StatusBadRequest, "INVALID_OPTION"},
		{"zero credits", votePath, &alice, map[string]any{"option": 0, "credits": 0}, http.StatusBadRequest, "INVALID_CREDITS"},
		{"too many credits", votePath, &alice, map[string]any{"option": 0, "credits": 101}, http.StatusBadRequest, "INVALID_CREDITS"},
		{"unknown method", votePath, &alice, map[string]any{"option": 0, "credits": 1, "method": "borda"}, http.StatusBadRequest, "INVALID_METHOD"},
		{"unfunded voter", votePath, &bob, map[string]any{"option": 0, "credits": 1}, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
		{"unknown field", votePath, &alice, map[string]any{"choice": 0}, http.StatusBadRequest, "INVALID_BODY"},
		{"claim while active", "/api/polls/" + id + "/claim", &alice, nil, http.StatusConflict, "POLL_ACTIVE"},
		{"sell without shares", "/api/polls/" + id + "/sell", &alice, map[string]any{"option": 0, "amount": 1}, http.StatusUnprocessableEntity, "INSUFFICIENT_SHARES"},
		{"zero share amount", "/api/polls/" + id + "/buy", &alice, map[string]any{"option": 0, "amount": 0}, http.StatusBadRequest, "INVALID_AMOUNT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := api.do(t, http.MethodPost, tt.path, tt.who, tt.body)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, tt.code, body["code"])
		})
	}

	code, body := api.do(t, http.MethodGet, "/api/polls/"+id+"/participants/0xnothex", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ADDRESS", body["code"])
}

func TestSettlementOverHTTP(t *testing.T) {
	api := newTestAPI(t, Config{})
	for _, who := range []*common.Address{&alice, &bob} {
		code, _ := api.do(t, http.MethodPost, "/api/dev/faucet", who, nil)
		require.Equal(t, http.StatusOK, code)
	}
	id := api.createPoll(t)
	code, _ := api.do(t, http.MethodPost, "/api/polls/"+id+"/vote", &alice, map[string]any{"option": 0, "credits": 9})
	require.Equal(t, http.StatusCreated, code)
	code, _ = api.do(t, http.MethodPost, "/api/polls/"+id+"/vote", &bob, map[string]any{"option": 1, "credits": 1})
	require.Equal(t, http.StatusCreated, code)

	api.now = t0.Add(time.Hour)

	code, body := api.do(t, http.MethodPost, "/api/polls/"+id+"/buy", &alice, map[string]any{"option": 0, "amount": 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "POLL_CLOSED", body["code"])

	code, body = api.do(t, http.MethodGet, "/api/polls/"+id+"/winner", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["option"])
	assert.Equal(t, true, body["final"])

	code, body = api.do(t, http.MethodPost, "/api/polls/"+id+"/claim", &bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_A_WINNER", body["code"])

	code, body = api.do(t, http.MethodPost, "/api/polls/"+id+"/claim", &alice, nil)
	require.Equal(t, http.StatusOK, code, body)
	claim := body["claim"].(map[string]any)
	assert.Equal(t, fixedpoint.Tokens(10).String(), claim["payout"])

	code, body = api.do(t, http.MethodPost, "/api/polls/"+id+"/claim", &alice, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_CLAIMED", body["code"])
}

func TestMarketOverHTTP(t *testing.T) {
	api := newTestAPI(t, Config{})
	api.do(t, http.MethodPost, "/api/dev/faucet", &alice, nil)
	id := api.createPoll(t)

	code, body := api.do(t, http.MethodGet, "/api/polls/"+id+"/prices", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"100000000000000000", "100000000000000000"}, body["prices"])

	code, body = api.do(t, http.MethodGet, "/api/polls/"+id+"/prices/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"1000000000000000000", "1000000000000000000"}, body["prices"], "unverified traders pay the 10x markup")

	code, body = api.do(t, http.MethodPost, "/api/polls/"+id+"/buy", &alice, map[string]any{"option": 1, "amount": 3})
	require.Equal(t, http.StatusOK, code, body)
	trade := body["trade"].(map[string]any)
	assert.Equal(t, "buy", trade["side"])
	assert.Equal(t, float64(3), trade["shares"])

	code, body = api.do(t, http.MethodPost, "/api/polls/"+id+"/sell", &alice, map[string]any{"option": 1, "amount": 1})
	require.Equal(t, http.StatusOK, code, body)

	code, body = api.do(t, http.MethodGet, "/api/polls/"+id+"/participants/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{float64(0), float64(2)}, body["shares"])
}

func TestAuditRequiresAPIKey(t *testing.T) {
	api := newTestAPI(t, Config{})
	api.do(t, http.MethodPost, "/api/dev/faucet", &alice, nil)
	api.createPoll(t)

	code, body := api.do(t, http.MethodGet, "/api/audit", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	code, body = api.do(t, http.MethodGet, "/api/audit", nil, nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = api.do(t, http.MethodGet, "/api/audit", nil, nil, "Authorization", "Bearer "+apiKey)
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "poll_created", entries[0].(map[string]any)["event"])
}

type onceNonces struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (o *onceNonces) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen[key] {
		return nil, domain.ErrLockHeld
	}
	o.seen[key] = true
	return func() {}, nil
}

func TestSignedWrites(t *testing.T) {
	api := newTestAPI(t, Config{
		RequireSignatures: true,
		SignatureMaxSkew:  5 * time.Minute,
		Nonces:            &onceNonces{seen: map[string]bool{}},
	})
	key, err := crypto.NewSigner("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	who := key.Address()

	nonce := 0
	sign := func(path string, ts time.Time, body []byte) (string, string) {
		nonce++
		n := "n" + strconv.Itoa(nonce)
		sig, err := key.Sign(crypto.RequestMessage(http.MethodPost, path, ts.Unix(), n, body))
		require.NoError(t, err)
		return n, sig
	}

	code, body := api.do(t, http.MethodPost, "/api/dev/faucet", &who, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	now := time.Now()
	n, sig := sign("/api/dev/faucet", now, nil)
	code, _ = api.do(t, http.MethodPost, "/api/dev/faucet", &who, nil,
		middleware.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10),
		middleware.HeaderNonce, n,
		middleware.HeaderSignature, sig,
	)
	assert.Equal(t, http.StatusOK, code)

	code, body = api.do(t, http.MethodPost, "/api/dev/faucet", &who, nil,
		middleware.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10),
		middleware.HeaderNonce, n,
		middleware.HeaderSignature, sig,
	)
	assert.Equal(t, http.StatusUnauthorized, code, "replayed request")
	assert.Contains(t, body["error"], "nonce already used")

	stale := now.Add(-time.Hour)
	n, sig = sign("/api/dev/faucet", stale, nil)
	code, _ = api.do(t, http.MethodPost, "/api/dev/faucet", &who, nil,
		middleware.HeaderTimestamp, strconv.FormatInt(stale.Unix(), 10),
		middleware.HeaderNonce, n,
		middleware.HeaderSignature, sig,
	)
	assert.Equal(t, http.StatusUnauthorized, code)

	n, sig = sign("/api/dev/faucet", now, nil)
	code, _ = api.do(t, http.MethodPost, "/api/dev/faucet", &alice, nil,
		middleware.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10),
		middleware.HeaderNonce, n,
		middleware.HeaderSignature, sig,
	)
	assert.Equal(t, http.StatusUnauthorized, code, "signature by another key")

	code, _ = api.do(t, http.MethodGet, "/api/polls", &who, nil)
	assert.Equal(t, http.StatusOK, code, "reads need no signature")
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, Config{CORSOrigins: []string{"https://app.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/polls", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.HeaderSignature)
}
