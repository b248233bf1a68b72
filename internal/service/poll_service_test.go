package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/engine"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
	"github.com/alanyoungcy/quadpoll/internal/token"
)

var (
	t0     = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	escrow = common.HexToAddress("0xe5")
	voter  = common.HexToAddress("0x11")
)

type memJournal struct {
	mu     sync.Mutex
	deltas []domain.Delta
}

func (j *memJournal) Record(ctx context.Context, d domain.Delta) error {
	_, err := j.Append(ctx, d)
	return err
}

func (j *memJournal) Append(_ context.Context, d domain.Delta) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	d.Seq = int64(len(j.deltas) + 1)
	j.deltas = append(j.deltas, d)
	return d.Seq, nil
}

func (j *memJournal) Since(_ context.Context, after int64, limit int) ([]domain.Delta, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.Delta
	for _, d := range j.deltas {
		if d.Seq > after && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu      sync.Mutex
	msgs    []published
	streams map[string][][]byte
	err     error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, published{channel, payload})
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams == nil {
		b.streams = make(map[string][][]byte)
	}
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) channel(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, m := range b.msgs {
		if m.channel == name {
			out = append(out, m.payload)
		}
	}
	return out
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type harness struct {
	svc     *PollService
	eng     *engine.Engine
	tokens  *token.Ledger
	journal *memJournal
	bus     *fakeBus
	audit   *fakeAudit
	now     time.Time
}

func newHarness(t *testing.T, journal *memJournal) *harness {
	t.Helper()
	h := &harness{
		tokens:  token.NewLedger(),
		journal: journal,
		bus:     &fakeBus{},
		audit:   &fakeAudit{},
		now:     t0,
	}
	h.eng = engine.New(h.tokens, escrow,
		engine.WithClock(func() time.Time { return h.now }),
		engine.WithRecorder(journal),
		engine.WithLogger(discardLogger()),
	)
	h.svc = NewPollService(h.eng, journal, h.bus, h.audit, discardLogger())
	return h
}

func (h *harness) fund(t *testing.T, addr common.Address) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.tokens.Mint(ctx, addr, fixedpoint.Tokens(100)))
	require.NoError(t, h.tokens.Approve(ctx, addr, escrow, fixedpoint.Tokens(100)))
}

func params() domain.PollParams {
	return domain.PollParams{
		Question:     "Adopt the proposal?",
		Options:      []string{"yes", "no"},
		EndTime:      t0.Add(time.Hour),
		Method:       domain.MethodQuadratic,
		MaxWeightCap: 5,
	}
}

func TestVotePublishesAndAudits(t *testing.T) {
	h := newHarness(t, &memJournal{})
	h.fund(t, voter)
	ctx := context.Background()

	poll, err := h.svc.CreatePoll(ctx, voter, params())
	require.NoError(t, err)
	_, err = h.svc.Vote(ctx, voter, poll.ID, 0, 4, "")
	require.NoError(t, err)

	polls := h.bus.channel(domain.ChannelPolls)
	require.Len(t, polls, 2)
	var d domain.Delta
	require.NoError(t, json.Unmarshal(polls[1], &d))
	assert.Equal(t, domain.DeltaVoteCast, d.Kind)
	assert.Equal(t, poll.ID, d.PollID)

	rep := h.bus.channel(domain.ChannelReputation)
	require.Len(t, rep, 1)
	var change domain.ReputationChange
	require.NoError(t, json.Unmarshal(rep[0], &change))
	assert.Equal(t, voter, change.Address)
	assert.Equal(t, uint64(10), change.Current)
	assert.Len(t, h.bus.streams[domain.StreamReputation], 1)

	assert.Equal(t, []string{"poll_created", "vote_cast"}, h.audit.events)
}

func TestFailedOperationPublishesNothing(t *testing.T) {
	h := newHarness(t, &memJournal{})
	ctx := context.Background()

	poll, err := h.svc.CreatePoll(ctx, voter, params())
	require.NoError(t, err)
	_, err = h.svc.Vote(ctx, voter, poll.ID, 0, 4, "")
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Len(t, h.bus.channel(domain.ChannelPolls), 1)
	assert.Equal(t, []string{"poll_created"}, h.audit.events)
}

func TestBusFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t, &memJournal{})
	h.bus.err = errors.New("redis down")

	_, err := h.svc.CreatePoll(context.Background(), voter, params())
	require.NoError(t, err)
	assert.Len(t, h.eng.Polls(), 1)
}

func TestRestoreReplaysJournal(t *testing.T) {
	journal := &memJournal{}
	h := newHarness(t, journal)
	h.fund(t, voter)
	ctx := context.Background()

	poll, err := h.svc.CreatePoll(ctx, voter, params())
	require.NoError(t, err)
	_, err = h.svc.Vote(ctx, voter, poll.ID, 1, 9, "")
	require.NoError(t, err)
	_, err = h.svc.Buy(ctx, voter, poll.ID, 0, 3)
	require.NoError(t, err)
	_, err = h.svc.Sell(ctx, voter, poll.ID, 0, 1)
	require.NoError(t, err)

	restarted := newHarness(t, journal)
	n, err := restarted.svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n, "three token moves each add a commit marker")

	want, _ := h.eng.Results(poll.ID)
	got, err := restarted.eng.Results(poll.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Shares, got.Shares)
	assert.Equal(t, want.TotalBetAmount.String(), got.TotalBetAmount.String())
	assert.Equal(t, want.MarketReserve.String(), got.MarketReserve.String())
	assert.Equal(t, uint64(10), restarted.eng.Reputation(voter).Raw)
}

func TestClaimThroughService(t *testing.T) {
	h := newHarness(t, &memJournal{})
	h.fund(t, voter)
	ctx := context.Background()

	poll, err := h.svc.CreatePoll(ctx, voter, params())
	require.NoError(t, err)
	_, err = h.svc.Vote(ctx, voter, poll.ID, 0, 4, "")
	require.NoError(t, err)

	h.now = t0.Add(2 * time.Hour)
	d, err := h.svc.Claim(ctx, voter, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Tokens(4).String(), d.Claim.Payout.String())
	assert.Contains(t, h.audit.events, "winnings_claimed")
}

func TestAuditDetail(t *testing.T) {
	amount := fixedpoint.Tokens(2)
	d := domain.Delta{
		ID:     "d1",
		Kind:   domain.DeltaVoteCast,
		PollID: "p1",
		Actor:  voter,
		Vote:   &domain.Vote{Option: 1, Credits: 2, Method: domain.MethodSimple, Weight: fixedpoint.MustDec("0.6")},
		Amount: &amount,
	}
	detail := auditDetail(d)
	assert.Equal(t, "600000000000000000", detail["weight"])
	assert.Equal(t, "2000000000000000000", detail["amount"])
	assert.Equal(t, "0x0000000000000000000000000000000000000011", detail["actor"])
}
