package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quadpoll/internal/config"
	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/engine"
	"github.com/alanyoungcy/quadpoll/internal/token"
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

func testApp(t *testing.T, mode string) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = mode
	return New(&cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestReplayingSourceRebuildsFromJournal(t *testing.T) {
	a := testApp(t, "archive")
	journal := &memJournal{}
	deps := &Dependencies{Journal: journal, Recorder: journal, Tokens: token.NewLedger()}

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	live, err := a.newEngine(deps, true)
	require.NoError(t, err)
	engine.WithClock(func() time.Time { return created })(live)

	_, err = live.CreatePoll(context.Background(), common.HexToAddress("0xc1"), domain.PollParams{
		Question:     "Ship it?",
		Options:      []string{"yes", "no"},
		EndTime:      created.Add(24 * time.Hour),
		Method:       domain.MethodQuadratic,
		MaxWeightCap: 10,
	})
	require.NoError(t, err)
	require.Len(t, journal.deltas, 1)

	src := &replayingSource{
		journal: journal,
		build:   func() (*engine.Engine, error) { return a.newEngine(deps, false) },
		logger:  a.logger,
	}
	assert.Empty(t, src.Ended(), "nothing before the first refresh")
	_, err = src.Snapshot("missing")
	assert.ErrorIs(t, err, domain.ErrPollNotFound)

	require.NoError(t, src.Refresh(context.Background()))
	ended := src.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "Ship it?", ended[0].Question)

	snap, err := src.Snapshot(ended[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ended[0].ID, snap.Poll.ID)
	assert.Len(t, journal.deltas, 1, "replay does not re-record")
}

func TestArchiveModeNeedsJournal(t *testing.T) {
	a := testApp(t, "archive")
	err := a.ArchiveMode(context.Background(), &Dependencies{Tokens: token.NewLedger()})
	assert.ErrorContains(t, err, "postgres journal")
}

func TestRunRejectsUnknownMode(t *testing.T) {
	a := testApp(t, "trade")
	defer a.Close()
	err := a.Run(context.Background())
	assert.ErrorContains(t, err, `unsupported mode "trade"`)
}
