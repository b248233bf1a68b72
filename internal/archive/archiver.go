// Package archive copies settled polls to object storage on a schedule.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cosmossdk.io/math"
	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// lockKey is the distributed lock held for the duration of a run.
const lockKey = "archive"

// SnapshotSource lists ended polls and captures their settled state.
type SnapshotSource interface {
	Ended() []domain.Poll
	Snapshot(id string) (domain.PollSnapshot, error)
}

// Refresher is implemented by sources that must reload state before each
// run, such as a process rebuilding polls from the journal.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Notifier receives operator alerts about archive runs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Archiver writes one JSON snapshot per ended poll and a claims record each
// time the number of claimed payouts grows. Objects already present in the
// bucket are skipped, so runs are idempotent.
type Archiver struct {
	source  SnapshotSource
	writer  domain.BlobWriter
	reader  domain.BlobReader
	locks   domain.LockManager
	audit   domain.AuditStore
	lockTTL time.Duration
	notify  Notifier
	logger  *slog.Logger
}

// New creates an Archiver. locks and audit may be nil.
func New(
	source SnapshotSource,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	locks domain.LockManager,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Archiver {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Archiver{
		source:  source,
		writer:  writer,
		reader:  reader,
		locks:   locks,
		audit:   audit,
		lockTTL: lockTTL,
		logger:  logger.With(slog.String("component", "archive")),
	}
}

// WithNotifier sends alerts for archived polls and failed runs to n.
func (a *Archiver) WithNotifier(n Notifier) *Archiver {
	a.notify = n
	return a
}

// SnapshotPath is the object path of p's snapshot, partitioned by the month
// the poll ended:
//
//	polls/2026/05/<id>.json
func SnapshotPath(p domain.Poll) string {
	end := p.EndTime.UTC()
	return fmt.Sprintf("polls/%04d/%02d/%s.json", end.Year(), int(end.Month()), p.ID)
}

// ClaimsPath is the object path of p's claims record once claimed payouts
// have been collected. Claims only accumulate, so the record with the highest
// count is the latest:
//
//	polls/2026/05/<id>/claims-3.json
func ClaimsPath(p domain.Poll, claimed int) string {
	end := p.EndTime.UTC()
	return fmt.Sprintf("polls/%04d/%02d/%s/claims-%d.json", end.Year(), int(end.Month()), p.ID, claimed)
}

// ClaimsRecord is the claim state of a settled poll at TakenAt.
type ClaimsRecord struct {
	PollID  string              `json:"poll_id"`
	Claimed []string            `json:"claimed"`
	Payouts map[string]math.Int `json:"payouts"`
	TakenAt time.Time           `json:"taken_at"`
}

// Run archives every ended poll not yet in the bucket, records claim
// progress, and returns how many objects were written. A run that finds the lock held by another replica archives
// nothing and succeeds. Per-poll failures do not stop the run; they are
// joined into the returned error.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, lockKey, a.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive: another replica holds the lock")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("archive: acquire lock: %w", err)
		}
		defer unlock()
	}

	if r, ok := a.source.(Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return 0, fmt.Errorf("archive: refresh source: %w", err)
		}
	}

	ended := a.source.Ended()
	a.logger.InfoContext(ctx, "archive: run started", slog.Int("ended_polls", len(ended)))

	var (
		written int
		errs    []error
	)
	for _, p := range ended {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := a.archive(ctx, p)
		written += n
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: poll failed",
				slog.String("poll_id", p.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	a.logger.InfoContext(ctx, "archive: run complete",
		slog.Int("written", written),
		slog.Int("failed", len(errs)),
	)
	return written, errors.Join(errs...)
}

// archive writes p's snapshot and claims record where missing and returns the
// number of objects written.
func (a *Archiver) archive(ctx context.Context, p domain.Poll) (int, error) {
	snap, err := a.source.Snapshot(p.ID)
	if err != nil {
		return 0, fmt.Errorf("archive: snapshot %s: %w", p.ID, err)
	}

	written := 0
	ok, err := a.writeSnapshot(ctx, p, snap)
	if err != nil {
		return written, err
	}
	if ok {
		written++
	}
	ok, err = a.writeClaims(ctx, p, snap)
	if err != nil {
		return written, err
	}
	if ok {
		written++
	}
	return written, nil
}

func (a *Archiver) writeSnapshot(ctx context.Context, p domain.Poll, snap domain.PollSnapshot) (bool, error) {
	path := SnapshotPath(p)
	ok, size, err := a.putIfMissing(ctx, path, snap)
	if !ok || err != nil {
		return false, err
	}

	a.auditLog(ctx, "poll_archived", map[string]any{
		"poll_id": p.ID,
		"path":    path,
		"bytes":   size,
		"winner":  snap.Winner,
	})
	a.logger.InfoContext(ctx, "archive: poll archived",
		slog.String("poll_id", p.ID),
		slog.String("path", path),
	)
	a.alert(ctx, "poll_archived", "Poll archived",
		fmt.Sprintf("%q settled on option %d, snapshot at %s", p.Question, snap.Winner, path))
	return true, nil
}

// writeClaims records the claimed set once per claim count.
func (a *Archiver) writeClaims(ctx context.Context, p domain.Poll, snap domain.PollSnapshot) (bool, error) {
	if len(snap.Claimed) == 0 {
		return false, nil
	}
	path := ClaimsPath(p, len(snap.Claimed))
	ok, _, err := a.putIfMissing(ctx, path, ClaimsRecord{
		PollID:  p.ID,
		Claimed: snap.Claimed,
		Payouts: snap.Payouts,
		TakenAt: snap.TakenAt,
	})
	if !ok || err != nil {
		return false, err
	}

	a.auditLog(ctx, "poll_claims_archived", map[string]any{
		"poll_id": p.ID,
		"path":    path,
		"claimed": len(snap.Claimed),
		"winners": len(snap.Payouts),
	})
	a.logger.InfoContext(ctx, "archive: claims recorded",
		slog.String("poll_id", p.ID),
		slog.Int("claimed", len(snap.Claimed)),
		slog.Int("winners", len(snap.Payouts)),
	)
	return true, nil
}

// putIfMissing uploads v as JSON at path unless the object exists.
func (a *Archiver) putIfMissing(ctx context.Context, path string, v any) (bool, int, error) {
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return false, 0, fmt.Errorf("archive: check %s: %w", path, err)
	}
	if exists {
		return false, 0, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false, 0, fmt.Errorf("archive: encode %s: %w", path, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return false, 0, fmt.Errorf("archive: upload %s: %w", path, err)
	}
	return true, len(data), nil
}

func (a *Archiver) auditLog(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "archive: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (a *Archiver) alert(ctx context.Context, event, title, message string) {
	if a.notify == nil {
		return
	}
	if err := a.notify.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "archive: alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// scheduleParser accepts 5-field expressions, an optional leading seconds
// field, and descriptors such as @hourly or @every 10m.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("archive: parse schedule %q: %w", expr, err)
	}
	return s, nil
}

// RunCron runs the archiver on expr until ctx is cancelled. Overlapping
// ticks are skipped.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	logger := cronLogger{a.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			a.alert(ctx, "archive_failed", "Archive run failed", err.Error())
		}
	}))

	a.logger.InfoContext(ctx, "archive: cron started",
		slog.String("schedule", expr),
		slog.Time("next_run", schedule.Next(time.Now().UTC())),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archive: cron stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("archive: cron "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("archive: cron "+msg, append(keysAndValues, "error", err.Error())...)
}
