package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// JournalStore implements domain.JournalStore and domain.Recorder over the
// journal table.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append stores d and returns its sequence number.
func (s *JournalStore) Append(ctx context.Context, d domain.Delta) (int64, error) {
	d.Seq = 0
	payload, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal delta %s: %w", d.ID, err)
	}

	const q = `INSERT INTO journal (id, kind, poll_id, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`
	var seq int64
	err = s.pool.QueryRow(ctx, q,
		d.ID, string(d.Kind), d.PollID, strings.ToLower(d.Actor.Hex()), payload, d.At,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: append delta %s: %w", d.ID, err)
	}
	return seq, nil
}

// Record appends d, discarding the sequence number.
func (s *JournalStore) Record(ctx context.Context, d domain.Delta) error {
	_, err := s.Append(ctx, d)
	return err
}

// Since returns up to limit deltas with seq greater than afterSeq, in order.
func (s *JournalStore) Since(ctx context.Context, afterSeq int64, limit int) ([]domain.Delta, error) {
	if limit <= 0 {
		limit = 1000
	}
	const q = `SELECT seq, payload FROM journal WHERE seq > $1 ORDER BY seq LIMIT $2`
	rows, err := s.pool.Query(ctx, q, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: read journal after %d: %w", afterSeq, err)
	}
	defer rows.Close()

	var out []domain.Delta
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan journal row: %w", err)
		}
		d, err := decodeDelta(seq, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read journal rows: %w", err)
	}
	return out, nil
}

func decodeDelta(seq int64, payload []byte) (domain.Delta, error) {
	var d domain.Delta
	if err := json.Unmarshal(payload, &d); err != nil {
		return domain.Delta{}, fmt.Errorf("postgres: decode delta at seq %d: %w", seq, err)
	}
	d.Seq = seq
	return d, nil
}

var (
	_ domain.JournalStore = (*JournalStore)(nil)
	_ domain.Recorder     = (*JournalStore)(nil)
)
