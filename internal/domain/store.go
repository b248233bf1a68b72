package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Recorder receives every delta before the engine applies it.
type Recorder interface {
	Record(ctx context.Context, d Delta) error
}

// JournalStore persists the append-only log of engine deltas.
type JournalStore interface {
	Append(ctx context.Context, d Delta) (int64, error)
	Since(ctx context.Context, afterSeq int64, limit int) ([]Delta, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
