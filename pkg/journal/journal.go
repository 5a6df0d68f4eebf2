package journal

import (
	"context"
	"time"
)

// Pass results recorded in the journal.
const (
	ResultOK        = "ok"        // every step succeeded
	ResultPartial   = "partial"   // primary ok, some dependent step failed
	ResultFailed    = "failed"    // primary failed, pass will be retried
	ResultAbandoned = "abandoned" // primary failed and retries are exhausted
)

// Entry is one append-only record of a sync pass.
type Entry struct {
	ID        string         `json:"id"` // UUID v7 (time-ordered)
	TaskID    string         `json:"task_id"`
	Kind      string         `json:"kind"` // pass kind: created, updated, resync
	Result    string         `json:"result"`
	Detail    map[string]any `json:"detail"` // failures, message ids, attempt
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the contract for journal persistence.
type Store interface {
	Append(ctx context.Context, taskID, kind, result string, detail map[string]any) (*Entry, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	ByTask(ctx context.Context, taskID string, limit int) ([]Entry, error)
	Since(ctx context.Context, afterID string, limit int) ([]Entry, error)
	EnsureTable(ctx context.Context) error
}
