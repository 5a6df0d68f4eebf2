package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed journal Store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const entryColumns = `id, task_id, kind, result, detail, created_at`

// EnsureTable creates the sync_journal table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_journal (
			id         TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			result     TEXT NOT NULL,
			detail     JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_sync_journal_task ON sync_journal(task_id, created_at)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_sync_journal_created_id ON sync_journal(created_at, id)`)
	return err
}

// Append stores a new entry.
func (s *PgStore) Append(ctx context.Context, taskID, kind, result string, detail map[string]any) (*Entry, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal detail: %w", err)
	}

	e := &Entry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TaskID:    taskID,
		Kind:      kind,
		Result:    result,
		Detail:    detail,
		CreatedAt: time.Now().Truncate(time.Microsecond),
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_journal (id, task_id, kind, result, detail, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		e.ID, e.TaskID, e.Kind, e.Result, string(detailJSON), e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}
	return e, nil
}

// Recent returns the most recent entries in reverse chronological order.
func (s *PgStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `
		SELECT `+entryColumns+`
		FROM sync_journal ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

// ByTask returns entries for one task, newest first.
func (s *PgStore) ByTask(ctx context.Context, taskID string, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `
		SELECT `+entryColumns+`
		FROM sync_journal WHERE task_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, taskID, limit)
}

// Since returns entries created after the given ID, for polling/SSE.
func (s *PgStore) Since(ctx context.Context, afterID string, limit int) ([]Entry, error) {
	return s.scanMany(ctx, `
		SELECT `+entryColumns+`
		FROM sync_journal WHERE (created_at, id) > (SELECT created_at, id FROM sync_journal WHERE id = $1)
		ORDER BY created_at ASC, id ASC LIMIT $2`, afterID, limit)
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Kind, &e.Result, &detailJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			e.Detail = map[string]any{"_raw": string(detailJSON)}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return entries, nil
}
