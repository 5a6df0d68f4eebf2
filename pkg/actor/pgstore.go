package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed actor store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const actorColumns = `id, name, username, telegram_id, is_bot, created_at`

// EnsureTable creates the actors table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS actors (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			username    TEXT NOT NULL DEFAULT '',
			telegram_id BIGINT,
			is_bot      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS actors_telegram_idx ON actors(telegram_id) WHERE telegram_id IS NOT NULL`)
	return err
}

// Register creates or returns an existing actor. Idempotent.
func (s *PgStore) Register(ctx context.Context, name, username string, telegramID int64) (*Actor, error) {
	if telegramID != 0 {
		if a, err := s.ByTelegramID(ctx, telegramID); err == nil {
			return a, nil
		}
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().Truncate(time.Microsecond)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO actors (id, name, username, telegram_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		id, name, username, nilIfZero(telegramID), now)
	if err != nil {
		return nil, fmt.Errorf("register actor %s: %w", name, err)
	}

	// Re-fetch to handle race conditions (ON CONFLICT DO NOTHING)
	if telegramID != 0 {
		a, err := s.ByTelegramID(ctx, telegramID)
		if err != nil {
			return nil, fmt.Errorf("register actor %s: re-fetch failed: %w", name, err)
		}
		return a, nil
	}
	return s.Get(ctx, id)
}

// Get returns an actor by ID.
func (s *PgStore) Get(ctx context.Context, id string) (*Actor, error) {
	a, err := s.scanOne(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get actor %s: %w", id, err)
	}
	return a, nil
}

// ByTelegramID returns the actor bound to a chat user id.
func (s *PgStore) ByTelegramID(ctx context.Context, telegramID int64) (*Actor, error) {
	a, err := s.scanOne(ctx, `SELECT `+actorColumns+` FROM actors WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return nil, fmt.Errorf("actor by telegram id %d: %w", telegramID, err)
	}
	return a, nil
}

// Resolve returns the known actors among ids.
func (s *PgStore) Resolve(ctx context.Context, ids []string) (map[string]Actor, error) {
	out := make(map[string]Actor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve actors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = *a
	}
	return out, rows.Err()
}

// MarkAsBot flags an actor as an automation account.
func (s *PgStore) MarkAsBot(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE actors SET is_bot = TRUE WHERE id = $1 AND is_bot = FALSE`, id)
	if err != nil {
		return fmt.Errorf("mark actor %s as bot: %w", id, err)
	}
	return nil
}

// List returns all actors.
func (s *PgStore) List(ctx context.Context) ([]Actor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var actors []Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}

func (s *PgStore) scanOne(ctx context.Context, query string, args ...any) (*Actor, error) {
	return scanActor(s.pool.QueryRow(ctx, query, args...))
}

func scanActor(row interface{ Scan(dest ...any) error }) (*Actor, error) {
	var a Actor
	var telegramID *int64
	if err := row.Scan(&a.ID, &a.Name, &a.Username, &telegramID, &a.IsBot, &a.CreatedAt); err != nil {
		return nil, err
	}
	if telegramID != nil {
		a.TelegramID = *telegramID
	}
	return &a, nil
}

func nilIfZero(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
