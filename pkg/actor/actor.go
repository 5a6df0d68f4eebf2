package actor

import (
	"context"
	"time"
)

// Actor is a person (or automation account) that participates in tasks.
type Actor struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Username   string    `json:"username"`    // chat handle, without @
	TelegramID int64     `json:"telegram_id"` // private chat id for direct notices
	IsBot      bool      `json:"is_bot"`      // automation account; never receives DMs
	CreatedAt  time.Time `json:"created_at"`
}

// Directory is what the sync engine needs from the user store.
type Directory interface {
	// Resolve returns the known actors among ids. Unknown ids are absent
	// from the result, not an error.
	Resolve(ctx context.Context, ids []string) (map[string]Actor, error)

	// MarkAsBot flags an actor as an automation account. Idempotent.
	MarkAsBot(ctx context.Context, id string) error
}

// Store is the contract for actor persistence.
type Store interface {
	Directory

	// Register creates or returns an existing actor. Idempotent:
	// matches on telegram id.
	Register(ctx context.Context, name, username string, telegramID int64) (*Actor, error)

	// Get returns an actor by ID.
	Get(ctx context.Context, id string) (*Actor, error)

	// ByTelegramID returns the actor bound to a chat user id.
	ByTelegramID(ctx context.Context, telegramID int64) (*Actor, error)

	// List returns all actors.
	List(ctx context.Context) ([]Actor, error)

	// EnsureTable creates the actors table if it doesn't exist.
	EnsureTable(ctx context.Context) error
}
