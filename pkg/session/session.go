// Package session holds short-lived per-user conversation state between
// a button press and the text message that completes it.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"
)

// Pending actions a user can be in the middle of.
const (
	AwaitComment      = "comment"
	AwaitCancelReason = "cancel_reason"
)

// Pending is what a user is expected to type next.
type Pending struct {
	Action    string
	TaskID    string
	ChatID    int64 // where the prompt was shown
	CreatedAt time.Time
}

// Store keeps one pending entry per user.
type Store interface {
	Put(ctx context.Context, userID int64, p Pending) error
	// Take returns and removes the user's pending entry.
	Take(ctx context.Context, userID int64) (Pending, bool, error)
	Clear(ctx context.Context, userID int64) error
}

const (
	DefaultTTL      = 30 * time.Minute
	DefaultCapacity = 10_000
)

// MemoryStore is an in-process Store. Entries expire after the TTL and do
// not survive a restart.
type MemoryStore struct {
	cache otter.Cache[int64, Pending]
}

// NewMemoryStore creates a MemoryStore. Zero values select the defaults.
func NewMemoryStore(ttl time.Duration, capacity int) (*MemoryStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := otter.MustBuilder[int64, Pending](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build session cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Put(_ context.Context, userID int64, p Pending) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.cache.Set(userID, p)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, userID int64) (Pending, bool, error) {
	p, ok := s.cache.Get(userID)
	if ok {
		s.cache.Delete(userID)
	}
	return p, ok, nil
}

func (s *MemoryStore) Clear(_ context.Context, userID int64) error {
	s.cache.Delete(userID)
	return nil
}

// Close stops the cache's background expiry.
func (s *MemoryStore) Close() {
	s.cache.Close()
}
