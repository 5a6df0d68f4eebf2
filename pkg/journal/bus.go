package journal

import (
	"context"
	"sync"
	"sync/atomic"
)

// subscriptionBuffer is how many entries a subscriber may fall behind
// before new ones are dropped for it.
const subscriptionBuffer = 64

// Subscription receives journal entries appended after it was created.
type Subscription struct {
	C <-chan *Entry

	ch      chan *Entry
	taskID  string
	dropped atomic.Int64
}

// Dropped is the number of entries this subscriber missed because it was
// behind. Readers that see it grow should re-read the journal.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(e *Entry) bool {
	return s.taskID == "" || s.taskID == e.TaskID
}

// Bus wraps a Store and notifies in-process subscribers of every pass
// recorded through it.
type Bus struct {
	Store
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus creates a Bus wrapping the given store.
func NewBus(store Store) *Bus {
	return &Bus{
		Store: store,
		subs:  make(map[*Subscription]struct{}),
	}
}

// Append records the entry, then hands it to every subscriber watching its
// task. A subscriber that is behind misses it; Append never blocks.
func (b *Bus) Append(ctx context.Context, taskID, kind, result string, detail map[string]any) (*Entry, error) {
	e, err := b.Store.Append(ctx, taskID, kind, result, detail)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
	return e, nil
}

// Subscribe watches one task's passes, or every task when taskID is empty.
func (b *Bus) Subscribe(taskID string) *Subscription {
	ch := make(chan *Entry, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, taskID: taskID}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}
