package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrelay/pkg/journal"
	"taskrelay/pkg/mirror"
	"taskrelay/pkg/task"
)

// --- Mock syncer ---

type mockSyncer struct {
	mu       sync.Mutex
	calls    []mirror.Snapshot
	failures map[string]int // task id -> primary failures left
	active   map[string]int
	maxPer   map[string]int
	hook     func(snap mirror.Snapshot)
}

func newMockSyncer() *mockSyncer {
	return &mockSyncer{failures: map[string]int{}, active: map[string]int{}, maxPer: map[string]int{}}
}

func (s *mockSyncer) Sync(_ context.Context, snap mirror.Snapshot) (*mirror.Report, error) {
	id := snap.Task.ID
	s.mu.Lock()
	s.calls = append(s.calls, snap)
	s.active[id]++
	if s.active[id] > s.maxPer[id] {
		s.maxPer[id] = s.active[id]
	}
	fail := s.failures[id] > 0
	if fail {
		s.failures[id]--
	}
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(snap)
	}

	s.mu.Lock()
	s.active[id]--
	s.mu.Unlock()

	report := &mirror.Report{TaskID: id}
	if fail {
		return report, fmt.Errorf("sync task %s: %w: boom", id, mirror.ErrPrimaryFailed)
	}
	return report, nil
}

func (s *mockSyncer) Calls() []mirror.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mirror.Snapshot(nil), s.calls...)
}

// --- Mock task loader ---

type mockTasks struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func (m *mockTasks) Get(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

// --- Mock journal ---

type mockJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *mockJournal) Append(_ context.Context, taskID, kind, result string, detail map[string]any) (*journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := journal.Entry{ID: fmt.Sprint(len(j.entries) + 1), TaskID: taskID, Kind: kind, Result: result, Detail: detail}
	j.entries = append(j.entries, e)
	return &e, nil
}

func (j *mockJournal) Results() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.entries {
		out = append(out, e.Result)
	}
	return out
}

type fixture struct {
	syncer  *mockSyncer
	tasks   *mockTasks
	journal *mockJournal
	d       *Dispatcher

	mu    sync.Mutex
	slept []time.Duration
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		syncer:  newMockSyncer(),
		tasks:   &mockTasks{tasks: map[string]*task.Task{}},
		journal: &mockJournal{},
	}
	f.d = New(f.syncer, f.tasks, f.journal, cfg)
	f.d.SetSleeper(func(_ context.Context, d time.Duration) error {
		f.mu.Lock()
		f.slept = append(f.slept, d)
		f.mu.Unlock()
		return nil
	})
	return f
}

func (f *fixture) seed(ids ...string) {
	f.tasks.mu.Lock()
	defer f.tasks.mu.Unlock()
	for _, id := range ids {
		f.tasks.tasks[id] = &task.Task{ID: id}
	}
}

func (f *fixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (f *fixture) sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.slept...)
}

func TestSubmitRunsPassAndJournals(t *testing.T) {
	f := newFixture(Config{Workers: 2})
	f.seed("t1")
	stop := f.run(t)
	defer stop()

	tk := &task.Task{ID: "t1", Title: "a"}
	require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: tk, Kind: mirror.KindCreated, ActorID: "u1"}))

	require.Eventually(t, func() bool { return len(f.journal.Results()) == 1 }, 2*time.Second, 5*time.Millisecond)
	f.journal.mu.Lock()
	e := f.journal.entries[0]
	f.journal.mu.Unlock()
	assert.Equal(t, "t1", e.TaskID)
	assert.Equal(t, "created", e.Kind)
	assert.Equal(t, journal.ResultOK, e.Result)
	assert.Equal(t, "u1", e.Detail["actor_id"])
}

func TestPrimaryFailureRetriesWithFreshTask(t *testing.T) {
	f := newFixture(Config{Workers: 1, MaxRetries: 3, RetryBase: time.Second})
	f.syncer.failures["t1"] = 2
	f.tasks.tasks["t1"] = &task.Task{ID: "t1", Title: "fresh"}
	stop := f.run(t)
	defer stop()

	require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "t1", Title: "stale"}, Kind: mirror.KindUpdated}))

	require.Eventually(t, func() bool { return len(f.syncer.Calls()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.journal.Results()) == 3 }, 2*time.Second, 5*time.Millisecond)

	calls := f.syncer.Calls()
	assert.Equal(t, "stale", calls[0].Task.Title)
	assert.Equal(t, "fresh", calls[1].Task.Title)
	assert.Equal(t, mirror.KindUpdated, calls[2].Kind)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps())
	assert.Equal(t, []string{journal.ResultFailed, journal.ResultFailed, journal.ResultOK}, f.journal.Results())
}

func TestPrimaryFailureAbandonedAfterMaxRetries(t *testing.T) {
	f := newFixture(Config{Workers: 1, MaxRetries: 1, RetryBase: time.Second})
	f.syncer.failures["t1"] = 5
	f.tasks.tasks["t1"] = &task.Task{ID: "t1"}
	stop := f.run(t)
	defer stop()

	require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "t1"}, Kind: mirror.KindUpdated}))

	require.Eventually(t, func() bool { return len(f.journal.Results()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{journal.ResultFailed, journal.ResultAbandoned}, f.journal.Results())
	assert.Len(t, f.syncer.Calls(), 2)
}

func TestRetryDelayIsCapped(t *testing.T) {
	d := New(nil, nil, nil, Config{RetryBase: time.Second, RetryMax: 5 * time.Second})
	var got []time.Duration
	for attempt := 0; attempt < 5; attempt++ {
		got = append(got, d.retryDelay(attempt))
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
}

func TestPassesForOneTaskNeverOverlap(t *testing.T) {
	f := newFixture(Config{Workers: 4})
	f.seed("same")
	f.syncer.hook = func(mirror.Snapshot) { time.Sleep(2 * time.Millisecond) }
	stop := f.run(t)
	defer stop()

	for i := 0; i < 12; i++ {
		require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "same"}, Kind: mirror.KindUpdated}))
	}
	require.Eventually(t, func() bool { return len(f.journal.Results()) == 12 }, 5*time.Second, 5*time.Millisecond)

	f.syncer.mu.Lock()
	defer f.syncer.mu.Unlock()
	assert.Equal(t, 1, f.syncer.maxPer["same"])
	assert.Zero(t, f.d.locks.size())
}

func TestDifferentTasksRunConcurrently(t *testing.T) {
	f := newFixture(Config{Workers: 2})
	f.seed("a", "b")
	bStarted := make(chan struct{})
	var waited bool
	f.syncer.hook = func(snap mirror.Snapshot) {
		switch snap.Task.ID {
		case "a":
			select {
			case <-bStarted:
				waited = true
			case <-time.After(2 * time.Second):
			}
		case "b":
			close(bStarted)
		}
	}
	stop := f.run(t)
	defer stop()

	require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "a"}}))
	require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "b"}}))
	require.Eventually(t, func() bool { return len(f.journal.Results()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, waited, "task a should see task b start while it is still running")
}

func TestSyncNowJournalsAndReturnsError(t *testing.T) {
	f := newFixture(Config{})
	f.seed("t1")
	f.syncer.failures["t1"] = 1

	_, err := f.d.SyncNow(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "t1"}, Kind: mirror.KindResync})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mirror.ErrPrimaryFailed))

	report, err := f.d.SyncNow(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "t1"}, Kind: mirror.KindResync})
	require.NoError(t, err)
	assert.Equal(t, "t1", report.TaskID)
	assert.Equal(t, []string{journal.ResultFailed, journal.ResultOK}, f.journal.Results())
	assert.Empty(t, f.sleeps(), "SyncNow never schedules a retry")
}

func TestPassStartsFromStoredMessaging(t *testing.T) {
	f := newFixture(Config{Workers: 1})
	f.tasks.tasks["t1"] = &task.Task{ID: "t1", Title: "stored", Messaging: task.Messaging{ChatID: -100, MessageID: 7}}
	stop := f.run(t)
	defer stop()

	submitted := &task.Task{ID: "t1", Title: "submitted"}
	prev := &task.Task{ID: "t1", Title: "before"}
	require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: submitted, Previous: prev, Kind: mirror.KindUpdated}))
	require.Eventually(t, func() bool { return len(f.journal.Results()) == 1 }, 2*time.Second, 5*time.Millisecond)

	calls := f.syncer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "submitted", calls[0].Task.Title, "content comes from the snapshot")
	assert.EqualValues(t, 7, calls[0].Task.Messaging.MessageID, "bookkeeping comes from the store")
	assert.Same(t, prev, calls[0].Previous)
	assert.Zero(t, submitted.Messaging.MessageID, "submitted task is not mutated")
}

func TestPassForDeletedTaskIsAbandoned(t *testing.T) {
	f := newFixture(Config{Workers: 1, MaxRetries: 3})
	stop := f.run(t)
	defer stop()

	require.NoError(t, f.d.Submit(context.Background(), mirror.Snapshot{Task: &task.Task{ID: "gone"}, Kind: mirror.KindUpdated}))
	require.Eventually(t, func() bool { return len(f.journal.Results()) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{journal.ResultAbandoned}, f.journal.Results())
	assert.Empty(t, f.syncer.Calls())
	assert.Empty(t, f.sleeps())
}

func TestSubmitRejectsNilTask(t *testing.T) {
	f := newFixture(Config{})
	assert.Error(t, f.d.Submit(context.Background(), mirror.Snapshot{}))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
