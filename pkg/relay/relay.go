// Package relay runs mirror passes off the request path:
//   - a bounded set of workers drains a queue of snapshots
//   - passes for the same task never overlap; different tasks run in parallel
//   - each pass starts from the bookkeeping stored when it takes the task's
//     lock, so a pass queued behind another sees the ids that one sent
//   - a pass whose primary step failed is retried with exponential delay,
//     reloading the task so the retry sees the latest state
//   - every outcome is appended to the sync journal
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"taskrelay/pkg/journal"
	"taskrelay/pkg/mirror"
	"taskrelay/pkg/task"
)

// ErrClosed is returned by Submit after Run has returned.
var ErrClosed = errors.New("relay: dispatcher closed")

// Syncer runs one pass.
type Syncer interface {
	Sync(ctx context.Context, snap mirror.Snapshot) (*mirror.Report, error)
}

// TaskLoader reloads a task before a pass and before a retry.
type TaskLoader interface {
	Get(ctx context.Context, id string) (*task.Task, error)
}

// Journal records pass outcomes.
type Journal interface {
	Append(ctx context.Context, taskID, kind, result string, detail map[string]any) (*journal.Entry, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Minute
	}
}

type job struct {
	snap    mirror.Snapshot
	attempt int
}

// Dispatcher queues and runs passes.
type Dispatcher struct {
	syncer  Syncer
	tasks   TaskLoader
	journal Journal
	cfg     Config
	sleep   Sleeper

	queue   chan job
	locks   *keyedMutex
	retries sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Dispatcher. journal may be nil.
func New(syncer Syncer, tasks TaskLoader, j Journal, cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		syncer:  syncer,
		tasks:   tasks,
		journal: j,
		cfg:     cfg,
		sleep:   sleepContext,
		queue:   make(chan job, cfg.QueueSize),
		locks:   newKeyedMutex(),
	}
}

// SetSleeper replaces the wait used between retries.
func (d *Dispatcher) SetSleeper(s Sleeper) {
	d.sleep = s
}

// Submit queues a pass. It blocks while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, snap mirror.Snapshot) error {
	if snap.Task == nil {
		return fmt.Errorf("submit pass: nil task")
	}
	return d.enqueue(ctx, job{snap: snap})
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case d.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncNow runs one pass in the caller's goroutine, still serialized with
// queued passes for the same task. No retry is scheduled.
func (d *Dispatcher) SyncNow(ctx context.Context, snap mirror.Snapshot) (*mirror.Report, error) {
	snap, report, err := d.syncLocked(ctx, snap)
	result := journal.ResultOK
	switch {
	case err != nil:
		result = journal.ResultFailed
	case report != nil:
		result = report.Result()
	}
	d.record(ctx, snap, 0, report, err, result)
	return report, err
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Printf("relay: running %d workers", d.cfg.Workers)

	var g errgroup.Group
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	err := g.Wait()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.retries.Wait()
	log.Println("relay: shutting down")
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.process(ctx, j)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("relay: panic in pass for task %s: %v", j.snap.Task.ID, r)
			d.record(ctx, j.snap, j.attempt, nil, fmt.Errorf("panic: %v", r), journal.ResultFailed)
		}
	}()

	snap, report, err := d.syncLocked(ctx, j.snap)
	j.snap = snap
	if errors.Is(err, task.ErrNotFound) {
		log.Printf("relay: task %s is gone, dropping pass", j.snap.Task.ID)
		d.record(ctx, j.snap, j.attempt, nil, err, journal.ResultAbandoned)
		return
	}

	if err == nil {
		d.record(ctx, j.snap, j.attempt, report, nil, report.Result())
		if len(report.Failures) > 0 {
			log.Printf("relay: task %s pass finished with %d failed steps", j.snap.Task.ID, len(report.Failures))
		}
		return
	}

	if !retryable(err) || j.attempt >= d.cfg.MaxRetries {
		log.Printf("relay: task %s pass abandoned after %d attempts: %v", j.snap.Task.ID, j.attempt+1, err)
		d.record(ctx, j.snap, j.attempt, report, err, journal.ResultAbandoned)
		return
	}

	delay := d.retryDelay(j.attempt)
	log.Printf("relay: task %s pass failed, retry %d/%d in %s: %v",
		j.snap.Task.ID, j.attempt+1, d.cfg.MaxRetries, delay, err)
	d.record(ctx, j.snap, j.attempt, report, err, journal.ResultFailed)
	d.scheduleRetry(ctx, j, delay)
}

// errReload marks a failed bookkeeping reload; the pass never reached the
// messaging API and is retried like a failed primary step.
var errReload = errors.New("relay: reload bookkeeping")

func retryable(err error) bool {
	return errors.Is(err, mirror.ErrPrimaryFailed) || errors.Is(err, errReload)
}

// syncLocked runs one pass under the task's lock, starting from the stored
// bookkeeping. The returned snapshot is the one the pass ran on.
func (d *Dispatcher) syncLocked(ctx context.Context, snap mirror.Snapshot) (mirror.Snapshot, *mirror.Report, error) {
	unlock := d.locks.Lock(snap.Task.ID)
	defer unlock()

	snap, err := d.withStoredMessaging(ctx, snap)
	if err != nil {
		return snap, nil, err
	}
	report, err := d.syncer.Sync(ctx, snap)
	return snap, report, err
}

// withStoredMessaging returns snap with the task's bookkeeping replaced by
// what is stored now. Content and Previous stay as submitted. Must be
// called with the task's lock held.
func (d *Dispatcher) withStoredMessaging(ctx context.Context, snap mirror.Snapshot) (mirror.Snapshot, error) {
	stored, err := d.tasks.Get(ctx, snap.Task.ID)
	if errors.Is(err, task.ErrNotFound) {
		return snap, err
	}
	if err != nil {
		return snap, fmt.Errorf("%w for task %s: %w", errReload, snap.Task.ID, err)
	}
	t := snap.Task.Clone()
	t.Messaging = stored.Messaging.Clone()
	snap.Task = t
	return snap, nil
}

// retryDelay doubles from RetryBase for each attempt already made, capped
// at RetryMax.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryBase
	b.MaxInterval = d.cfg.RetryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, j job, delay time.Duration) {
	d.retries.Add(1)
	go func() {
		defer d.retries.Done()
		if err := d.sleep(ctx, delay); err != nil {
			return
		}

		fresh, err := d.tasks.Get(ctx, j.snap.Task.ID)
		if err != nil {
			log.Printf("relay: reload task %s for retry: %v", j.snap.Task.ID, err)
			d.record(ctx, j.snap, j.attempt+1, nil, err, journal.ResultAbandoned)
			return
		}
		next := job{snap: j.snap, attempt: j.attempt + 1}
		next.snap.Task = fresh
		if err := d.enqueue(ctx, next); err != nil {
			log.Printf("relay: requeue task %s: %v", fresh.ID, err)
		}
	}()
}

func (d *Dispatcher) record(ctx context.Context, snap mirror.Snapshot, attempt int, report *mirror.Report, passErr error, result string) {
	if d.journal == nil {
		return
	}
	detail := map[string]any{"attempt": attempt}
	if snap.ActorID != "" {
		detail["actor_id"] = snap.ActorID
	}
	if passErr != nil {
		detail["error"] = passErr.Error()
	}
	if report != nil {
		if len(report.Failures) > 0 {
			failures := make([]string, 0, len(report.Failures))
			for _, f := range report.Failures {
				failures = append(failures, f.String())
			}
			detail["failures"] = failures
		}
		if len(report.FullResends) > 0 {
			detail["full_resends"] = report.FullResends
		}
		if report.Recreated {
			detail["recreated"] = true
		}
		if len(report.Notified) > 0 {
			detail["notified"] = report.Notified
		}
		if len(report.SkippedBots) > 0 {
			detail["skipped_bots"] = report.SkippedBots
		}
		if report.BookkeepingErr != nil {
			detail["bookkeeping_error"] = report.BookkeepingErr.Error()
		}
	}
	if _, err := d.journal.Append(ctx, snap.Task.ID, string(snap.Kind), result, detail); err != nil {
		log.Printf("relay: journal append for task %s: %v", snap.Task.ID, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
