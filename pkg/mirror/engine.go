// Package mirror keeps the chat messages that represent a task consistent
// with the task's current state. One call to Engine.Sync is one pass:
// primary card, preview album, attachments, comment, participant notices,
// then a single bookkeeping write.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"taskrelay/pkg/actor"
	"taskrelay/pkg/classify"
	"taskrelay/pkg/media"
	"taskrelay/pkg/render"
	"taskrelay/pkg/task"
)

// ErrPrimaryFailed means the primary card could not be created or updated.
// Nothing else in the pass ran.
var ErrPrimaryFailed = errors.New("mirror: primary message step failed")

// Kind says what change triggered a pass.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindResync  Kind = "resync"
)

// Snapshot is the input of one pass. Task carries the bookkeeping as
// currently persisted. Previous is the task before the change, nil on
// create and on a manual resync.
type Snapshot struct {
	Task     *task.Task
	Previous *task.Task
	ActorID  string // who caused the change; excluded from notices
	Kind     Kind
}

// Failure is one abandoned sub-step.
type Failure struct {
	Step      string
	Condition classify.Condition
	Err       error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s: %v", f.Step, f.Condition, f.Err)
}

// Report describes what a pass did.
type Report struct {
	TaskID         string
	Messaging      task.Messaging      // bookkeeping after the pass
	Patch          task.MessagingPatch // delta written (or attempted)
	Failures       []Failure
	FullResends    []string // steps that had to resend their whole set
	Recreated      bool     // primary was deleted and sent again
	Notified       []string // participant ids that got a notice
	SkippedBots    []string // participant ids flagged as automation accounts
	BookkeepingErr error
}

// Result summarizes the report for logs and the journal.
func (r *Report) Result() string {
	if len(r.Failures) > 0 || r.BookkeepingErr != nil {
		return "partial"
	}
	return "ok"
}

// Config addresses where task cards live.
type Config struct {
	ChatID       int64
	TopicID      int64
	AlbumChatID  int64 // zero routes attachments next to the primary
	AlbumTopicID int64
	CaptionLimit int // characters; a longer card cannot be a photo caption
}

const defaultCaptionLimit = 1024

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSleeper replaces the wait used before a rate-limit retry.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithRegistry registers pass and call metrics on r.
func WithRegistry(r *prometheus.Registry) Option {
	return func(e *Engine) { e.metrics = newMetricsProvider(r) }
}

// WithResolver maps public attachment URLs to local files.
func WithResolver(r media.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithShrinker sets the image transcoder for local images.
func WithShrinker(s ImageShrinker) Option {
	return func(e *Engine) { e.shrinker = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs sync passes. It holds no per-task state; concurrent passes
// for different tasks are safe, passes for one task must be serialized by
// the caller.
type Engine struct {
	msg      Messenger
	tasks    BookkeepingStore
	users    actor.Directory
	renderer render.Renderer
	resolver media.Resolver
	shrinker ImageShrinker
	cfg      Config
	log      *slog.Logger
	sleep    Sleeper
	metrics  *metricsProvider
	now      func() time.Time
}

// New creates an Engine.
func New(msg Messenger, tasks BookkeepingStore, users actor.Directory, renderer render.Renderer, cfg Config, opts ...Option) *Engine {
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = defaultCaptionLimit
	}
	e := &Engine{
		msg:      msg,
		tasks:    tasks,
		users:    users,
		renderer: renderer,
		cfg:      cfg,
		log:      slog.Default(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// view is one task state prepared for comparison.
type view struct {
	task     *task.Task
	rendered render.Rendered
	plan     media.Plan
}

// pass is the mutable state of one Sync call.
type pass struct {
	e       *Engine
	taskID  string
	cur     view
	prev    *view // nil when nothing was mirrored before
	state   task.Messaging
	report  *Report
	primary target

	// detached steps had their messages threaded under a card that was
	// torn down; whatever they still record must not be kept in place.
	detached map[string]bool
}

func (p *pass) detach(step string) {
	if p.detached == nil {
		p.detached = map[string]bool{}
	}
	p.detached[step] = true
}

func (p *pass) fail(ctx context.Context, step string, res classify.Result, err error, attrs ...slog.Attr) {
	p.report.Failures = append(p.report.Failures, Failure{Step: step, Condition: res.Condition, Err: err})
	args := []any{
		slog.String("task_id", p.taskID),
		slog.String("step", step),
		slog.String("condition", res.Condition.String()),
		slog.Any("error", err),
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	p.e.log.ErrorContext(ctx, "sync step failed", args...)
}

// Sync runs one pass for snap. The returned Report is never nil. The error
// is non-nil only when the primary step failed; every other failure is in
// Report.Failures and the pass continues past it.
func (e *Engine) Sync(ctx context.Context, snap Snapshot) (*Report, error) {
	start := e.now()
	t := snap.Task
	old := t.Messaging.Clone()
	report := &Report{TaskID: t.ID}

	p := &pass{
		e:      e,
		taskID: t.ID,
		cur:    e.view(t),
		state:  old.Clone(),
		report: report,
	}
	switch {
	case snap.Previous != nil:
		v := e.view(snap.Previous)
		p.prev = &v
	case old.MessageID != 0:
		// Nothing to compare against: treat the current state as what is
		// shown, so only missing slots are filled.
		v := p.cur
		p.prev = &v
	}

	perr := e.syncPrimary(ctx, p)
	if perr == nil {
		e.syncPreview(ctx, p)
		e.syncAttachments(ctx, p)
		e.syncComment(ctx, p)
		if shouldNotify(snap) {
			e.notify(ctx, p, snap.ActorID)
		}
	}

	e.persist(ctx, p, old)

	e.metrics.observeDuration(e.now().Sub(start))
	if perr != nil {
		e.metrics.incPass("primary_failed")
		return report, fmt.Errorf("sync task %s: %w: %w", t.ID, ErrPrimaryFailed, perr)
	}
	e.metrics.incPass(report.Result())
	e.log.InfoContext(ctx, "sync pass complete",
		slog.String("task_id", t.ID),
		slog.String("kind", string(snap.Kind)),
		slog.String("result", report.Result()),
		slog.Int("failures", len(report.Failures)))
	return report, nil
}

func (e *Engine) view(t *task.Task) view {
	r := e.renderer.Render(t)
	return view{task: t, rendered: r, plan: media.Normalize(t, r.InlineImages, e.resolver)}
}

// persist writes the bookkeeping delta in one call. A failed write leaves
// the new messages unknown to the next pass, which will send them again.
func (e *Engine) persist(ctx context.Context, p *pass, old task.Messaging) {
	p.report.Messaging = p.state.Clone()
	if sameMessaging(old, p.state) {
		return
	}
	patch := DiffMessaging(old, p.state)
	p.report.Patch = patch
	if err := e.tasks.PatchMessaging(ctx, p.taskID, patch); err != nil {
		p.report.BookkeepingErr = err
		e.log.ErrorContext(ctx, "bookkeeping write failed; messages sent in this pass may be duplicated next pass",
			slog.String("task_id", p.taskID),
			slog.Any("error", err))
	}
}

// shouldNotify: notices go out on create, status change and comment change.
func shouldNotify(snap Snapshot) bool {
	switch {
	case snap.Kind == KindResync:
		return false
	case snap.Previous == nil:
		return snap.Kind == KindCreated
	default:
		return snap.Previous.Status != snap.Task.Status || snap.Previous.Comment != snap.Task.Comment
	}
}
