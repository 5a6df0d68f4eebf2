package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrelay/pkg/actor"
	"taskrelay/pkg/mirror"
	"taskrelay/pkg/render"
	"taskrelay/pkg/session"
	"taskrelay/pkg/task"
	"taskrelay/pkg/telegram"
)

// --- Mocks ---

type mockReplier struct {
	answers []string
	sent    []telegram.SendMessageParams
}

func (r *mockReplier) AnswerCallbackQuery(_ context.Context, _, text string) error {
	r.answers = append(r.answers, text)
	return nil
}

func (r *mockReplier) SendMessage(_ context.Context, p telegram.SendMessageParams) (*telegram.Message, error) {
	r.sent = append(r.sent, p)
	return &telegram.Message{MessageID: int64(len(r.sent))}, nil
}

type mockTaskStore struct {
	tasks map[string]*task.Task
}

func (s *mockTaskStore) Get(_ context.Context, id string) (*task.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *mockTaskStore) Update(_ context.Context, id string, updates map[string]any) (*task.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	if v, ok := updates["comment"]; ok {
		t.Comment = v.(string)
	}
	if v, ok := updates["status"]; ok {
		t.Status = v.(string)
	}
	if v, ok := updates["cancel_reason"]; ok {
		t.CancelReason = v.(string)
	}
	return t.Clone(), nil
}

type mockUsers struct {
	byTG map[int64]*actor.Actor
}

func (u *mockUsers) ByTelegramID(_ context.Context, id int64) (*actor.Actor, error) {
	a, ok := u.byTG[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return a, nil
}

type mockSubmitter struct {
	mu    sync.Mutex
	snaps []mirror.Snapshot
}

func (s *mockSubmitter) Submit(_ context.Context, snap mirror.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

type interactFixture struct {
	api      *mockReplier
	tasks    *mockTaskStore
	sessions *session.MemoryStore
	submit   *mockSubmitter
	in       *Interactor
}

func newInteractFixture(t *testing.T) *interactFixture {
	t.Helper()
	sessions, err := session.NewMemoryStore(time.Minute, 100)
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	f := &interactFixture{
		api: &mockReplier{},
		tasks: &mockTaskStore{tasks: map[string]*task.Task{
			"t1": {ID: "t1", Title: "Fix <door>", Status: task.StatusNew, CreatorID: "alice", AssigneeIDs: []string{"bob"}},
			"t2": {ID: "t2", Title: "Solo", Status: task.StatusInProgress, CreatorID: "alice", AssigneeIDs: []string{"alice"}},
			"t3": {ID: "t3", Title: "Done", Status: task.StatusDone, CreatorID: "alice"},
		}},
		sessions: sessions,
		submit:   &mockSubmitter{},
	}
	users := &mockUsers{byTG: map[int64]*actor.Actor{
		100: {ID: "alice", TelegramID: 100},
		200: {ID: "bob", TelegramID: 200},
	}}
	f.in = NewInteractor(f.api, f.tasks, users, sessions, f.submit)
	return f
}

func press(from int64, action, taskID string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:   "cq",
		From: telegram.User{ID: from},
		Data: render.CallbackData(action, taskID),
	}}
}

func say(from int64, text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		Chat: telegram.Chat{ID: from, Type: "private"},
		From: &telegram.User{ID: from},
		Text: text,
	}}
}

func TestCommentFlow(t *testing.T) {
	f := newInteractFixture(t)
	ctx := context.Background()

	f.in.Handle(ctx, press(200, render.ActionComment, "t1"))
	assert.Equal(t, []string{answerComment}, f.api.answers)
	require.Len(t, f.api.sent, 1)
	assert.Contains(t, f.api.sent[0].Text, "Fix &lt;door&gt;")

	f.in.Handle(ctx, say(200, "  on it  "))

	assert.Equal(t, "on it", f.tasks.tasks["t1"].Comment)
	require.Len(t, f.submit.snaps, 1)
	snap := f.submit.snaps[0]
	assert.Equal(t, mirror.KindUpdated, snap.Kind)
	assert.Equal(t, "bob", snap.ActorID)
	assert.Empty(t, snap.Previous.Comment)
	assert.Equal(t, "on it", snap.Task.Comment)
	assert.Equal(t, "Comment saved.", f.api.sent[len(f.api.sent)-1].Text)

	f.in.Handle(ctx, say(200, "second message"))
	assert.Len(t, f.submit.snaps, 1, "pending entry is consumed by the first text")
}

func TestCancelFlow(t *testing.T) {
	f := newInteractFixture(t)
	ctx := context.Background()

	f.in.Handle(ctx, press(100, render.ActionCancel, "t1"))
	assert.Equal(t, []string{answerCancel}, f.api.answers)

	f.in.Handle(ctx, say(100, "duplicate"))

	got := f.tasks.tasks["t1"]
	assert.Equal(t, task.StatusCanceled, got.Status)
	assert.Equal(t, "duplicate", got.CancelReason)
	require.Len(t, f.submit.snaps, 1)
	assert.Equal(t, task.StatusNew, f.submit.snaps[0].Previous.Status)
}

func TestCreatorSoleAssigneeCannotCancelInProgress(t *testing.T) {
	f := newInteractFixture(t)
	ctx := context.Background()

	f.in.Handle(ctx, press(100, render.ActionCancel, "t2"))
	assert.Equal(t, []string{answerOwnTask}, f.api.answers)

	f.in.Handle(ctx, say(100, "reason"))
	assert.Equal(t, task.StatusInProgress, f.tasks.tasks["t2"].Status)
	assert.Empty(t, f.submit.snaps)
}

func TestCommentAllowedOnOwnInProgressTask(t *testing.T) {
	f := newInteractFixture(t)
	ctx := context.Background()

	f.in.Handle(ctx, press(100, render.ActionComment, "t2"))
	f.in.Handle(ctx, say(100, "progress"))
	assert.Equal(t, "progress", f.tasks.tasks["t2"].Comment)
	assert.Len(t, f.submit.snaps, 1)
}

func TestCallbackRefusals(t *testing.T) {
	tests := []struct {
		name   string
		update telegram.Update
		want   string
	}{
		{"closed task", press(100, render.ActionComment, "t3"), answerClosed},
		{"missing task", press(100, render.ActionComment, "nope"), answerNotFound},
		{"unregistered user", press(999, render.ActionComment, "t1"), answerNotRegistered},
		{"unknown action", press(100, "archive", "t1"), answerUnknown},
		{"malformed data", telegram.Update{CallbackQuery: &telegram.CallbackQuery{ID: "cq", From: telegram.User{ID: 100}, Data: "garbage"}}, answerUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInteractFixture(t)
			f.in.Handle(context.Background(), tt.update)
			assert.Equal(t, []string{tt.want}, f.api.answers)
			assert.Empty(t, f.api.sent)
		})
	}
}

func TestTextWithoutPendingIsIgnored(t *testing.T) {
	f := newInteractFixture(t)
	f.in.Handle(context.Background(), say(200, "hello"))
	assert.Empty(t, f.api.sent)
	assert.Empty(t, f.submit.snaps)
}

func TestTaskClosedBeforeTextArrives(t *testing.T) {
	f := newInteractFixture(t)
	ctx := context.Background()

	f.in.Handle(ctx, press(200, render.ActionComment, "t1"))
	f.tasks.tasks["t1"].Status = task.StatusDone
	f.in.Handle(ctx, say(200, "late"))

	assert.Empty(t, f.tasks.tasks["t1"].Comment)
	assert.Empty(t, f.submit.snaps)
	assert.Equal(t, answerClosed, f.api.sent[len(f.api.sent)-1].Text)
}
