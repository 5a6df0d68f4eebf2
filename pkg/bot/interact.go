package bot

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"

	"taskrelay/pkg/actor"
	"taskrelay/pkg/mirror"
	"taskrelay/pkg/render"
	"taskrelay/pkg/session"
	"taskrelay/pkg/task"
	"taskrelay/pkg/telegram"
)

// Replier is how the interactor talks back to users.
type Replier interface {
	AnswerCallbackQuery(ctx context.Context, id, text string) error
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (*telegram.Message, error)
}

// TaskStore is what the interactor reads and changes.
type TaskStore interface {
	Get(ctx context.Context, id string) (*task.Task, error)
	Update(ctx context.Context, id string, updates map[string]any) (*task.Task, error)
}

// Users maps chat accounts to actors.
type Users interface {
	ByTelegramID(ctx context.Context, telegramID int64) (*actor.Actor, error)
}

// Submitter queues a mirror pass.
type Submitter interface {
	Submit(ctx context.Context, snap mirror.Snapshot) error
}

// Callback answers shown to the user.
const (
	answerUnknown       = "Unknown action."
	answerNotRegistered = "You are not registered."
	answerNotFound      = "Task not found."
	answerClosed        = "This task is already closed."
	answerOwnTask       = "You can't cancel a task you are doing yourself."
	answerComment       = "Send your comment as a message."
	answerCancel        = "Send the cancellation reason as a message."
)

// Interactor handles card button presses and the text that follows them.
// Between the two, what the user is doing lives in the session store.
type Interactor struct {
	api      Replier
	tasks    TaskStore
	users    Users
	sessions session.Store
	submit   Submitter
}

// NewInteractor creates an Interactor.
func NewInteractor(api Replier, tasks TaskStore, users Users, sessions session.Store, submit Submitter) *Interactor {
	return &Interactor{api: api, tasks: tasks, users: users, sessions: sessions, submit: submit}
}

func (in *Interactor) Handle(ctx context.Context, u telegram.Update) {
	switch {
	case u.CallbackQuery != nil:
		in.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil && u.Message.Text != "":
		in.handleText(ctx, u.Message)
	}
}

func (in *Interactor) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	action, taskID, ok := render.ParseCallback(cq.Data)
	if !ok || (action != render.ActionComment && action != render.ActionCancel) {
		in.answer(ctx, cq, answerUnknown)
		return
	}

	user, err := in.users.ByTelegramID(ctx, cq.From.ID)
	if err != nil {
		in.answer(ctx, cq, answerNotRegistered)
		return
	}
	t, err := in.tasks.Get(ctx, taskID)
	if err != nil {
		log.Printf("bot: load task %s: %v", taskID, err)
		in.answer(ctx, cq, answerNotFound)
		return
	}
	if closed(t) {
		in.answer(ctx, cq, answerClosed)
		return
	}

	p := session.Pending{TaskID: t.ID, ChatID: cq.From.ID}
	var prompt string
	switch action {
	case render.ActionComment:
		p.Action = session.AwaitComment
		prompt = answerComment
	case render.ActionCancel:
		if ownInProgressTask(t, user.ID) {
			in.answer(ctx, cq, answerOwnTask)
			return
		}
		p.Action = session.AwaitCancelReason
		prompt = answerCancel
	}

	if err := in.sessions.Put(ctx, cq.From.ID, p); err != nil {
		log.Printf("bot: store pending %s for user %d: %v", p.Action, cq.From.ID, err)
		return
	}
	in.answer(ctx, cq, prompt)
	in.reply(ctx, cq.From.ID, fmt.Sprintf("%s\n<b>%s</b>", prompt, html.EscapeString(t.Title)))
}

// ownInProgressTask: a creator who is also the only assignee may not cancel
// the task while it is in progress.
func ownInProgressTask(t *task.Task, actorID string) bool {
	return t.Status == task.StatusInProgress &&
		t.CreatorID == actorID &&
		len(t.AssigneeIDs) == 1 && t.AssigneeIDs[0] == actorID
}

func closed(t *task.Task) bool {
	return t.Status == task.StatusDone || t.Status == task.StatusCanceled
}

func (in *Interactor) handleText(ctx context.Context, msg *telegram.Message) {
	from := msg.From.ID
	p, ok, err := in.sessions.Take(ctx, from)
	if err != nil {
		log.Printf("bot: load pending for user %d: %v", from, err)
		return
	}
	if !ok {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	user, err := in.users.ByTelegramID(ctx, from)
	if err != nil {
		in.reply(ctx, msg.Chat.ID, answerNotRegistered)
		return
	}
	prev, err := in.tasks.Get(ctx, p.TaskID)
	if err != nil {
		log.Printf("bot: load task %s: %v", p.TaskID, err)
		in.reply(ctx, msg.Chat.ID, answerNotFound)
		return
	}
	if closed(prev) {
		in.reply(ctx, msg.Chat.ID, answerClosed)
		return
	}

	var updates map[string]any
	var done string
	switch p.Action {
	case session.AwaitComment:
		updates = map[string]any{"comment": text}
		done = "Comment saved."
	case session.AwaitCancelReason:
		if ownInProgressTask(prev, user.ID) {
			in.reply(ctx, msg.Chat.ID, answerOwnTask)
			return
		}
		updates = map[string]any{"status": task.StatusCanceled, "cancel_reason": text}
		done = "Task canceled."
	default:
		return
	}

	updated, err := in.tasks.Update(ctx, p.TaskID, updates)
	if err != nil {
		log.Printf("bot: apply %s to task %s: %v", p.Action, p.TaskID, err)
		in.reply(ctx, msg.Chat.ID, "Could not save, please try again.")
		return
	}
	log.Printf("bot: user %s applied %s to task %s", user.ID, p.Action, p.TaskID)

	snap := mirror.Snapshot{Task: updated, Previous: prev, ActorID: user.ID, Kind: mirror.KindUpdated}
	if err := in.submit.Submit(ctx, snap); err != nil {
		log.Printf("bot: submit pass for task %s: %v", p.TaskID, err)
	}
	in.reply(ctx, msg.Chat.ID, done)
}

func (in *Interactor) answer(ctx context.Context, cq *telegram.CallbackQuery, text string) {
	if err := in.api.AnswerCallbackQuery(ctx, cq.ID, text); err != nil {
		log.Printf("bot: answer callback %s: %v", cq.ID, err)
	}
}

func (in *Interactor) reply(ctx context.Context, chatID int64, text string) {
	_, err := in.api.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: telegram.ParseModeHTML,
	})
	if err != nil {
		log.Printf("bot: reply to chat %d: %v", chatID, err)
	}
}
