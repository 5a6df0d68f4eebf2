package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"taskrelay/pkg/actor"
	"taskrelay/pkg/render"
	"taskrelay/pkg/task"
	"taskrelay/pkg/telegram"
)

func apiErr(code int, desc string) *telegram.APIError {
	body, _ := json.Marshal(map[string]any{"ok": false, "error_code": code, "description": desc})
	return &telegram.APIError{Code: code, Description: desc, Body: body}
}

func rateLimitErr(seconds int) *telegram.APIError {
	body, _ := json.Marshal(map[string]any{
		"ok":          false,
		"error_code":  429,
		"description": fmt.Sprintf("Too Many Requests: retry after %d", seconds),
		"parameters":  map[string]any{"retry_after": seconds},
	})
	return &telegram.APIError{Code: 429, Description: "Too Many Requests", Body: body}
}

type call struct {
	Method  string
	ChatID  int64
	ID      int64 // message id edited/deleted, or reply target for sends
	Text    string
	Items   int
	Payload any
}

// fakeMessenger records every call and hands out increasing message ids.
// Errors queued with failNext are returned by the next calls of that method.
type fakeMessenger struct {
	mu     sync.Mutex
	nextID int64
	calls  []call
	errs   map[string][]error
	byChat map[int64]error // SendMessage errors by chat id
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 100, errs: map[string][]error{}, byChat: map[int64]error{}}
}

func (f *fakeMessenger) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = append(f.errs[method], errs...)
}

func (f *fakeMessenger) record(c call) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if q := f.errs[c.Method]; len(q) > 0 {
		f.errs[c.Method] = q[1:]
		if q[0] != nil {
			return 0, q[0]
		}
	}
	if c.Method == "sendMessage" {
		if err := f.byChat[c.ChatID]; err != nil {
			return 0, err
		}
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMessenger) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeMessenger) Count(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeMessenger) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeMessenger) SendMessage(_ context.Context, p telegram.SendMessageParams) (*telegram.Message, error) {
	id, err := f.record(call{Method: "sendMessage", ChatID: p.ChatID, ID: p.ReplyTo, Text: p.Text, Payload: p})
	if err != nil {
		return nil, err
	}
	return &telegram.Message{MessageID: id, Chat: telegram.Chat{ID: p.ChatID}}, nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, p telegram.EditMessageTextParams) error {
	_, err := f.record(call{Method: "editMessageText", ChatID: p.ChatID, ID: p.MessageID, Text: p.Text, Payload: p})
	return err
}

func (f *fakeMessenger) EditMessageCaption(_ context.Context, p telegram.EditMessageCaptionParams) error {
	_, err := f.record(call{Method: "editMessageCaption", ChatID: p.ChatID, ID: p.MessageID, Text: p.Caption, Payload: p})
	return err
}

func (f *fakeMessenger) EditMessageReplyMarkup(_ context.Context, p telegram.EditMessageReplyMarkupParams) error {
	_, err := f.record(call{Method: "editMessageReplyMarkup", ChatID: p.ChatID, ID: p.MessageID, Payload: p})
	return err
}

func (f *fakeMessenger) EditMessageMedia(_ context.Context, p telegram.EditMessageMediaParams) error {
	_, err := f.record(call{Method: "editMessageMedia", ChatID: p.ChatID, ID: p.MessageID, Payload: p})
	return err
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	_, err := f.record(call{Method: "deleteMessage", ChatID: chatID, ID: messageID})
	return err
}

func (f *fakeMessenger) SendPhoto(_ context.Context, p telegram.SendPhotoParams) (*telegram.Message, error) {
	id, err := f.record(call{Method: "sendPhoto", ChatID: p.ChatID, ID: p.ReplyTo, Text: p.Caption, Payload: p})
	if err != nil {
		return nil, err
	}
	return &telegram.Message{MessageID: id}, nil
}

func (f *fakeMessenger) SendDocument(_ context.Context, p telegram.SendDocumentParams) (*telegram.Message, error) {
	id, err := f.record(call{Method: "sendDocument", ChatID: p.ChatID, ID: p.ReplyTo, Text: p.Caption, Payload: p})
	if err != nil {
		return nil, err
	}
	return &telegram.Message{MessageID: id}, nil
}

func (f *fakeMessenger) SendMediaGroup(_ context.Context, p telegram.SendMediaGroupParams) ([]telegram.Message, error) {
	first, err := f.record(call{Method: "sendMediaGroup", ChatID: p.ChatID, ID: p.ReplyTo, Items: len(p.Media), Payload: p})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := []telegram.Message{{MessageID: first}}
	for range p.Media[1:] {
		f.nextID++
		msgs = append(msgs, telegram.Message{MessageID: f.nextID})
	}
	return msgs, nil
}

// fakeStore applies patches in memory.
type fakeStore struct {
	mu      sync.Mutex
	patches []task.MessagingPatch
	err     error
}

func (s *fakeStore) PatchMessaging(_ context.Context, _ string, patch task.MessagingPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.patches = append(s.patches, patch)
	return nil
}

// fakeDirectory resolves from a fixed map and records MarkAsBot calls.
type fakeDirectory struct {
	mu     sync.Mutex
	users  map[string]actor.Actor
	marked []string
}

func (d *fakeDirectory) Resolve(_ context.Context, ids []string) (map[string]actor.Actor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]actor.Actor{}
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (d *fakeDirectory) MarkAsBot(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marked = append(d.marked, id)
	u := d.users[id]
	u.IsBot = true
	d.users[id] = u
	return nil
}

type harness struct {
	msg    *fakeMessenger
	store  *fakeStore
	dir    *fakeDirectory
	slept  []time.Duration
	engine *Engine
}

const testChat = -1001

func newHarness(cfg Config, opts ...Option) *harness {
	h := &harness{
		msg:   newFakeMessenger(),
		store: &fakeStore{},
		dir:   &fakeDirectory{users: map[string]actor.Actor{}},
	}
	h.reconfigure(cfg, opts...)
	return h
}

// reconfigure swaps the engine for one built from cfg, keeping the fakes
// and everything they recorded.
func (h *harness) reconfigure(cfg Config, opts ...Option) {
	if cfg.ChatID == 0 {
		cfg.ChatID = testChat
	}
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			return nil
		}),
	}
	h.engine = New(h.msg, h.store, h.dir, render.New(""), cfg, append(base, opts...)...)
}

// next returns a copy of t carrying the bookkeeping a pass produced.
func next(t *task.Task, r *Report) *task.Task {
	cp := t.Clone()
	cp.Messaging = r.Messaging.Clone()
	return cp
}
