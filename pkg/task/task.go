package task

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("task not found")

const (
	StatusNew        = "new"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCanceled   = "canceled"
)

// Task represents a unit of work mirrored to the team chat.
type Task struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"` // markdown, may embed images
	Status        string       `json:"status"`
	Comment       string       `json:"comment"`
	CancelReason  string       `json:"cancel_reason,omitempty"`
	CreatorID     string       `json:"creator_id"`
	DriverID      string       `json:"driver_id,omitempty"`
	AssigneeIDs   []string     `json:"assignee_ids"`
	ControllerIDs []string     `json:"controller_ids"`
	Attachments   []Attachment `json:"attachments"`
	Messaging     Messaging    `json:"messaging"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Attachment is a file declared on a task, as uploaded.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Participants returns the creator, assignees and controllers, deduplicated
// in that order. Empty ids are skipped.
func (t *Task) Participants() []string {
	var out []string
	add := func(id string) {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	for _, id := range t.AssigneeIDs {
		add(id)
	}
	for _, id := range t.ControllerIDs {
		add(id)
	}
	add(t.CreatorID)
	return out
}

// Clone returns a deep copy safe to mutate.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.AssigneeIDs = slices.Clone(t.AssigneeIDs)
	cp.ControllerIDs = slices.Clone(t.ControllerIDs)
	cp.Attachments = slices.Clone(t.Attachments)
	cp.Messaging = t.Messaging.Clone()
	return &cp
}

// Store is the contract for task persistence.
type Store interface {
	Create(ctx context.Context, t *Task) (*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, id string, updates map[string]any) (*Task, error)
	List(ctx context.Context, status string, limit int) ([]Task, error)

	// PatchMessaging writes the messaging bookkeeping delta as one atomic
	// statement. Only messaging columns are touched, so a concurrent edit of
	// task content is never overwritten.
	PatchMessaging(ctx context.Context, id string, patch MessagingPatch) error

	EnsureTable(ctx context.Context) error
}
