package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const taskColumns = `id, title, description, status, comment, cancel_reason, creator_id, driver_id,
	assignee_ids, controller_ids, attachments,
	tg_chat_id, tg_topic_id, tg_message_id, tg_preview_message_ids, tg_attachment_message_ids,
	tg_album_chat_id, tg_album_topic_id, tg_album_message_id, tg_comment_message_id, tg_direct_messages,
	created_at, updated_at`

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id                        TEXT PRIMARY KEY,
			title                     TEXT NOT NULL,
			description               TEXT NOT NULL DEFAULT '',
			status                    TEXT NOT NULL DEFAULT 'new',
			comment                   TEXT NOT NULL DEFAULT '',
			cancel_reason             TEXT NOT NULL DEFAULT '',
			creator_id                TEXT NOT NULL DEFAULT '',
			driver_id                 TEXT NOT NULL DEFAULT '',
			assignee_ids              TEXT[] NOT NULL DEFAULT '{}',
			controller_ids            TEXT[] NOT NULL DEFAULT '{}',
			attachments               JSONB NOT NULL DEFAULT '[]',
			tg_chat_id                BIGINT,
			tg_topic_id               BIGINT,
			tg_message_id             BIGINT,
			tg_preview_message_ids    BIGINT[],
			tg_attachment_message_ids BIGINT[],
			tg_album_chat_id          BIGINT,
			tg_album_topic_id         BIGINT,
			tg_album_message_id       BIGINT,
			tg_comment_message_id     BIGINT,
			tg_direct_messages        JSONB,
			created_at                TIMESTAMPTZ DEFAULT NOW(),
			updated_at                TIMESTAMPTZ DEFAULT NOW()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`)
	return err
}

// Create inserts a new task.
func (s *PgStore) Create(ctx context.Context, t *Task) (*Task, error) {
	t.ID = uuid.Must(uuid.NewV7()).String()
	now := time.Now().Truncate(time.Microsecond)
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusNew
	}
	if t.AssigneeIDs == nil {
		t.AssigneeIDs = []string{}
	}
	if t.ControllerIDs == nil {
		t.ControllerIDs = []string{}
	}
	if t.Attachments == nil {
		t.Attachments = []Attachment{}
	}

	attJSON, err := json.Marshal(t.Attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, title, description, status, comment, cancel_reason, creator_id, driver_id,
			assignee_ids, controller_ids, attachments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13)`,
		t.ID, t.Title, t.Description, t.Status, t.Comment, t.CancelReason, t.CreatorID, t.DriverID,
		t.AssigneeIDs, t.ControllerIDs, string(attJSON), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// Get retrieves a single task by ID.
func (s *PgStore) Get(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Update modifies task content fields. Supported keys: title, description,
// status, comment, cancel_reason, driver_id, assignee_ids, controller_ids,
// attachments. Messaging columns are only written through PatchMessaging.
func (s *PgStore) Update(ctx context.Context, id string, updates map[string]any) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)

	setClauses := []string{"updated_at = $1"}
	args := []any{now}

	for k, v := range updates {
		switch k {
		case "title", "description", "status", "comment", "cancel_reason", "driver_id":
			args = append(args, v)
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", k, len(args)))
		case "assignee_ids", "controller_ids":
			args = append(args, toStrings(v))
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", k, len(args)))
		case "attachments":
			attJSON, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshal attachments: %w", err)
			}
			args = append(args, string(attJSON))
			setClauses = append(setClauses, fmt.Sprintf("attachments = $%d::jsonb", len(args)))
		}
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d RETURNING %s",
		strings.Join(setClauses, ", "), len(args), taskColumns)

	t, err := scanTask(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	return t, nil
}

// PatchMessaging sets and clears messaging columns in one UPDATE.
func (s *PgStore) PatchMessaging(ctx context.Context, id string, patch MessagingPatch) error {
	if patch.Empty() {
		return nil
	}

	var setClauses []string
	var args []any
	for _, f := range AllFields {
		v, ok := patch.Set[f]
		if !ok {
			continue
		}
		if f == FieldDirectMessages {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal direct messages: %w", err)
			}
			args = append(args, string(raw))
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d::jsonb", f, len(args)))
			continue
		}
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", f, len(args)))
	}
	for _, f := range patch.Unset {
		setClauses = append(setClauses, fmt.Sprintf("%s = NULL", f))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d", strings.Join(setClauses, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch messaging %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch messaging %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns tasks filtered by status (empty = all), newest first.
func (s *PgStore) List(ctx context.Context, status string, limit int) ([]Task, error) {
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}

func scanTask(row interface{ Scan(dest ...any) error }) (*Task, error) {
	var t Task
	var attJSON, dmJSON []byte
	var chatID, topicID, msgID, albumChat, albumTopic, albumMsg, commentMsg *int64
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Comment, &t.CancelReason, &t.CreatorID, &t.DriverID,
		&t.AssigneeIDs, &t.ControllerIDs, &attJSON,
		&chatID, &topicID, &msgID, &t.Messaging.PreviewMessageIDs, &t.Messaging.AttachmentMessageIDs,
		&albumChat, &albumTopic, &albumMsg, &commentMsg, &dmJSON,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(attJSON, &t.Attachments); err != nil {
		t.Attachments = []Attachment{}
	}
	if len(dmJSON) > 0 {
		if err := json.Unmarshal(dmJSON, &t.Messaging.DirectMessages); err != nil {
			t.Messaging.DirectMessages = nil
		}
	}
	t.Messaging.ChatID = deref(chatID)
	t.Messaging.TopicID = deref(topicID)
	t.Messaging.MessageID = deref(msgID)
	t.Messaging.AlbumChatID = deref(albumChat)
	t.Messaging.AlbumTopicID = deref(albumTopic)
	t.Messaging.AlbumMessageID = deref(albumMsg)
	t.Messaging.CommentMessageID = deref(commentMsg)
	return &t, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func toStrings(v any) []string {
	switch tv := v.(type) {
	case []string:
		return tv
	case []any:
		out := make([]string, 0, len(tv))
		for _, x := range tv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
