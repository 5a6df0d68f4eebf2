package task

import "slices"

// Field names a persisted messaging bookkeeping column.
type Field string

const (
	FieldChatID               Field = "tg_chat_id"
	FieldTopicID              Field = "tg_topic_id"
	FieldMessageID            Field = "tg_message_id"
	FieldPreviewMessageIDs    Field = "tg_preview_message_ids"
	FieldAttachmentMessageIDs Field = "tg_attachment_message_ids"
	FieldAlbumChatID          Field = "tg_album_chat_id"
	FieldAlbumTopicID         Field = "tg_album_topic_id"
	FieldAlbumMessageID       Field = "tg_album_message_id"
	FieldCommentMessageID     Field = "tg_comment_message_id"
	FieldDirectMessages       Field = "tg_direct_messages"
)

// AllFields lists every messaging column in a stable order.
var AllFields = []Field{
	FieldChatID,
	FieldTopicID,
	FieldMessageID,
	FieldPreviewMessageIDs,
	FieldAttachmentMessageIDs,
	FieldAlbumChatID,
	FieldAlbumTopicID,
	FieldAlbumMessageID,
	FieldCommentMessageID,
	FieldDirectMessages,
}

// Messaging records which remote messages currently represent a task.
// A zero id or empty list means the slot is not mirrored.
type Messaging struct {
	ChatID               int64           `json:"chat_id,omitempty"`
	TopicID              int64           `json:"topic_id,omitempty"`
	MessageID            int64           `json:"message_id,omitempty"`
	PreviewMessageIDs    []int64         `json:"preview_message_ids,omitempty"`
	AttachmentMessageIDs []int64         `json:"attachment_message_ids,omitempty"`
	AlbumChatID          int64           `json:"album_chat_id,omitempty"`
	AlbumTopicID         int64           `json:"album_topic_id,omitempty"`
	AlbumMessageID       int64           `json:"album_message_id,omitempty"`
	CommentMessageID     int64           `json:"comment_message_id,omitempty"`
	DirectMessages       []DirectMessage `json:"direct_messages,omitempty"`
}

// DirectMessage is the latest private notice sent to one participant.
type DirectMessage struct {
	ParticipantID string `json:"participant_id"`
	ChatID        int64  `json:"chat_id"`
	MessageID     int64  `json:"message_id"`
}

func (m Messaging) Clone() Messaging {
	cp := m
	cp.PreviewMessageIDs = slices.Clone(m.PreviewMessageIDs)
	cp.AttachmentMessageIDs = slices.Clone(m.AttachmentMessageIDs)
	cp.DirectMessages = slices.Clone(m.DirectMessages)
	return cp
}

// Values returns the defined fields only; absent slots are omitted.
func (m Messaging) Values() map[Field]any {
	out := map[Field]any{}
	putID := func(f Field, v int64) {
		if v != 0 {
			out[f] = v
		}
	}
	putID(FieldChatID, m.ChatID)
	putID(FieldTopicID, m.TopicID)
	putID(FieldMessageID, m.MessageID)
	putID(FieldAlbumChatID, m.AlbumChatID)
	putID(FieldAlbumTopicID, m.AlbumTopicID)
	putID(FieldAlbumMessageID, m.AlbumMessageID)
	putID(FieldCommentMessageID, m.CommentMessageID)
	if len(m.PreviewMessageIDs) > 0 {
		out[FieldPreviewMessageIDs] = slices.Clone(m.PreviewMessageIDs)
	}
	if len(m.AttachmentMessageIDs) > 0 {
		out[FieldAttachmentMessageIDs] = slices.Clone(m.AttachmentMessageIDs)
	}
	if len(m.DirectMessages) > 0 {
		out[FieldDirectMessages] = slices.Clone(m.DirectMessages)
	}
	return out
}

// MessagingPatch is a bookkeeping delta: fields to write and fields to clear.
type MessagingPatch struct {
	Set   map[Field]any
	Unset []Field
}

func (p MessagingPatch) Empty() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0
}

// Apply returns m with the patch applied. Used by in-memory stores and to
// compute the post-write view without reloading.
func (p MessagingPatch) Apply(m Messaging) Messaging {
	out := m.Clone()
	for _, f := range p.Unset {
		switch f {
		case FieldChatID:
			out.ChatID = 0
		case FieldTopicID:
			out.TopicID = 0
		case FieldMessageID:
			out.MessageID = 0
		case FieldPreviewMessageIDs:
			out.PreviewMessageIDs = nil
		case FieldAttachmentMessageIDs:
			out.AttachmentMessageIDs = nil
		case FieldAlbumChatID:
			out.AlbumChatID = 0
		case FieldAlbumTopicID:
			out.AlbumTopicID = 0
		case FieldAlbumMessageID:
			out.AlbumMessageID = 0
		case FieldCommentMessageID:
			out.CommentMessageID = 0
		case FieldDirectMessages:
			out.DirectMessages = nil
		}
	}
	for f, v := range p.Set {
		switch f {
		case FieldChatID:
			out.ChatID = v.(int64)
		case FieldTopicID:
			out.TopicID = v.(int64)
		case FieldMessageID:
			out.MessageID = v.(int64)
		case FieldPreviewMessageIDs:
			out.PreviewMessageIDs = slices.Clone(v.([]int64))
		case FieldAttachmentMessageIDs:
			out.AttachmentMessageIDs = slices.Clone(v.([]int64))
		case FieldAlbumChatID:
			out.AlbumChatID = v.(int64)
		case FieldAlbumTopicID:
			out.AlbumTopicID = v.(int64)
		case FieldAlbumMessageID:
			out.AlbumMessageID = v.(int64)
		case FieldCommentMessageID:
			out.CommentMessageID = v.(int64)
		case FieldDirectMessages:
			out.DirectMessages = slices.Clone(v.([]DirectMessage))
		}
	}
	return out
}
