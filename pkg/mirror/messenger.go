package mirror

import (
	"context"

	"taskrelay/pkg/task"
	"taskrelay/pkg/telegram"
)

// Messenger is the subset of the Bot API the engine drives.
// *telegram.Client satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (*telegram.Message, error)
	EditMessageText(ctx context.Context, p telegram.EditMessageTextParams) error
	EditMessageCaption(ctx context.Context, p telegram.EditMessageCaptionParams) error
	EditMessageReplyMarkup(ctx context.Context, p telegram.EditMessageReplyMarkupParams) error
	EditMessageMedia(ctx context.Context, p telegram.EditMessageMediaParams) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendPhoto(ctx context.Context, p telegram.SendPhotoParams) (*telegram.Message, error)
	SendDocument(ctx context.Context, p telegram.SendDocumentParams) (*telegram.Message, error)
	SendMediaGroup(ctx context.Context, p telegram.SendMediaGroupParams) ([]telegram.Message, error)
}

// BookkeepingStore persists the messaging delta of a pass.
type BookkeepingStore interface {
	PatchMessaging(ctx context.Context, id string, patch task.MessagingPatch) error
}

// ImageShrinker brings a local image under the photo limit. Discard
// releases a path it returned.
type ImageShrinker interface {
	EnsureWithinLimit(path string) (string, error)
	Discard(path string)
}
