package telegram

import "fmt"

// Message is the subset of a Bot API message the relay reads back.
type Message struct {
	MessageID       int64       `json:"message_id"`
	MessageThreadID int64       `json:"message_thread_id,omitempty"`
	Chat            Chat        `json:"chat"`
	From            *User       `json:"from,omitempty"`
	Text            string      `json:"text,omitempty"`
	Caption         string      `json:"caption,omitempty"`
	Photo           []PhotoSize `json:"photo,omitempty"`
	MediaGroupID    string      `json:"media_group_id,omitempty"`
	ReplyToMessage  *Message    `json:"reply_to_message,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// InputFile references either a remote URL the API fetches itself, or a
// local file uploaded as multipart. Exactly one of URL and Path is set.
type InputFile struct {
	URL  string
	Path string
}

func (f InputFile) String() string {
	if f.Path != "" {
		return "file:" + f.Path
	}
	return f.URL
}

// InputMedia types accepted by sendMediaGroup and editMessageMedia.
const (
	MediaPhoto    = "photo"
	MediaDocument = "document"
)

type InputMedia struct {
	Type      string
	Media     InputFile
	Caption   string
	ParseMode string
}

const ParseModeHTML = "HTML"

type SendMessageParams struct {
	ChatID         int64
	TopicID        int64
	Text           string
	ParseMode      string
	ReplyTo        int64
	Markup         *InlineKeyboardMarkup
	DisablePreview bool
}

type EditMessageTextParams struct {
	ChatID         int64
	MessageID      int64
	Text           string
	ParseMode      string
	Markup         *InlineKeyboardMarkup
	DisablePreview bool
}

type EditMessageCaptionParams struct {
	ChatID    int64
	MessageID int64
	Caption   string
	ParseMode string
	Markup    *InlineKeyboardMarkup
}

type EditMessageReplyMarkupParams struct {
	ChatID    int64
	MessageID int64
	Markup    *InlineKeyboardMarkup
}

type EditMessageMediaParams struct {
	ChatID    int64
	MessageID int64
	Media     InputMedia
	Markup    *InlineKeyboardMarkup
}

type SendPhotoParams struct {
	ChatID    int64
	TopicID   int64
	Photo     InputFile
	Caption   string
	ParseMode string
	ReplyTo   int64
	Markup    *InlineKeyboardMarkup
}

type SendDocumentParams struct {
	ChatID    int64
	TopicID   int64
	Document  InputFile
	Caption   string
	ParseMode string
	ReplyTo   int64
	Markup    *InlineKeyboardMarkup
}

// MaxMediaGroup is the platform cap on items in one sendMediaGroup call.
const MaxMediaGroup = 10

type SendMediaGroupParams struct {
	ChatID  int64
	TopicID int64
	Media   []InputMedia
	ReplyTo int64
}

// APIError is a failed Bot API call. Body holds the raw JSON response so
// callers can inspect fields the API does not surface as stable codes.
type APIError struct {
	Method      string
	StatusCode  int
	Code        int
	Description string
	Body        []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}
