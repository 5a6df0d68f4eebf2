// Package classify maps a failed messaging API call onto the closed set of
// conditions the sync engine knows how to recover from.
package classify

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"taskrelay/pkg/telegram"
)

// Condition is the recovery class of a failed call.
type Condition int

const (
	Unknown Condition = iota
	NotModified
	MissingOnEdit
	MissingOnDelete
	RateLimited
	Conflict
	BotRecipient
	SizeOrFormatRejected
)

func (c Condition) String() string {
	switch c {
	case NotModified:
		return "not_modified"
	case MissingOnEdit:
		return "missing_on_edit"
	case MissingOnDelete:
		return "missing_on_delete"
	case RateLimited:
		return "rate_limited"
	case Conflict:
		return "conflict"
	case BotRecipient:
		return "bot_recipient"
	case SizeOrFormatRejected:
		return "size_or_format_rejected"
	default:
		return "unknown"
	}
}

// Result is a classified failure. RetryAfter is set only for RateLimited.
type Result struct {
	Condition  Condition
	RetryAfter time.Duration
}

// defaultRetryAfter applies when a 429 carries no parseable delay.
const defaultRetryAfter = time.Second

var (
	notModifiedPhrases = []string{
		"message is not modified",
	}
	missingOnEditPhrases = []string{
		"message to edit not found",
		"message can't be edited",
		"message_id_invalid",
		"there is no text in the message to edit",
		"there is no caption in the message to edit",
		"there is no media in the message to edit",
	}
	missingOnDeletePhrases = []string{
		"message to delete not found",
		"message can't be deleted",
	}
	botRecipientPhrases = []string{
		"bots can't send messages to bots",
		"bot can't send messages to bots",
	}
	sizeOrFormatPhrases = []string{
		"file is too big",
		"request entity too large",
		"wrong file identifier",
		"wrong remote file identifier",
		"failed to get http url content",
		"wrong type of the web page content",
		"image_process_failed",
		"photo_invalid_dimensions",
		"photo_save_file_invalid",
		"photo_ext_invalid",
		"wrong file type",
		"group send failed",
	}
)

// Classify inspects err and returns its recovery class. Non-API failures
// (transport, context, encode) are Unknown.
func Classify(err error) Result {
	var apiErr *telegram.APIError
	if err == nil || !errors.As(err, &apiErr) {
		return Result{Condition: Unknown}
	}

	code := apiErr.Code
	desc := strings.ToLower(apiErr.Description)
	if len(apiErr.Body) > 0 {
		body := gjson.ParseBytes(apiErr.Body)
		if c := body.Get("error_code"); c.Exists() {
			code = int(c.Int())
		}
		if d := body.Get("description"); d.Exists() {
			desc = strings.ToLower(d.String())
		}
	}

	switch {
	case code == 429:
		return Result{Condition: RateLimited, RetryAfter: retryAfter(apiErr.Body)}
	case code == 409:
		return Result{Condition: Conflict}
	case code == 413:
		return Result{Condition: SizeOrFormatRejected}
	case containsAny(desc, notModifiedPhrases):
		return Result{Condition: NotModified}
	case containsAny(desc, missingOnDeletePhrases):
		return Result{Condition: MissingOnDelete}
	case containsAny(desc, missingOnEditPhrases):
		return Result{Condition: MissingOnEdit}
	case containsAny(desc, botRecipientPhrases):
		return Result{Condition: BotRecipient}
	case containsAny(desc, sizeOrFormatPhrases):
		return Result{Condition: SizeOrFormatRejected}
	}
	return Result{Condition: Unknown}
}

func retryAfter(body []byte) time.Duration {
	if len(body) == 0 {
		return defaultRetryAfter
	}
	secs := gjson.GetBytes(body, "parameters.retry_after").Int()
	if secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
