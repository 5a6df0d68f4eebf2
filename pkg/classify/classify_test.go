package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"taskrelay/pkg/telegram"
)

func apiErr(code int, desc string, body string) error {
	return &telegram.APIError{Method: "editMessageText", Code: code, Description: desc, Body: []byte(body)}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Condition
	}{
		{"nil", nil, Unknown},
		{"transport", errors.New("dial tcp: connection refused"), Unknown},
		{"context", context.DeadlineExceeded, Unknown},
		{"not modified", apiErr(400, "Bad Request: message is not modified: specified new message content and reply markup are exactly the same", ""), NotModified},
		{"not modified mixed case", apiErr(400, "Bad Request: Message Is Not Modified", ""), NotModified},
		{"edit missing", apiErr(400, "Bad Request: message to edit not found", ""), MissingOnEdit},
		{"edit forbidden", apiErr(400, "Bad Request: message can't be edited", ""), MissingOnEdit},
		{"delete missing", apiErr(400, "Bad Request: message to delete not found", ""), MissingOnDelete},
		{"delete forbidden", apiErr(400, "Bad Request: message can't be deleted for everyone", ""), MissingOnDelete},
		{"bot recipient", apiErr(403, "Forbidden: bots can't send messages to bots", ""), BotRecipient},
		{"conflict", apiErr(409, "Conflict: terminated by other getUpdates request", ""), Conflict},
		{"too large", apiErr(413, "Request Entity Too Large", ""), SizeOrFormatRejected},
		{"bad url content", apiErr(400, "Bad Request: failed to get HTTP URL content", ""), SizeOrFormatRejected},
		{"dimensions", apiErr(400, "Bad Request: PHOTO_INVALID_DIMENSIONS", ""), SizeOrFormatRejected},
		{"blocked by user", apiErr(403, "Forbidden: bot was blocked by the user", ""), Unknown},
		{"wrapped", fmt.Errorf("send comment: %w", apiErr(400, "Bad Request: message to edit not found", "")), MissingOnEdit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err).Condition)
		})
	}
}

func TestClassifyPrefersBodyOverFields(t *testing.T) {
	err := apiErr(400, "", `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`)
	assert.Equal(t, NotModified, Classify(err).Condition)
}

func TestClassifyRateLimitedReadsRetryAfter(t *testing.T) {
	err := apiErr(429, "Too Many Requests: retry after 3", `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`)
	res := Classify(err)
	assert.Equal(t, RateLimited, res.Condition)
	assert.Equal(t, 3*time.Second, res.RetryAfter)
}

func TestClassifyRateLimitedWithoutParameters(t *testing.T) {
	res := Classify(apiErr(429, "Too Many Requests", ""))
	assert.Equal(t, RateLimited, res.Condition)
	assert.Equal(t, defaultRetryAfter, res.RetryAfter)
}
