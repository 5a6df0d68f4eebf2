// Package telegram is a thin Bot API client covering the calls the relay
// makes: text, photo, document and media-group sends, their edits, deletes,
// and long polling. All outbound calls share one rate limiter.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

const defaultAPIRoot = "https://api.telegram.org"

type Config struct {
	Token         string
	APIRoot       string
	RatePerSecond float64
	Burst         int
	HTTPTimeout   time.Duration

	// FS is where local upload paths are read from. Defaults to the OS filesystem.
	FS afero.Fs
}

type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter
	fs      afero.Fs
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultAPIRoot
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		fs:      cfg.FS,
	}
}

// request accumulates call parameters and local files to upload.
type request struct {
	params map[string]any
	files  map[string]string // form field -> local path
}

func newRequest() *request {
	return &request{params: map[string]any{}, files: map[string]string{}}
}

func (r *request) set(key string, v any) {
	r.params[key] = v
}

// file sets a top-level file field, uploading it when it is local.
func (r *request) file(field string, f InputFile) {
	if f.Path != "" {
		r.files[field] = f.Path
		return
	}
	r.params[field] = f.URL
}

// attach registers a local file for an InputMedia entry and returns the
// value to put in its "media" field.
func (r *request) attach(f InputFile) string {
	if f.Path == "" {
		return f.URL
	}
	name := fmt.Sprintf("file%d", len(r.files))
	r.files[name] = f.Path
	return "attach://" + name
}

func (r *request) target(chatID, topicID, replyTo int64) {
	r.set("chat_id", chatID)
	if topicID != 0 {
		r.set("message_thread_id", topicID)
	}
	if replyTo != 0 {
		r.set("reply_parameters", map[string]any{
			"message_id":                  replyTo,
			"allow_sending_without_reply": true,
		})
	}
}

func (r *request) markup(m *InlineKeyboardMarkup) {
	if m != nil {
		r.set("reply_markup", m)
	}
}

func (r *request) media(m InputMedia) map[string]any {
	out := map[string]any{
		"type":  m.Type,
		"media": r.attach(m.Media),
	}
	if m.Caption != "" {
		out["caption"] = m.Caption
		if m.ParseMode != "" {
			out["parse_mode"] = m.ParseMode
		}
	}
	return out
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, req *request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram %s: rate limiter: %w", method, err)
	}

	body, contentType, err := c.encode(req)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}

	url := strings.TrimRight(c.cfg.APIRoot, "/") + "/bot" + c.cfg.Token + "/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram %s: read body: %w", method, err)
	}

	var base apiResponse
	if err := json.Unmarshal(respBody, &base); err != nil {
		return &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        resp.StatusCode,
			Description: strings.TrimSpace(string(respBody)),
			Body:        respBody,
		}
	}
	if !base.OK {
		code := base.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: base.Description,
			Body:        respBody,
		}
	}

	if out != nil && len(base.Result) > 0 {
		if err := json.Unmarshal(base.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) encode(req *request) (io.Reader, string, error) {
	if len(req.files) == 0 {
		body, err := json.Marshal(req.params)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(body), "application/json", nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range req.params {
		var value string
		switch tv := v.(type) {
		case string:
			value = tv
		default:
			raw, err := json.Marshal(tv)
			if err != nil {
				return nil, "", fmt.Errorf("field %s: %w", k, err)
			}
			value = string(raw)
		}
		if err := mw.WriteField(k, value); err != nil {
			return nil, "", err
		}
	}
	for field, path := range req.files {
		if err := c.writeFile(mw, field, path); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) writeFile(mw *multipart.Writer, field, path string) error {
	f, err := c.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}
