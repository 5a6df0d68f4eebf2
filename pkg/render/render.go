// Package render turns a task into the text shown on the chat surface:
// the group card, the private summary, and the card's inline keyboard.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"taskrelay/pkg/task"
	"taskrelay/pkg/telegram"
)

// MaxTextLen is the platform limit for a text message, in characters.
const MaxTextLen = 4096

// Section is one headed block of the task description.
type Section struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// Rendered is the display form of one task.
type Rendered struct {
	Text         string   // HTML, for ParseModeHTML
	Sections     []Section
	InlineImages []string // image URLs found in the description, in order
	Summary      string   // plain text for private notices
	Keyboard     *telegram.InlineKeyboardMarkup
}

// Renderer produces the display form of a task. Implementations must be pure.
type Renderer interface {
	Render(t *task.Task) Rendered
}

// Default renders markdown descriptions. WebBaseURL, when set, adds an
// Open button and a link in the private summary.
type Default struct {
	WebBaseURL string
	md         goldmark.Markdown
}

// New creates a Default renderer.
func New(webBaseURL string) *Default {
	return &Default{
		WebBaseURL: strings.TrimRight(webBaseURL, "/"),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
	}
}

var statusLabels = map[string]string{
	task.StatusNew:        "New",
	task.StatusInProgress: "In progress",
	task.StatusDone:       "Done",
	task.StatusCanceled:   "Canceled",
}

// StatusLabel returns the human label for a status.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

func (d *Default) Render(t *task.Task) Rendered {
	sections, images := d.parseDescription(t.Description)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(t.Title))
	fmt.Fprintf(&b, "Status: %s", html.EscapeString(StatusLabel(t.Status)))
	if t.Status == task.StatusCanceled && t.CancelReason != "" {
		fmt.Fprintf(&b, " (%s)", html.EscapeString(t.CancelReason))
	}
	for _, s := range sections {
		b.WriteString("\n\n")
		if s.Title != "" {
			fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(s.Title))
		}
		b.WriteString(html.EscapeString(s.Body))
	}

	return Rendered{
		Text:         truncate(b.String(), MaxTextLen),
		Sections:     sections,
		InlineImages: images,
		Summary:      d.summary(t),
		Keyboard:     d.keyboard(t),
	}
}

// parseDescription converts markdown (with optional raw HTML) into sections
// and collects every <img src> in document order.
func (d *Default) parseDescription(src string) ([]Section, []string) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := d.md.Convert([]byte(src), &buf); err != nil {
		return []Section{{Body: src}}, nil
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return []Section{{Body: src}}, nil
	}

	var images []string
	seen := map[string]bool{}
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if u, ok := img.Attr("src"); ok && u != "" && !seen[u] {
			seen[u] = true
			images = append(images, u)
		}
	})

	var sections []Section
	cur := Section{}
	var body []string
	flush := func() {
		cur.Body = strings.Join(body, "\n")
		if cur.Title != "" || cur.Body != "" {
			sections = append(sections, cur)
		}
		cur, body = Section{}, nil
	}
	doc.Find("body").Children().Each(func(_ int, sel *goquery.Selection) {
		switch goquery.NodeName(sel) {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			flush()
			cur.Title = strings.TrimSpace(sel.Text())
		case "ul", "ol":
			sel.Find("li").Each(func(_ int, li *goquery.Selection) {
				if txt := strings.TrimSpace(li.Text()); txt != "" {
					body = append(body, "• "+txt)
				}
			})
		default:
			if txt := strings.TrimSpace(sel.Text()); txt != "" {
				body = append(body, txt)
			}
		}
	})
	flush()
	return sections, images
}

func (d *Default) summary(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nStatus: %s", t.Title, StatusLabel(t.Status))
	if t.Comment != "" {
		fmt.Fprintf(&b, "\nComment: %s", t.Comment)
	}
	if link := d.TaskURL(t.ID); link != "" {
		fmt.Fprintf(&b, "\n%s", link)
	}
	return b.String()
}

// TaskURL returns the web link for a task, or "" when no base URL is set.
func (d *Default) TaskURL(id string) string {
	if d.WebBaseURL == "" {
		return ""
	}
	return d.WebBaseURL + "/tasks/" + id
}

// Callback data prefixes carried by the card buttons.
const (
	ActionComment = "comment"
	ActionCancel  = "cancel"
)

// CallbackData encodes a button action for a task.
func CallbackData(action, taskID string) string {
	return action + ":" + taskID
}

// ParseCallback splits callback data produced by CallbackData.
func ParseCallback(data string) (action, taskID string, ok bool) {
	action, taskID, ok = strings.Cut(data, ":")
	if !ok || taskID == "" {
		return "", "", false
	}
	return action, taskID, true
}

func (d *Default) keyboard(t *task.Task) *telegram.InlineKeyboardMarkup {
	var row []telegram.InlineKeyboardButton
	if t.Status != task.StatusDone && t.Status != task.StatusCanceled {
		row = append(row,
			telegram.InlineKeyboardButton{Text: "Comment", CallbackData: CallbackData(ActionComment, t.ID)},
			telegram.InlineKeyboardButton{Text: "Cancel", CallbackData: CallbackData(ActionCancel, t.ID)},
		)
	}
	if link := d.TaskURL(t.ID); link != "" {
		row = append(row, telegram.InlineKeyboardButton{Text: "Open", URL: link})
	}
	if len(row) == 0 {
		return nil
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{row}}
}

// truncate cuts s to at most n characters without splitting an HTML entity
// or leaving a tag open. Only <b> is emitted above, so it is the only tag
// that needs closing.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	cut := string(r[:n-len("</b>…")])
	if i := strings.LastIndexByte(cut, '&'); i >= 0 && !strings.Contains(cut[i:], ";") {
		cut = cut[:i]
	}
	if i := strings.LastIndexByte(cut, '<'); i >= 0 && !strings.Contains(cut[i:], ">") {
		cut = cut[:i]
	}
	if strings.Count(cut, "<b>") > strings.Count(cut, "</b>") {
		cut += "</b>"
	}
	return cut + "…"
}
