package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrelay/pkg/task"
)

func TestRenderExtractsInlineImagesInOrder(t *testing.T) {
	tk := &task.Task{
		ID:    "t1",
		Title: "Fix <door>",
		Description: "Broken hinge\n\n![front](https://files.example/a.jpg)\n\n" +
			`<p>see also <img src="https://files.example/b.png"></p>` + "\n\n![dup](https://files.example/a.jpg)",
		Status: task.StatusNew,
	}
	r := New("").Render(tk)

	assert.Equal(t, []string{"https://files.example/a.jpg", "https://files.example/b.png"}, r.InlineImages)
	assert.True(t, strings.HasPrefix(r.Text, "<b>Fix &lt;door&gt;</b>\nStatus: New"), r.Text)
}

func TestRenderSections(t *testing.T) {
	tk := &task.Task{
		Title:       "T",
		Description: "intro line\n\n## Steps\n\n- one\n- two\n\n## Notes\n\nkeep dry",
	}
	r := New("").Render(tk)

	want := []Section{
		{Body: "intro line"},
		{Title: "Steps", Body: "• one\n• two"},
		{Title: "Notes", Body: "keep dry"},
	}
	if diff := cmp.Diff(want, r.Sections); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderCancelReason(t *testing.T) {
	tk := &task.Task{Title: "T", Status: task.StatusCanceled, CancelReason: "dup"}
	r := New("").Render(tk)
	assert.Contains(t, r.Text, "Status: Canceled (dup)")
}

func TestKeyboard(t *testing.T) {
	d := New("https://app.example/")

	open := d.Render(&task.Task{ID: "t1", Status: task.StatusInProgress})
	require.NotNil(t, open.Keyboard)
	row := open.Keyboard.InlineKeyboard[0]
	require.Len(t, row, 3)
	assert.Equal(t, "comment:t1", row[0].CallbackData)
	assert.Equal(t, "cancel:t1", row[1].CallbackData)
	assert.Equal(t, "https://app.example/tasks/t1", row[2].URL)

	closed := d.Render(&task.Task{ID: "t1", Status: task.StatusDone})
	require.NotNil(t, closed.Keyboard)
	assert.Len(t, closed.Keyboard.InlineKeyboard[0], 1)

	assert.Nil(t, New("").Render(&task.Task{ID: "t1", Status: task.StatusDone}).Keyboard)
}

func TestSummaryIsPlainText(t *testing.T) {
	d := New("https://app.example")
	r := d.Render(&task.Task{ID: "t9", Title: "A & B", Status: task.StatusDone, Comment: "ok"})
	assert.Equal(t, "A & B\nStatus: Done\nComment: ok\nhttps://app.example/tasks/t9", r.Summary)
}

func TestParseCallback(t *testing.T) {
	action, id, ok := ParseCallback("cancel:abc")
	assert.True(t, ok)
	assert.Equal(t, ActionCancel, action)
	assert.Equal(t, "abc", id)

	_, _, ok = ParseCallback("garbage")
	assert.False(t, ok)
}

func TestTruncateKeepsMarkupBalanced(t *testing.T) {
	long := &task.Task{Title: strings.Repeat("x", 5000)}
	r := New("").Render(long)
	assert.LessOrEqual(t, utf8.RuneCountInString(r.Text), MaxTextLen)
	assert.Equal(t, strings.Count(r.Text, "<b>"), strings.Count(r.Text, "</b>"))
}
