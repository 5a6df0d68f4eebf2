package mirror

import (
	"context"
	"html"
	"log/slog"

	"taskrelay/pkg/classify"
	"taskrelay/pkg/telegram"
)

const stepComment = "comment"

// maxCommentLen leaves room for the header inside the text message limit.
const maxCommentLen = 4000

func commentText(comment string) string {
	r := []rune(comment)
	if len(r) > maxCommentLen {
		comment = string(r[:maxCommentLen]) + "…"
	}
	return "💬 <b>Comment</b>\n" + html.EscapeString(comment)
}

// syncComment keeps one threaded reply under the card showing the task
// comment, and removes it when the comment is cleared.
func (e *Engine) syncComment(ctx context.Context, p *pass) {
	comment := p.cur.task.Comment
	id := p.state.CommentMessageID
	chat := p.primary.ChatID

	if comment == "" {
		if id != 0 && e.deleteMessage(ctx, p, stepComment, chat, id) {
			p.state.CommentMessageID = 0
		}
		return
	}

	text := commentText(comment)
	if id != 0 && p.detached[stepComment] {
		// Still threaded under the old card.
		if !e.deleteMessage(ctx, p, stepComment, chat, id) {
			return
		}
		p.state.CommentMessageID, id = 0, 0
	}
	if id != 0 {
		if p.prev != nil && p.prev.task.Comment == comment {
			return
		}
		res, err := e.call(ctx, "editMessageText", func() error {
			return e.msg.EditMessageText(ctx, telegram.EditMessageTextParams{
				ChatID:    chat,
				MessageID: id,
				Text:      text,
				ParseMode: telegram.ParseModeHTML,
			})
		})
		switch {
		case err == nil, res.Condition == classify.NotModified:
			return
		case res.Condition != classify.MissingOnEdit:
			p.fail(ctx, stepComment, res, err, slog.Int64("message_id", id))
			return
		}
		p.state.CommentMessageID = 0
	}

	msg, res, err := callValue(ctx, e, "sendMessage", func() (*telegram.Message, error) {
		return e.msg.SendMessage(ctx, telegram.SendMessageParams{
			ChatID:    chat,
			TopicID:   p.primary.TopicID,
			Text:      text,
			ParseMode: telegram.ParseModeHTML,
			ReplyTo:   p.state.MessageID,
		})
	})
	if err != nil {
		p.fail(ctx, stepComment, res, err, slog.Int64("chat_id", chat))
		return
	}
	p.state.CommentMessageID = msg.MessageID
}
