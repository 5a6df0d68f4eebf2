package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"taskrelay/pkg/classify"
	"taskrelay/pkg/telegram"
)

const stepPrimary = "primary"

type primaryMode int

const (
	modeText primaryMode = iota
	modePhoto
)

// modeOf: a card is a photo with caption when the preview image is the
// only local image and the text fits the caption limit.
func (e *Engine) modeOf(v view) primaryMode {
	pv := v.plan.Preview
	if pv == nil || pv.LocalPath == "" || len(v.plan.CollageCandidates) != 1 {
		return modeText
	}
	if utf8.RuneCountInString(v.rendered.Text) > e.cfg.CaptionLimit {
		return modeText
	}
	return modePhoto
}

// syncPrimary brings the primary card to the current state. Absent cards
// are sent; present ones are edited only where they differ, and recreated
// when the remote message is gone or the card changes between text and
// photo.
func (e *Engine) syncPrimary(ctx context.Context, p *pass) error {
	if p.state.MessageID == 0 || p.state.ChatID == 0 {
		p.primary = target{ChatID: e.cfg.ChatID, TopicID: e.cfg.TopicID}
	} else {
		p.primary = target{ChatID: p.state.ChatID, TopicID: p.state.TopicID}
	}
	if p.state.MessageID == 0 {
		return e.sendPrimary(ctx, p)
	}

	prev, next := *p.prev, p.cur
	mode := e.modeOf(next)
	if e.modeOf(prev) != mode {
		return e.recreatePrimary(ctx, p, "card mode changed")
	}

	textChanged := prev.rendered.Text != next.rendered.Text
	markupChanged := markupKey(prev.rendered.Keyboard) != markupKey(next.rendered.Keyboard)

	var res classify.Result
	var err error
	switch {
	case mode == modePhoto && prev.plan.Preview.URL != next.plan.Preview.URL:
		res, err = e.editPrimaryMedia(ctx, p)
	case textChanged && mode == modePhoto:
		res, err = e.call(ctx, "editMessageCaption", func() error {
			return e.msg.EditMessageCaption(ctx, telegram.EditMessageCaptionParams{
				ChatID:    p.primary.ChatID,
				MessageID: p.state.MessageID,
				Caption:   next.rendered.Text,
				ParseMode: telegram.ParseModeHTML,
				Markup:    next.rendered.Keyboard,
			})
		})
		if res.Condition == classify.NotModified {
			res, err = e.editMarkup(ctx, p)
		}
	case textChanged:
		res, err = e.call(ctx, "editMessageText", func() error {
			return e.msg.EditMessageText(ctx, telegram.EditMessageTextParams{
				ChatID:         p.primary.ChatID,
				MessageID:      p.state.MessageID,
				Text:           next.rendered.Text,
				ParseMode:      telegram.ParseModeHTML,
				Markup:         next.rendered.Keyboard,
				DisablePreview: true,
			})
		})
		if res.Condition == classify.NotModified {
			res, err = e.editMarkup(ctx, p)
		}
	case markupChanged:
		res, err = e.editMarkup(ctx, p)
	default:
		return nil
	}

	switch {
	case err == nil, res.Condition == classify.NotModified:
		return nil
	case res.Condition == classify.MissingOnEdit:
		return e.recreatePrimary(ctx, p, "primary message missing")
	default:
		p.fail(ctx, stepPrimary, res, err, slog.Int64("message_id", p.state.MessageID))
		return err
	}
}

func (e *Engine) editMarkup(ctx context.Context, p *pass) (classify.Result, error) {
	return e.call(ctx, "editMessageReplyMarkup", func() error {
		return e.msg.EditMessageReplyMarkup(ctx, telegram.EditMessageReplyMarkupParams{
			ChatID:    p.primary.ChatID,
			MessageID: p.state.MessageID,
			Markup:    p.cur.rendered.Keyboard,
		})
	})
}

func (e *Engine) editPrimaryMedia(ctx context.Context, p *pass) (classify.Result, error) {
	item := *p.cur.plan.Preview
	in, release := e.inputMedia(ctx, item)
	defer release()

	edit := func(in telegram.InputMedia) (classify.Result, error) {
		in.Caption = p.cur.rendered.Text
		in.ParseMode = telegram.ParseModeHTML
		return e.call(ctx, "editMessageMedia", func() error {
			return e.msg.EditMessageMedia(ctx, telegram.EditMessageMediaParams{
				ChatID:    p.primary.ChatID,
				MessageID: p.state.MessageID,
				Media:     in,
				Markup:    p.cur.rendered.Keyboard,
			})
		})
	}
	res, err := edit(in)
	if res.Condition == classify.SizeOrFormatRejected && in.Type == telegram.MediaPhoto {
		res, err = edit(asDocument(item))
	}
	return res, err
}

// sendPrimary sends a new card to the configured chat.
func (e *Engine) sendPrimary(ctx context.Context, p *pass) error {
	p.primary = target{ChatID: e.cfg.ChatID, TopicID: e.cfg.TopicID}
	v := p.cur

	var id int64
	var res classify.Result
	var err error
	if e.modeOf(v) == modePhoto {
		id, res, err = e.sendPrimaryMedia(ctx, p)
	} else {
		var msg *telegram.Message
		msg, res, err = callValue(ctx, e, "sendMessage", func() (*telegram.Message, error) {
			return e.msg.SendMessage(ctx, telegram.SendMessageParams{
				ChatID:         p.primary.ChatID,
				TopicID:        p.primary.TopicID,
				Text:           v.rendered.Text,
				ParseMode:      telegram.ParseModeHTML,
				Markup:         v.rendered.Keyboard,
				DisablePreview: true,
			})
		})
		if err == nil {
			id = msg.MessageID
		}
	}
	if err != nil {
		p.fail(ctx, stepPrimary, res, err, slog.Int64("chat_id", p.primary.ChatID))
		return err
	}

	p.state.MessageID = id
	p.state.ChatID = p.primary.ChatID
	p.state.TopicID = p.primary.TopicID
	return nil
}

func (e *Engine) sendPrimaryMedia(ctx context.Context, p *pass) (int64, classify.Result, error) {
	v := p.cur
	item := *v.plan.Preview
	in, release := e.inputMedia(ctx, item)
	defer release()

	if in.Type == telegram.MediaPhoto {
		msg, res, err := callValue(ctx, e, "sendPhoto", func() (*telegram.Message, error) {
			return e.msg.SendPhoto(ctx, telegram.SendPhotoParams{
				ChatID:    p.primary.ChatID,
				TopicID:   p.primary.TopicID,
				Photo:     in.Media,
				Caption:   v.rendered.Text,
				ParseMode: telegram.ParseModeHTML,
				Markup:    v.rendered.Keyboard,
			})
		})
		if err == nil {
			return msg.MessageID, res, nil
		}
		if res.Condition != classify.SizeOrFormatRejected {
			return 0, res, err
		}
		in = asDocument(item)
	}

	msg, res, err := callValue(ctx, e, "sendDocument", func() (*telegram.Message, error) {
		return e.msg.SendDocument(ctx, telegram.SendDocumentParams{
			ChatID:    p.primary.ChatID,
			TopicID:   p.primary.TopicID,
			Document:  in.Media,
			Caption:   v.rendered.Text,
			ParseMode: telegram.ParseModeHTML,
			Markup:    v.rendered.Keyboard,
		})
	})
	if err != nil {
		return 0, res, err
	}
	return msg.MessageID, res, nil
}

// recreatePrimary tears the card down with everything threaded under it,
// then sends a fresh one. Later steps see empty slots and resend.
func (e *Engine) recreatePrimary(ctx context.Context, p *pass, reason string) error {
	e.log.InfoContext(ctx, "recreating primary message",
		slog.String("task_id", p.taskID),
		slog.String("reason", reason),
		slog.Int64("message_id", p.state.MessageID))
	chat := p.primary.ChatID

	// The old card stays the recorded one until it is really gone.
	if !e.deleteMessage(ctx, p, stepPrimary, chat, p.state.MessageID) {
		return fmt.Errorf("recreate primary: message %d could not be deleted", p.state.MessageID)
	}
	p.report.Recreated = true

	// Dependents that survive their delete keep their ids and are marked
	// detached, so their step deletes them again and sends fresh ones.
	p.state.PreviewMessageIDs = e.deleteAll(ctx, p, stepPreview, chat, p.state.PreviewMessageIDs)
	p.detach(stepPreview)
	if p.state.AlbumMessageID == 0 {
		p.state.AttachmentMessageIDs = e.deleteAll(ctx, p, stepAttachments, chat, p.state.AttachmentMessageIDs)
		p.detach(stepAttachments)
	}
	if id := p.state.CommentMessageID; id != 0 && e.deleteMessage(ctx, p, stepComment, chat, id) {
		p.state.CommentMessageID = 0
	}
	p.detach(stepComment)
	p.state.MessageID = 0
	p.state.ChatID = 0
	p.state.TopicID = 0

	return e.sendPrimary(ctx, p)
}

func markupKey(m *telegram.InlineKeyboardMarkup) string {
	if m == nil {
		return ""
	}
	b, _ := json.Marshal(m)
	return string(b)
}
