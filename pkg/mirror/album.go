package mirror

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"taskrelay/pkg/classify"
	"taskrelay/pkg/media"
	"taskrelay/pkg/telegram"
)

const (
	stepPreview     = "preview"
	stepAttachments = "attachments"
	stepAlbumIntro  = "album_intro"
)

// previewItems are the local images shown as an album under a text card.
func (e *Engine) previewItems(v *view) []media.Attachment {
	if v == nil || e.modeOf(*v) == modePhoto {
		return nil
	}
	return v.plan.CollageCandidates
}

func (e *Engine) syncPreview(ctx context.Context, p *pass) {
	prev := e.previewItems(p.prev)
	next := e.previewItems(&p.cur)
	if p.detached[stepPreview] {
		prev = nil
	}

	plan := ComputeDiffPlan(prev, next, p.state.PreviewMessageIDs)
	if plan.FullResend {
		p.report.FullResends = append(p.report.FullResends, stepPreview)
	}
	tgt := target{ChatID: p.primary.ChatID, TopicID: p.primary.TopicID, ReplyTo: p.state.MessageID}
	p.state.PreviewMessageIDs = e.applyDiff(ctx, p, stepPreview, tgt, plan, len(next))
}

// albumTarget is where extras go. routed is true when that is somewhere
// other than the primary card's chat and topic.
func (e *Engine) albumTarget(p *pass) (chatID, topicID int64, routed bool) {
	if e.cfg.AlbumChatID == 0 || (e.cfg.AlbumChatID == p.primary.ChatID && e.cfg.AlbumTopicID == p.primary.TopicID) {
		return p.primary.ChatID, p.primary.TopicID, false
	}
	return e.cfg.AlbumChatID, e.cfg.AlbumTopicID, true
}

func (e *Engine) syncAttachments(ctx context.Context, p *pass) {
	var prev []media.Attachment
	if p.prev != nil && !p.detached[stepAttachments] {
		prev = p.prev.plan.Extras
	}
	next := p.cur.plan.Extras
	chat, topic, routed := e.albumTarget(p)

	liveChat, liveTopic := p.primary.ChatID, p.primary.TopicID
	if p.state.AlbumMessageID != 0 {
		liveChat, liveTopic = p.state.AlbumChatID, p.state.AlbumTopicID
	}
	if (liveChat != chat || liveTopic != topic) && len(p.state.AttachmentMessageIDs) > 0 {
		p.report.FullResends = append(p.report.FullResends, stepAttachments)
		p.state.AttachmentMessageIDs = e.deleteAll(ctx, p, stepAttachments, liveChat, p.state.AttachmentMessageIDs)
		if len(p.state.AttachmentMessageIDs) > 0 {
			// Still live in the old chat; the move is retried next pass.
			return
		}
	}

	replyTo := p.state.MessageID
	if routed && len(next) > 0 {
		introID, ok := e.syncAlbumIntro(ctx, p, chat, topic)
		if !ok {
			return
		}
		replyTo = introID
	}

	plan := ComputeDiffPlan(prev, next, p.state.AttachmentMessageIDs)
	if plan.FullResend {
		p.report.FullResends = append(p.report.FullResends, stepAttachments)
	}
	tgt := target{ChatID: chat, TopicID: topic, ReplyTo: replyTo}
	p.state.AttachmentMessageIDs = e.applyDiff(ctx, p, stepAttachments, tgt, plan, len(next))

	if (!routed || len(next) == 0) && p.state.AlbumMessageID != 0 {
		if e.deleteMessage(ctx, p, stepAlbumIntro, p.state.AlbumChatID, p.state.AlbumMessageID) {
			p.state.AlbumChatID, p.state.AlbumTopicID, p.state.AlbumMessageID = 0, 0, 0
		}
	}
}

func albumIntroText(v view) string {
	return fmt.Sprintf("📎 Attachments: <b>%s</b>", html.EscapeString(v.task.Title))
}

// syncAlbumIntro makes sure the intro message exists in the album chat and
// returns its id, which attachment messages reply to.
func (e *Engine) syncAlbumIntro(ctx context.Context, p *pass, chat, topic int64) (int64, bool) {
	text := albumIntroText(p.cur)

	if id := p.state.AlbumMessageID; id != 0 {
		if p.state.AlbumChatID == chat && p.state.AlbumTopicID == topic {
			if p.prev != nil && albumIntroText(*p.prev) == text {
				return id, true
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
				return id, true
			case res.Condition != classify.MissingOnEdit:
				p.fail(ctx, stepAlbumIntro, res, err, slog.Int64("message_id", id))
				return id, true
			}
		} else if !e.deleteMessage(ctx, p, stepAlbumIntro, p.state.AlbumChatID, id) {
			return 0, false
		}
		p.state.AlbumChatID, p.state.AlbumTopicID, p.state.AlbumMessageID = 0, 0, 0
	}

	msg, res, err := callValue(ctx, e, "sendMessage", func() (*telegram.Message, error) {
		return e.msg.SendMessage(ctx, telegram.SendMessageParams{
			ChatID:    chat,
			TopicID:   topic,
			Text:      text,
			ParseMode: telegram.ParseModeHTML,
		})
	})
	if err != nil {
		p.fail(ctx, stepAlbumIntro, res, err, slog.Int64("chat_id", chat))
		return 0, false
	}
	p.state.AlbumChatID, p.state.AlbumTopicID, p.state.AlbumMessageID = chat, topic, msg.MessageID
	return msg.MessageID, true
}
