package telegram

import "context"

func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (*Message, error) {
	req := newRequest()
	req.target(p.ChatID, p.TopicID, p.ReplyTo)
	req.set("text", p.Text)
	if p.ParseMode != "" {
		req.set("parse_mode", p.ParseMode)
	}
	if p.DisablePreview {
		req.set("link_preview_options", map[string]any{"is_disabled": true})
	}
	req.markup(p.Markup)

	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) EditMessageText(ctx context.Context, p EditMessageTextParams) error {
	req := newRequest()
	req.set("chat_id", p.ChatID)
	req.set("message_id", p.MessageID)
	req.set("text", p.Text)
	if p.ParseMode != "" {
		req.set("parse_mode", p.ParseMode)
	}
	if p.DisablePreview {
		req.set("link_preview_options", map[string]any{"is_disabled": true})
	}
	req.markup(p.Markup)
	return c.call(ctx, "editMessageText", req, nil)
}

func (c *Client) EditMessageCaption(ctx context.Context, p EditMessageCaptionParams) error {
	req := newRequest()
	req.set("chat_id", p.ChatID)
	req.set("message_id", p.MessageID)
	req.set("caption", p.Caption)
	if p.ParseMode != "" {
		req.set("parse_mode", p.ParseMode)
	}
	req.markup(p.Markup)
	return c.call(ctx, "editMessageCaption", req, nil)
}

func (c *Client) EditMessageReplyMarkup(ctx context.Context, p EditMessageReplyMarkupParams) error {
	req := newRequest()
	req.set("chat_id", p.ChatID)
	req.set("message_id", p.MessageID)
	if p.Markup != nil {
		req.markup(p.Markup)
	} else {
		req.set("reply_markup", InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}})
	}
	return c.call(ctx, "editMessageReplyMarkup", req, nil)
}

func (c *Client) EditMessageMedia(ctx context.Context, p EditMessageMediaParams) error {
	req := newRequest()
	req.set("chat_id", p.ChatID)
	req.set("message_id", p.MessageID)
	req.set("media", req.media(p.Media))
	req.markup(p.Markup)
	return c.call(ctx, "editMessageMedia", req, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	req := newRequest()
	req.set("chat_id", chatID)
	req.set("message_id", messageID)
	return c.call(ctx, "deleteMessage", req, nil)
}

func (c *Client) SendPhoto(ctx context.Context, p SendPhotoParams) (*Message, error) {
	req := newRequest()
	req.target(p.ChatID, p.TopicID, p.ReplyTo)
	req.file("photo", p.Photo)
	if p.Caption != "" {
		req.set("caption", p.Caption)
		if p.ParseMode != "" {
			req.set("parse_mode", p.ParseMode)
		}
	}
	req.markup(p.Markup)

	var msg Message
	if err := c.call(ctx, "sendPhoto", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) SendDocument(ctx context.Context, p SendDocumentParams) (*Message, error) {
	req := newRequest()
	req.target(p.ChatID, p.TopicID, p.ReplyTo)
	req.file("document", p.Document)
	if p.Caption != "" {
		req.set("caption", p.Caption)
		if p.ParseMode != "" {
			req.set("parse_mode", p.ParseMode)
		}
	}
	req.markup(p.Markup)

	var msg Message
	if err := c.call(ctx, "sendDocument", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMediaGroup sends 2..MaxMediaGroup items as one album. The returned
// messages are in the same order as p.Media.
func (c *Client) SendMediaGroup(ctx context.Context, p SendMediaGroupParams) ([]Message, error) {
	req := newRequest()
	req.target(p.ChatID, p.TopicID, p.ReplyTo)
	media := make([]map[string]any, 0, len(p.Media))
	for _, m := range p.Media {
		media = append(media, req.media(m))
	}
	req.set("media", media)

	var msgs []Message
	if err := c.call(ctx, "sendMediaGroup", req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	req := newRequest()
	req.set("timeout", timeoutSeconds)
	req.set("allowed_updates", []string{"message", "callback_query"})
	if offset > 0 {
		req.set("offset", offset)
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteWebhook clears any webhook so long polling can own the session.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	req := newRequest()
	req.set("drop_pending_updates", false)
	return c.call(ctx, "deleteWebhook", req, nil)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	req := newRequest()
	req.set("callback_query_id", id)
	if text != "" {
		req.set("text", text)
	}
	return c.call(ctx, "answerCallbackQuery", req, nil)
}
