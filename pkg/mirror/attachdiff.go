package mirror

import (
	"context"
	"log/slog"

	"taskrelay/pkg/classify"
	"taskrelay/pkg/media"
	"taskrelay/pkg/telegram"
)

// OpKind is one reconciliation action on an attachment message slot.
type OpKind int

const (
	OpKeep OpKind = iota
	OpEdit
	OpSend
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpKeep:
		return "keep"
	case OpEdit:
		return "edit"
	case OpSend:
		return "send"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Op is a single planned action. Index is the position in the next plan
// (unused for deletes); MessageID is the existing message (unused for sends).
type Op struct {
	Kind      OpKind
	Index     int
	MessageID int64
	Item      media.Attachment
}

// DiffPlan is the ordered list of operations that turns the previous set
// of attachment messages into the next one. Deletes come first.
type DiffPlan struct {
	Ops        []Op
	FullResend bool
}

// Count returns the number of ops of kind k.
func (p DiffPlan) Count(k OpKind) int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == k {
			n++
		}
	}
	return n
}

// ComputeDiffPlan aligns prev with next positionally. prevIDs are the
// messages that currently show prev; when their count does not match prev
// they cannot be aligned and the whole set is resent.
func ComputeDiffPlan(prev, next []media.Attachment, prevIDs []int64) DiffPlan {
	var plan DiffPlan
	if len(next) == 0 {
		for _, id := range prevIDs {
			plan.Ops = append(plan.Ops, Op{Kind: OpDelete, MessageID: id})
		}
		return plan
	}
	if len(prevIDs) == 0 {
		for i, item := range next {
			plan.Ops = append(plan.Ops, Op{Kind: OpSend, Index: i, Item: item})
		}
		return plan
	}
	if len(prevIDs) != len(prev) {
		return fullResend(next, prevIDs)
	}

	n := min(len(prev), len(next))
	for i := 0; i < n; i++ {
		if prev[i].Kind != next[i].Kind {
			return fullResend(next, prevIDs)
		}
	}

	for _, id := range prevIDs[n:] {
		plan.Ops = append(plan.Ops, Op{Kind: OpDelete, MessageID: id})
	}
	for i := 0; i < n; i++ {
		kind := OpKeep
		if !prev[i].SameContent(next[i]) {
			kind = OpEdit
		}
		plan.Ops = append(plan.Ops, Op{Kind: kind, Index: i, MessageID: prevIDs[i], Item: next[i]})
	}
	for i := n; i < len(next); i++ {
		plan.Ops = append(plan.Ops, Op{Kind: OpSend, Index: i, Item: next[i]})
	}
	return plan
}

func fullResend(next []media.Attachment, prevIDs []int64) DiffPlan {
	plan := DiffPlan{FullResend: true}
	for _, id := range prevIDs {
		plan.Ops = append(plan.Ops, Op{Kind: OpDelete, MessageID: id})
	}
	for i, item := range next {
		plan.Ops = append(plan.Ops, Op{Kind: OpSend, Index: i, Item: item})
	}
	return plan
}

// target addresses a set of messages: the chat, forum topic and the
// message every new send replies to.
type target struct {
	ChatID  int64
	TopicID int64
	ReplyTo int64
}

// applyDiff executes plan and returns the message ids now showing next,
// in plan order. Slots whose send failed are left out and messages that
// could not be deleted are appended after the live ones; either way the
// length mismatch makes the next pass resend the set.
func (e *Engine) applyDiff(ctx context.Context, p *pass, step string, tgt target, plan DiffPlan, size int) []int64 {
	ids := make([]int64, size)

	var undeleted []int64
	for _, op := range plan.Ops {
		if op.Kind == OpDelete && !e.deleteMessage(ctx, p, step, tgt.ChatID, op.MessageID) {
			undeleted = append(undeleted, op.MessageID)
		}
	}

	var sends []Op
	for _, op := range plan.Ops {
		switch op.Kind {
		case OpKeep:
			ids[op.Index] = op.MessageID
		case OpEdit:
			ids[op.Index] = e.editItem(ctx, p, step, tgt, op)
		case OpSend:
			sends = append(sends, op)
		}
	}
	e.sendItems(ctx, p, step, tgt, sends, ids)

	out := make([]int64, 0, size+len(undeleted))
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return append(out, undeleted...)
}

// deleteAll removes ids and returns the ones still live.
func (e *Engine) deleteAll(ctx context.Context, p *pass, step string, chatID int64, ids []int64) []int64 {
	var live []int64
	for _, id := range ids {
		if !e.deleteMessage(ctx, p, step, chatID, id) {
			live = append(live, id)
		}
	}
	return live
}

// deleteMessage removes one message. A message that is already gone counts
// as deleted. Reports whether the slot can be forgotten.
func (e *Engine) deleteMessage(ctx context.Context, p *pass, step string, chatID, messageID int64) bool {
	res, err := e.call(ctx, "deleteMessage", func() error {
		return e.msg.DeleteMessage(ctx, chatID, messageID)
	})
	if err == nil || res.Condition == classify.MissingOnDelete || res.Condition == classify.MissingOnEdit {
		return true
	}
	p.fail(ctx, step, res, err, slog.Int64("chat_id", chatID), slog.Int64("message_id", messageID))
	return false
}

// editItem updates one attachment message in place and returns the id that
// now shows it: the same id, a resent one, or the old one on failure.
func (e *Engine) editItem(ctx context.Context, p *pass, step string, tgt target, op Op) int64 {
	if op.Item.Kind == media.KindVideoLink {
		res, err := e.call(ctx, "editMessageText", func() error {
			return e.msg.EditMessageText(ctx, telegram.EditMessageTextParams{
				ChatID:    tgt.ChatID,
				MessageID: op.MessageID,
				Text:      videoText(op.Item),
			})
		})
		return e.afterEdit(ctx, p, step, tgt, op, res, err)
	}

	in, release := e.inputMedia(ctx, op.Item)
	defer release()
	res, err := e.call(ctx, "editMessageMedia", func() error {
		return e.msg.EditMessageMedia(ctx, telegram.EditMessageMediaParams{
			ChatID:    tgt.ChatID,
			MessageID: op.MessageID,
			Media:     in,
		})
	})
	if res.Condition == classify.SizeOrFormatRejected && in.Type == telegram.MediaPhoto {
		in = asDocument(op.Item)
		res, err = e.call(ctx, "editMessageMedia", func() error {
			return e.msg.EditMessageMedia(ctx, telegram.EditMessageMediaParams{
				ChatID:    tgt.ChatID,
				MessageID: op.MessageID,
				Media:     in,
			})
		})
	}
	return e.afterEdit(ctx, p, step, tgt, op, res, err)
}

func (e *Engine) afterEdit(ctx context.Context, p *pass, step string, tgt target, op Op, res classify.Result, err error) int64 {
	switch {
	case err == nil, res.Condition == classify.NotModified:
		return op.MessageID
	case res.Condition == classify.MissingOnEdit:
		return e.sendOne(ctx, p, step, tgt, op.Item)
	default:
		p.fail(ctx, step, res, err, slog.Int64("message_id", op.MessageID))
		return op.MessageID
	}
}

// sendItems sends ops in order, batching runs of photos into media groups
// of at most telegram.MaxMediaGroup items.
func (e *Engine) sendItems(ctx context.Context, p *pass, step string, tgt target, ops []Op, ids []int64) {
	var run []Op
	var inputs []telegram.InputMedia
	var releases []func()
	flush := func() {
		for start := 0; start < len(run); start += telegram.MaxMediaGroup {
			end := min(start+telegram.MaxMediaGroup, len(run))
			e.sendGroup(ctx, p, step, tgt, run[start:end], inputs[start:end], ids)
		}
		for _, r := range releases {
			r()
		}
		run, inputs, releases = nil, nil, nil
	}

	for _, op := range ops {
		if op.Item.Kind == media.KindImage {
			in, release := e.inputMedia(ctx, op.Item)
			if in.Type == telegram.MediaPhoto {
				run = append(run, op)
				inputs = append(inputs, in)
				releases = append(releases, release)
				continue
			}
			release()
		}
		flush()
		ids[op.Index] = e.sendOne(ctx, p, step, tgt, op.Item)
	}
	flush()
}

func (e *Engine) sendGroup(ctx context.Context, p *pass, step string, tgt target, run []Op, inputs []telegram.InputMedia, ids []int64) {
	if len(run) == 1 {
		ids[run[0].Index] = e.sendInput(ctx, p, step, tgt, run[0].Item, inputs[0])
		return
	}
	msgs, res, err := callValue(ctx, e, "sendMediaGroup", func() ([]telegram.Message, error) {
		return e.msg.SendMediaGroup(ctx, telegram.SendMediaGroupParams{
			ChatID:  tgt.ChatID,
			TopicID: tgt.TopicID,
			Media:   inputs,
			ReplyTo: tgt.ReplyTo,
		})
	})
	if err == nil && len(msgs) == len(run) {
		for i, op := range run {
			ids[op.Index] = msgs[i].MessageID
		}
		return
	}
	e.log.WarnContext(ctx, "media group failed, sending individually",
		slog.String("task_id", p.taskID),
		slog.String("step", step),
		slog.Int("items", len(run)),
		slog.String("condition", res.Condition.String()),
		slog.Any("error", err))
	for i, op := range run {
		ids[op.Index] = e.sendInput(ctx, p, step, tgt, op.Item, inputs[i])
	}
}

// sendOne sends a single attachment message and returns its id, or 0.
func (e *Engine) sendOne(ctx context.Context, p *pass, step string, tgt target, item media.Attachment) int64 {
	if item.Kind == media.KindVideoLink {
		msg, res, err := callValue(ctx, e, "sendMessage", func() (*telegram.Message, error) {
			return e.msg.SendMessage(ctx, telegram.SendMessageParams{
				ChatID:  tgt.ChatID,
				TopicID: tgt.TopicID,
				Text:    videoText(item),
				ReplyTo: tgt.ReplyTo,
			})
		})
		if err != nil {
			p.fail(ctx, step, res, err, slog.String("url", item.URL))
			return 0
		}
		return msg.MessageID
	}
	in, release := e.inputMedia(ctx, item)
	defer release()
	return e.sendInput(ctx, p, step, tgt, item, in)
}

// sendInput sends one photo or document. A rejected photo is retried as a
// document carrying the original file.
func (e *Engine) sendInput(ctx context.Context, p *pass, step string, tgt target, item media.Attachment, in telegram.InputMedia) int64 {
	if in.Type == telegram.MediaPhoto {
		msg, res, err := callValue(ctx, e, "sendPhoto", func() (*telegram.Message, error) {
			return e.msg.SendPhoto(ctx, telegram.SendPhotoParams{
				ChatID:  tgt.ChatID,
				TopicID: tgt.TopicID,
				Photo:   in.Media,
				Caption: in.Caption,
				ReplyTo: tgt.ReplyTo,
			})
		})
		if err == nil {
			return msg.MessageID
		}
		if res.Condition != classify.SizeOrFormatRejected {
			p.fail(ctx, step, res, err, slog.String("url", item.URL))
			return 0
		}
		in = asDocument(item)
	}

	msg, res, err := callValue(ctx, e, "sendDocument", func() (*telegram.Message, error) {
		return e.msg.SendDocument(ctx, telegram.SendDocumentParams{
			ChatID:   tgt.ChatID,
			TopicID:  tgt.TopicID,
			Document: in.Media,
			Caption:  in.Caption,
			ReplyTo:  tgt.ReplyTo,
		})
	})
	if err != nil {
		p.fail(ctx, step, res, err, slog.String("url", item.URL))
		return 0
	}
	return msg.MessageID
}

// inputMedia picks the upload form of an attachment. Local images are
// shrunk first; one that cannot be shrunk goes out as a document.
func (e *Engine) inputMedia(ctx context.Context, item media.Attachment) (telegram.InputMedia, func()) {
	noop := func() {}
	if item.Kind != media.KindImage {
		return asDocument(item), noop
	}
	if item.LocalPath == "" || e.shrinker == nil {
		return telegram.InputMedia{
			Type:    telegram.MediaPhoto,
			Media:   fileOf(item),
			Caption: item.Caption,
		}, noop
	}

	path, err := e.shrinker.EnsureWithinLimit(item.LocalPath)
	if err != nil {
		e.log.WarnContext(ctx, "image over photo limit, sending as document",
			slog.String("path", item.LocalPath),
			slog.Any("error", err))
		return asDocument(item), noop
	}
	release := noop
	if path != item.LocalPath {
		release = func() { e.shrinker.Discard(path) }
	}
	return telegram.InputMedia{
		Type:    telegram.MediaPhoto,
		Media:   telegram.InputFile{Path: path},
		Caption: item.Caption,
	}, release
}

func asDocument(item media.Attachment) telegram.InputMedia {
	return telegram.InputMedia{
		Type:    telegram.MediaDocument,
		Media:   fileOf(item),
		Caption: item.Caption,
	}
}

func fileOf(item media.Attachment) telegram.InputFile {
	if item.LocalPath != "" {
		return telegram.InputFile{Path: item.LocalPath}
	}
	return telegram.InputFile{URL: item.URL}
}

func videoText(item media.Attachment) string {
	if item.Caption == "" {
		return item.URL
	}
	return item.Caption + "\n" + item.URL
}
