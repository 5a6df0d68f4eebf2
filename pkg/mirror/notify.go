package mirror

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"taskrelay/pkg/classify"
	"taskrelay/pkg/task"
	"taskrelay/pkg/telegram"
)

const stepNotify = "notify"

// notifyConcurrency bounds parallel private sends within one pass.
const notifyConcurrency = 4

type noticeOutcome struct {
	participantID string
	chatID        int64
	messageID     int64
	res           classify.Result
	err           error
}

// notify sends the private summary to every participant except actorID.
// Automation accounts are skipped; a recipient that turns out to be one is
// flagged in the directory so later passes skip it too.
func (e *Engine) notify(ctx context.Context, p *pass, actorID string) {
	var recipients []string
	for _, id := range p.cur.task.Participants() {
		if id != actorID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}

	users, err := e.users.Resolve(ctx, recipients)
	if err != nil {
		p.fail(ctx, stepNotify, classify.Result{}, err)
		return
	}

	outcomes := make([]*noticeOutcome, len(recipients))
	var g errgroup.Group
	g.SetLimit(notifyConcurrency)
	for i, id := range recipients {
		u, ok := users[id]
		if !ok || u.IsBot || u.TelegramID == 0 {
			continue
		}
		g.Go(func() error {
			msg, res, err := callValue(ctx, e, "sendMessage", func() (*telegram.Message, error) {
				return e.msg.SendMessage(ctx, telegram.SendMessageParams{
					ChatID:         u.TelegramID,
					Text:           p.cur.rendered.Summary,
					DisablePreview: true,
				})
			})
			o := &noticeOutcome{participantID: id, chatID: u.TelegramID, res: res, err: err}
			if err == nil {
				o.messageID = msg.MessageID
			}
			outcomes[i] = o
			return nil
		})
	}
	g.Wait()

	for _, o := range outcomes {
		switch {
		case o == nil:
		case o.err == nil:
			p.state.DirectMessages = upsertDirectMessage(p.state.DirectMessages, task.DirectMessage{
				ParticipantID: o.participantID,
				ChatID:        o.chatID,
				MessageID:     o.messageID,
			})
			p.report.Notified = append(p.report.Notified, o.participantID)
		case o.res.Condition == classify.BotRecipient:
			p.report.SkippedBots = append(p.report.SkippedBots, o.participantID)
			e.log.InfoContext(ctx, "participant is an automation account, flagging",
				slog.String("task_id", p.taskID),
				slog.String("participant_id", o.participantID))
			if err := e.users.MarkAsBot(ctx, o.participantID); err != nil {
				e.log.ErrorContext(ctx, "mark participant as bot failed",
					slog.String("participant_id", o.participantID),
					slog.Any("error", err))
			}
		default:
			p.fail(ctx, stepNotify, o.res, o.err, slog.String("participant_id", o.participantID))
		}
	}
}

// upsertDirectMessage keeps only the newest notice per participant.
func upsertDirectMessage(list []task.DirectMessage, dm task.DirectMessage) []task.DirectMessage {
	for i := range list {
		if list[i].ParticipantID == dm.ParticipantID {
			list[i] = dm
			return list
		}
	}
	return append(list, dm)
}
