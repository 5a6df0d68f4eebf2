// Package bot consumes chat updates by long polling and turns button
// presses plus the follow-up text into task changes.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"taskrelay/pkg/classify"
	"taskrelay/pkg/telegram"
)

// ErrSessionLost means the update session could not be re-established
// within the reconnect budget.
var ErrSessionLost = errors.New("bot: update session lost")

// Updates is the part of the Bot API the poller uses.
type Updates interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
	DeleteWebhook(ctx context.Context) error
}

// Handler processes one update. It must not block for long; the poller
// handles updates in order.
type Handler interface {
	Handle(ctx context.Context, u telegram.Update)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, u telegram.Update)

func (f HandlerFunc) Handle(ctx context.Context, u telegram.Update) { f(ctx, u) }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type PollerConfig struct {
	Timeout        time.Duration // long-poll wait per request
	MaxReconnects  int           // consecutive failures tolerated
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *PollerConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 8
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
}

// Poller runs the long-poll loop.
type Poller struct {
	api     Updates
	handler Handler
	cfg     PollerConfig
	sleep   Sleeper
	offset  int64
}

// NewPoller creates a Poller.
func NewPoller(api Updates, handler Handler, cfg PollerConfig) *Poller {
	cfg.defaults()
	return &Poller{api: api, handler: handler, cfg: cfg, sleep: sleepContext}
}

// SetSleeper replaces the wait between reconnect attempts.
func (p *Poller) SetSleeper(s Sleeper) {
	p.sleep = s
}

func (p *Poller) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = p.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Run polls until ctx is cancelled (returns nil) or the session cannot be
// re-established (returns an error wrapping ErrSessionLost). Failed polls
// are retried with doubling delay; a successful poll resets the budget.
// A Conflict means another consumer or a webhook holds the session: the
// webhook is removed before the next attempt.
func (p *Poller) Run(ctx context.Context) error {
	log.Println("bot: polling for updates")
	b := p.newBackOff()
	attempts := 0
	timeout := int(p.cfg.Timeout / time.Second)

	for {
		if ctx.Err() != nil {
			log.Println("bot: shutting down")
			return nil
		}

		updates, err := p.api.GetUpdates(ctx, p.offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("bot: shutting down")
				return nil
			}
			attempts++
			if attempts > p.cfg.MaxReconnects {
				return fmt.Errorf("%w: %d consecutive failures: %w", ErrSessionLost, attempts, err)
			}

			res := classify.Classify(err)
			delay := b.NextBackOff()
			if res.Condition == classify.RateLimited && res.RetryAfter > delay {
				delay = res.RetryAfter
			}
			if res.Condition == classify.Conflict {
				log.Printf("bot: session conflict, tearing down webhook")
				if err := p.api.DeleteWebhook(ctx); err != nil {
					log.Printf("bot: delete webhook: %v", err)
				}
			}
			log.Printf("bot: poll failed (%s), reconnect %d/%d in %s: %v",
				res.Condition, attempts, p.cfg.MaxReconnects, delay, err)
			if err := p.sleep(ctx, delay); err != nil {
				log.Println("bot: shutting down")
				return nil
			}
			continue
		}

		if attempts > 0 {
			log.Printf("bot: session re-established after %d attempts", attempts)
			attempts = 0
			b.Reset()
		}
		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.dispatch(ctx, u)
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bot: panic handling update %d: %v", u.UpdateID, r)
		}
	}()
	p.handler.Handle(ctx, u)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
