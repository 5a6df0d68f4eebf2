package mirror

import (
	"context"
	"log/slog"
	"time"

	"taskrelay/pkg/classify"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

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

// call runs fn once and, if the API rate-limits it, sleeps the server
// delay and runs it exactly once more. The returned Result classifies the
// final error (zero value on success).
func (e *Engine) call(ctx context.Context, method string, fn func() error) (classify.Result, error) {
	err := fn()
	res := e.observe(method, err)
	if err == nil || res.Condition != classify.RateLimited {
		return res, err
	}

	e.metrics.incRateLimited()
	e.log.WarnContext(ctx, "rate limited, retrying once",
		slog.String("method", method),
		slog.Duration("retry_after", res.RetryAfter))
	if serr := e.sleep(ctx, res.RetryAfter); serr != nil {
		return res, serr
	}

	err = fn()
	return e.observe(method, err), err
}

func (e *Engine) observe(method string, err error) classify.Result {
	if err == nil {
		e.metrics.incCall(method, "ok")
		return classify.Result{}
	}
	res := classify.Classify(err)
	e.metrics.incCall(method, res.Condition.String())
	return res
}

// callValue is call for methods that return a value.
func callValue[T any](ctx context.Context, e *Engine, method string, fn func() (T, error)) (T, classify.Result, error) {
	var out T
	res, err := e.call(ctx, method, func() error {
		v, err := fn()
		if err == nil {
			out = v
		}
		return err
	})
	return out, res, err
}
