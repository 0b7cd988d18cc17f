// Package retry runs database calls under a per-call timeout and retries
// transient failures with linear backoff and a bounded number of attempts.
// Semantic errors (missing table, permission, drift) are never retried.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"dbtidy/internal/storage"
)

// Policy bounds retries for a single call.
type Policy struct {
	// MaxAttempts counts the first try; values below 1 mean 1.
	MaxAttempts int
	// Step is the linear backoff unit: attempt n waits n*Step.
	Step time.Duration
	// CallTimeout caps each attempt; zero disables the per-call deadline.
	CallTimeout time.Duration
	// Logger, when set, receives one line per retried attempt.
	Logger *log.Logger
}

// DefaultPolicy is three attempts, 500ms linear step, 30s per call.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Step: 500 * time.Millisecond, CallTimeout: 30 * time.Second}
}

// linear implements backoff.BackOff with waits of Step, 2*Step, 3*Step...
type linear struct {
	step time.Duration
	n    int
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linear) Reset() { l.n = 0 }

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(&linear{step: p.Step}, uint64(attempts-1)),
		ctx,
	)
}

// Do runs op until it succeeds, returns a non-transient error, the attempt
// budget is spent, or ctx is done. The last error is returned unchanged, so
// callers can still test it with storage.IsTransient.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		err := op(callCtx)
		cancel()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil, !storage.IsTransient(err):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Warn("transient failure; retrying", "attempt", attempt, "wait", wait, "err", err)
		}
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
