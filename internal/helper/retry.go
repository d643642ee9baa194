package helper

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"doc-tutor/internal/config"
)

// Retry runs op until it succeeds, returns a permanent error, or the
// configured attempts are exhausted. Each attempt gets its own timeout when
// attemptTimeout is positive. Cancellation of ctx is never retried.
func Retry[T any](ctx context.Context, cfg config.RetryConfig, attemptTimeout time.Duration, name string, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if attemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, attemptTimeout)
		}
		defer cancel()

		res, err := op(actx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(ctx.Err())
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return res, backoff.Permanent(perm.Err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("operation", name).Int("attempt", attempt).Dur("retry_in", next).Msg("Retrying after failure")
		}),
	)
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
