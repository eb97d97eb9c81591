// Package retry runs an operation until it succeeds, the attempt budget is spent,
// or a non-retryable error short-circuits the sequence.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gateway "github.com/eugener/predictgw/internal"
	"github.com/eugener/predictgw/internal/backoff"
)

// Config controls one retry sequence.
type Config struct {
	Spec gateway.BackoffSpec
	// ShouldRetry decides whether a failed attempt may be retried.
	// nil means gateway.IsRetryable.
	ShouldRetry func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	// attempt is 1-based and names the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do runs fn up to Spec.MaxAttempts times, sleeping backoff.Delay between
// attempts. The sleep is a timer select and returns early when ctx is done.
//
// Every failure is returned as a *gateway.Error whose Err is the last attempt's
// error: Kind is KindExhausted when the budget ran out, or the classified kind
// when ShouldRetry refused the error.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	spec := backoff.Normalize(cfg.Spec)
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = gateway.IsRetryable
	}

	var lastErr error
	for attempt := range spec.MaxAttempts {
		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.LogAttrs(ctx, slog.LevelInfo, "operation succeeded after retry",
					slog.Int("attempt", attempt+1),
				)
			}
			return v, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, &gateway.Error{Kind: kindOf(err), Attempt: attempt + 1, Err: err}
		}
		if attempt == spec.MaxAttempts-1 {
			break
		}

		delay := backoff.Delay(attempt, spec)
		slog.LogAttrs(ctx, slog.LevelWarn, "operation failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", spec.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, &gateway.Error{
				Kind:    kindOf(err),
				Attempt: attempt + 1,
				Err:     errors.Join(lastErr, err),
			}
		}
	}

	slog.LogAttrs(ctx, slog.LevelWarn, "retry attempts exhausted",
		slog.Int("max_attempts", spec.MaxAttempts),
		slog.String("error", lastErr.Error()),
	)
	return zero, &gateway.Error{Kind: gateway.KindExhausted, Attempt: spec.MaxAttempts, Err: lastErr}
}

// Once runs fn a single time and types its failure the same way Do does.
func Once[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err != nil {
		return v, &gateway.Error{Kind: kindOf(err), Attempt: 1, Err: err}
	}
	return v, nil
}

// kindOf classifies err, defaulting to KindUnknown.
func kindOf(err error) gateway.ErrorKind {
	k := gateway.ClassifyError(err)
	if k == "" {
		return gateway.KindUnknown
	}
	return k
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
