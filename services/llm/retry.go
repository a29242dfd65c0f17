package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conversa-ai/conversa/services/assistant/faults"
)

const maxAttempts = 3

// backoff for attempt i (0-based): 1s, 2s, 4s.
func backoff(attempt int) time.Duration {
	return time.Second << attempt
}

// withRetry runs fn up to maxAttempts times, backing off between attempts.
// Each attempt gets its own deadline of timeout (when > 0), so one stalled
// provider call can never hold a worker forever; an attempt that times out
// counts as transient and is retried. Only transient faults are retried;
// anything else returns immediately. When all attempts fail the transient
// error is upgraded to *faults.ProviderUnavailableError so the orchestration
// layer can stop retrying and degrade.
func withRetry[T any](ctx context.Context, provider, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			slog.Warn("llm: retrying after transient provider error",
				"provider", provider, "op", op, "attempt", attempt+1, "error", lastErr)
			select {
			case <-time.After(backoff(attempt - 1)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		out, err := attempt1(ctx, timeout, fn)
		if err == nil {
			return out, nil
		}
		// The caller going away is not a provider failure.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &faults.TransientProviderError{
				Provider: provider,
				Err:      fmt.Errorf("%s timed out after %s", op, timeout),
			}
		}
		if !faults.IsTransient(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, &faults.ProviderUnavailableError{Provider: provider, Attempts: maxAttempts, Err: lastErr}
}

// attempt1 runs one attempt under its own deadline.
func attempt1[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
