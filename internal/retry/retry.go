package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

// Do calls fn, retrying transient failures up to maxRetries more times with
// exponential backoff and jitter. A Retry-After hint on an HTTPError wins over
// the computed delay.
func Do[T any](ctx context.Context, maxRetries int, baseDelay time.Duration, logger *slog.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	out, err := fn(ctx)
	if err == nil {
		return out, nil
	}
	if !IsRetryable(err) {
		return zero, err
	}

	lastErr := err
	for attempt := 1; attempt <= maxRetries; attempt++ {
		delay := BackoffDelay(baseDelay, attempt, lastErr)

		logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_retries", maxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		out, err = fn(ctx)
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryFetcher is a decorator that retries transient source failures before
// giving up on the batch.
type RetryFetcher struct {
	inner      model.SourceFetcher
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewRetryFetcher wraps a SourceFetcher with retry logic.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is the delay before the first retry, doubled on each later retry.
func NewRetryFetcher(inner model.SourceFetcher, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *RetryFetcher {
	return &RetryFetcher{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// FetchPayloads fetches payloads, retrying on transient errors.
func (f *RetryFetcher) FetchPayloads(ctx context.Context) ([]model.Payload, error) {
	return Do(ctx, f.maxRetries, f.baseDelay, f.logger, f.inner.FetchPayloads)
}

// BackoffDelay computes the delay for a given attempt with ±30% jitter.
// If the error carries a Retry-After duration, that takes precedence.
func BackoffDelay(base time.Duration, attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// IsRetryable reports whether err is a transient failure worth retrying:
// 429, 5xx and network errors. Context cancellation and other 4xx are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	return true
}
