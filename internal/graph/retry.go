package graph

import (
	"context"
	"errors"
	"time"

	tserrors "github.com/teamscope/teamscope/internal/errors"
)

// retryWithBackoff calls fn up to maxAttempts times with exponential
// backoff, doubling the delay after each failure. Context cancellation
// aborts immediately. Exhausting every attempt surfaces StoreUnavailable
// so the ingestion caller can safely redeliver the payload later.
func retryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	return tserrors.StoreUnavailable(lastErr, maxAttempts)
}
