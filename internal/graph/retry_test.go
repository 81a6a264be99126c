package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserrors "github.com/teamscope/teamscope/internal/errors"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), 5, time.Millisecond, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustionSurfacesStoreUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := retryWithBackoff(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		return cause
	})

	require.Error(t, err)
	assert.True(t, tserrors.IsStoreUnavailable(err))
	assert.ErrorIs(t, err, cause)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := retryWithBackoff(ctx, 10, 50*time.Millisecond, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts, "cancellation must stop further attempts")
}
