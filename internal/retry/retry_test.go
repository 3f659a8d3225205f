package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 2, Delay: time.Millisecond, Backoff: true}, func() error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_PermanentStopsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 5, Delay: time.Millisecond}, func() error {
		calls++
		return Permanent(boom)
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, RetryConfig{MaxAttempts: 3, Delay: time.Hour}, func() error {
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
