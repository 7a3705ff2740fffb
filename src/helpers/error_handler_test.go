package helpers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	var err error = NewScrapeError("exec", 0, cause)
	var scrapeErr *ScrapeError
	require.True(t, errors.As(err, &scrapeErr))
	assert.Equal(t, "exec", scrapeErr.Endpoint)
	assert.ErrorIs(t, err, cause)

	err = fmt.Errorf("wrapped: %w", NewPersistenceError("save", "trades", 3, cause))
	var persistErr *PersistenceError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, "trades", persistErr.Table)
	assert.Equal(t, 3, persistErr.Rows)

	capErr := NewCapacityError(100)
	assert.Contains(t, capErr.Error(), "100")
	assert.Nil(t, errors.Unwrap(capErr))
}

func TestScrapeErrorMentionsStatus(t *testing.T) {
	err := NewScrapeError("sys", 503, nil)
	assert.Contains(t, err.Error(), "503")
}

func TestRetryWithBackoffSucceedsEventually(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), "op", 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffGivesUp(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), "op", 2, time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "boom")
}

func TestRetryWithBackoffHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, "op", 5, time.Hour, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
