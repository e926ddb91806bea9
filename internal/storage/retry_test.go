package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterConflict(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, 3, calls)
}

func TestWithRetryDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, isRetriable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetriable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isRetriable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetriable(errors.New("plain")))
	assert.False(t, isRetriable(nil))
}
