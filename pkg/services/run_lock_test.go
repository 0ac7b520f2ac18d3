package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
)

func TestLocalRunLocker(t *testing.T) {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	locker := &localRunLocker{held: make(map[string]time.Time), now: func() time.Time { return now }}
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "acled", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "acled", time.Minute)
	require.ErrorIs(t, err, apperrors.ErrSourceBusy)

	other, err := locker.Acquire(ctx, "daily-trust", time.Minute)
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := locker.Acquire(ctx, "acled", time.Minute)
	require.NoError(t, err)

	// A holder that never releases loses the lock once the TTL passes, and
	// its late release must not free the new holder's lock.
	now = now.Add(2 * time.Minute)
	taken, err := locker.Acquire(ctx, "acled", time.Minute)
	require.NoError(t, err)
	again()
	_, err = locker.Acquire(ctx, "acled", time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrSourceBusy)
	taken()
}

func TestLocalRunLocker_DefaultTTL(t *testing.T) {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	locker := &localRunLocker{held: make(map[string]time.Time), now: func() time.Time { return now }}

	_, err := locker.Acquire(context.Background(), "acled", 0)
	require.NoError(t, err)

	now = now.Add(DefaultRunLockTTL - time.Second)
	_, err = locker.Acquire(context.Background(), "acled", 0)
	assert.ErrorIs(t, err, apperrors.ErrSourceBusy)

	now = now.Add(2 * time.Second)
	_, err = locker.Acquire(context.Background(), "acled", 0)
	assert.NoError(t, err)
}
