package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch-api/internal/lock"
)

func newTestLocker(t *testing.T) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lock.NewRedisLocker(client), mr
}

func TestAcquireLock(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.AcquireLock(ctx, "janitor", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.NotEmpty(t, first.Token)

	// A second caller loses the race and gets nil, not an error.
	second, err := locker.AcquireLock(ctx, "janitor", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	// A different key is independent.
	other, err := locker.AcquireLock(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestAcquireLockAfterExpiry(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.AcquireLock(ctx, "janitor", time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	mr.FastForward(2 * time.Second)

	second, err := locker.AcquireLock(ctx, "janitor", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Token, second.Token, "fencing tokens must never repeat")
}

func TestExtendLock(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	held, err := locker.AcquireLock(ctx, "janitor", time.Second)
	require.NoError(t, err)
	require.NotNil(t, held)

	ok, err := locker.ExtendLock(ctx, held, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// After expiry the key is gone; extending must fail, not resurrect it.
	mr.FastForward(2 * time.Minute)

	ok, err = locker.ExtendLock(ctx, held, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err := locker.IsLocked(ctx, "janitor")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestExtendLockStaleToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.AcquireLock(ctx, "janitor", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := locker.AcquireLock(ctx, "janitor", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, current)

	// The previous holder's token no longer matches; its extend is rejected
	// and the new holder keeps the lock.
	ok, err := locker.ExtendLock(ctx, stale, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	locked, err := locker.IsLocked(ctx, "janitor")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestReleaseStaleTokenIsNoOp(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.AcquireLock(ctx, "janitor", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := locker.AcquireLock(ctx, "janitor", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, current)

	require.NoError(t, locker.Release(ctx, stale))

	// The new holder is unaffected by the stale release.
	locked, err := locker.IsLocked(ctx, "janitor")
	require.NoError(t, err)
	assert.True(t, locked)

	// A matching release does remove the entry.
	require.NoError(t, locker.Release(ctx, current))
	locked, err = locker.IsLocked(ctx, "janitor")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestAcquireLockWithRetry(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	t.Run("times out under contention", func(t *testing.T) {
		held, err := locker.AcquireLock(ctx, "busy", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, held)

		start := time.Now()
		_, err = locker.AcquireLockWithRetry(ctx, "busy", time.Minute, 100*time.Millisecond, 20*time.Millisecond)
		assert.ErrorIs(t, err, lock.ErrWaitTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	})

	t.Run("succeeds once the holder expires", func(t *testing.T) {
		held, err := locker.AcquireLock(ctx, "turnover", 50*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, held)

		// miniredis TTLs only advance via FastForward.
		go func() {
			time.Sleep(30 * time.Millisecond)
			mr.FastForward(time.Second)
		}()

		got, err := locker.AcquireLockWithRetry(ctx, "turnover", time.Minute, time.Second, 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.NotEqual(t, held.Token, got.Token)
	})
}
