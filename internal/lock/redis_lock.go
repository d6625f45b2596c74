package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockKeyPrefix namespaces lock entries in Redis.
const lockKeyPrefix = "dispatch:lock:"

// extendScript pushes the TTL forward only while the stored fencing token
// still matches. An expired key no longer exists, so GET returns nil and the
// extend fails without side effects.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the entry only while the stored fencing token still
// matches, so a stale holder cannot release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on a Redis client.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a new RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
	}
}

func lockKey(key string) string {
	return lockKeyPrefix + key
}

// AcquireLock attempts a single SET NX PX with a fresh fencing token.
func (l *RedisLocker) AcquireLock(ctx context.Context, key string, expiry time.Duration) (*Lock, error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, lockKey(key), token, expiry).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
	}

	if !acquired {
		// Another valid holder exists; contention is an expected outcome.
		return nil, nil
	}

	return &Lock{
		Key:       key,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(expiry),
	}, nil
}

// AcquireLockWithRetry loops AcquireLock until success or the wait deadline.
func (l *RedisLocker) AcquireLockWithRetry(
	ctx context.Context,
	key string,
	expiry, timeout, retryDelay time.Duration,
) (*Lock, error) {
	deadline := time.Now().Add(timeout)

	for {
		lock, err := l.AcquireLock(ctx, key, expiry)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}

		if time.Now().Add(retryDelay).After(deadline) {
			return nil, fmt.Errorf("%w: %q after %s", ErrWaitTimeout, key, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// IsLocked reports whether any holder currently exists for the key.
func (l *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock %q: %w", key, err)
	}
	return n > 0, nil
}

// ExtendLock pushes the expiry to now+extension while the token matches.
func (l *RedisLocker) ExtendLock(ctx context.Context, lock *Lock, extension time.Duration) (bool, error) {
	ok, err := extendScript.Run(ctx, l.client,
		[]string{lockKey(lock.Key)},
		lock.Token,
		extension.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock %q: %w", lock.Key, err)
	}

	if ok == 0 {
		return false, nil
	}

	lock.ExpiresAt = time.Now().UTC().Add(extension)
	return true, nil
}

// Release deletes the entry while the token matches; otherwise a no-op.
func (l *RedisLocker) Release(ctx context.Context, lock *Lock) error {
	_, err := releaseScript.Run(ctx, l.client,
		[]string{lockKey(lock.Key)},
		lock.Token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", lock.Key, err)
	}
	return nil
}
