// Package lock implements named, time-bounded mutual exclusion on top of
// Redis. Every acquisition carries a fresh fencing token; extend and release
// verify the stored token before mutating, so a holder whose lock already
// expired or was stolen cannot silently keep it alive.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by AcquireLockWithRetry when the caller-supplied
// wait deadline elapses before the lock could be acquired. Plain contention
// inside the window is not an error; breaking the wait contract is.
var ErrWaitTimeout = errors.New("timed out waiting for lock")

// Lock is proof of one specific acquisition of a key. The token is the only
// thing the store trusts; holding a Lock value whose token no longer matches
// the stored one means ownership has been lost.
type Lock struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker defines distributed mutual exclusion with fencing-token safety.
type Locker interface {
	// AcquireLock attempts a single atomic "set if absent or expired" with a
	// freshly generated fencing token. Returns nil (not an error) when
	// another valid holder exists.
	AcquireLock(ctx context.Context, key string, expiry time.Duration) (*Lock, error)

	// AcquireLockWithRetry loops AcquireLock every retryDelay until success
	// or until timeout elapses, at which point it returns ErrWaitTimeout.
	AcquireLockWithRetry(ctx context.Context, key string, expiry, timeout, retryDelay time.Duration) (*Lock, error)

	// IsLocked is a non-authoritative point-in-time check. It must not be
	// used in place of an acquire attempt in correctness-sensitive code.
	IsLocked(ctx context.Context, key string) (bool, error)

	// ExtendLock pushes the expiry to now+extension, but only if the stored
	// fencing token still matches and has not expired. Returns false without
	// side effects otherwise.
	ExtendLock(ctx context.Context, lock *Lock, extension time.Duration) (bool, error)

	// Release deletes the stored entry only if the fencing token matches.
	// A mismatched or already-expired release is a silent no-op.
	Release(ctx context.Context, lock *Lock) error
}
