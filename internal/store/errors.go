package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. Absence is an expected outcome, not an exceptional one; callers
	// should branch on it with errors.Is rather than treating it as fatal.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate of
	// a unique entity. A task ID collision is a configuration error, never a
	// retryable one.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidTransition is returned when a status update violates the
	// task lifecycle state machine. The stored record is left unchanged.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrUnavailable wraps failures of the backing store itself. This is the
	// only error class callers should treat as retryable-but-serious.
	ErrUnavailable = errors.New("store unavailable")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrTenantNotFound indicates that the requested tenant does not exist in the store.
	ErrTenantNotFound = fmt.Errorf("%w: tenant", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
