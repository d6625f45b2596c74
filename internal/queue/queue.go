// Package queue implements the claim-based distributed work queue. An item
// claim is a named, expiring ownership grant, the same fencing pattern as
// internal/lock applied to queue items. All claim mutations run as Lua
// scripts against Redis so that two instances can never both win an item.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Backoff defaults for items returned to the queue without an explicit
// retry-after. The delay doubles per retry up to the cap, preventing a rapid
// retry storm against a failing provider.
const (
	DefaultBackoffBase = 5 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
)

// Item wraps a task's payload for transport through the queue.
type Item struct {
	// TaskID links the item to its lifecycle record.
	TaskID uuid.UUID

	// Payload is the opaque job description handed to the executor.
	Payload json.RawMessage

	// EnqueuedAt is when the item entered the queue.
	EnqueuedAt time.Time

	// Owner is the instance currently holding the claim; empty if unclaimed.
	Owner string

	// ClaimedAt is when the claim was last granted or heartbeated.
	ClaimedAt time.Time

	// ClaimExpiresAt is when the claim lapses. A claim past its expiry is
	// logically unclaimed regardless of Owner.
	ClaimExpiresAt time.Time

	// RetryCount is how many times the item has been handed out after the
	// first attempt.
	RetryCount int

	// LastError is the error recorded by the most recent return-to-queue.
	LastError string

	// NextAttemptAt is the backoff floor; the item is not eligible for
	// dequeue before this time.
	NextAttemptAt time.Time
}

// Claimed reports whether the item has a live claim at the given instant.
func (i *Item) Claimed(now time.Time) bool {
	return i.Owner != "" && i.ClaimExpiresAt.After(now)
}

// Queue defines the claim-based work queue. The contract is at-most one
// live owner per item at any instant and at-least-once delivery overall:
// an item may be handed out again if its owner dies before acknowledging.
type Queue interface {
	// Enqueue adds an unclaimed item for the given task, eligible immediately.
	Enqueue(ctx context.Context, taskID uuid.UUID, payload json.RawMessage) error

	// Dequeue atomically selects one eligible item (unclaimed past its
	// backoff floor, or claimed-but-expired) and claims it for instanceID
	// with a fresh lease. Returns nil when nothing is eligible; callers
	// loop with their own delay.
	Dequeue(ctx context.Context, instanceID string) (*Item, error)

	// Acknowledge removes the item from the queue. Acknowledging an item
	// that was already removed is a no-op, as is acknowledging an item
	// whose claim is currently held by a different instance.
	Acknowledge(ctx context.Context, taskID uuid.UUID, instanceID string) error

	// ReturnToQueue clears the claim, increments the retry count, records
	// the error and sets the backoff floor. A non-positive retryAfter
	// selects the default exponential backoff for the new retry count.
	ReturnToQueue(ctx context.Context, taskID uuid.UUID, taskErr string, retryAfter time.Duration) error

	// ExtendClaim renews the lease for the current owner. Returns false if
	// the caller does not own the item or the claim already expired.
	ExtendClaim(ctx context.Context, taskID uuid.UUID, instanceID string, extension time.Duration) (bool, error)

	// RecoverOrphanedTasks clears claims whose last grant is at least
	// claimTimeout old and whose lease has lapsed, making the items
	// claimable again. Returns how many were recovered. This sweep is the
	// sole mechanism that tolerates worker crashes.
	RecoverOrphanedTasks(ctx context.Context, claimTimeout time.Duration) (int, error)

	// QueueDepth counts items that are unclaimed and eligible now.
	QueueDepth(ctx context.Context) (int64, error)

	// ActiveTaskCount counts items with a live claim.
	ActiveTaskCount(ctx context.Context) (int64, error)
}
