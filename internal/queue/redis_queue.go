package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. The pending ZSET is scored by the backoff floor, the
// claimed ZSET by the last claim grant or heartbeat; per-item state lives in
// a hash under itemKeyPrefix.
const (
	pendingKey    = "dispatch:queue:pending"
	claimedKey    = "dispatch:queue:claimed"
	itemKeyPrefix = "dispatch:queue:item:"
)

// dequeueScript picks one eligible item and claims it in a single atomic
// step. Eligible means: in the pending set past its backoff floor, or in the
// claimed set with a lapsed lease (an orphan the sweep has not reached yet).
//
// KEYS: pending, claimed. ARGV: now_ms, lease_ms, instance_id, item_prefix.
// Returns the claimed task ID, or false when nothing is eligible.
var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local id = nil

local ready = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", now, "LIMIT", 0, 1)
if ready[1] then
	id = ready[1]
	redis.call("ZREM", KEYS[1], id)
else
	local claimed = redis.call("ZRANGE", KEYS[2], 0, -1)
	for _, cid in ipairs(claimed) do
		local exp = redis.call("HGET", ARGV[4] .. cid, "claim_expires_at")
		if exp and tonumber(exp) <= now then
			id = cid
			break
		end
	end
	if not id then
		return false
	end
	redis.call("ZREM", KEYS[2], id)
	redis.call("HINCRBY", ARGV[4] .. id, "retry_count", 1)
end

local key = ARGV[4] .. id
redis.call("HSET", key,
	"owner", ARGV[3],
	"claimed_at", ARGV[1],
	"claim_expires_at", now + tonumber(ARGV[2]))
redis.call("ZADD", KEYS[2], now, id)
return id
`)

// extendClaimScript renews a lease only for the current owner of a live
// claim; a lapsed or foreign claim is left untouched.
//
// KEYS: claimed. ARGV: now_ms, extension_ms, instance_id, item_key, task_id.
var extendClaimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local owner = redis.call("HGET", ARGV[4], "owner")
local exp = redis.call("HGET", ARGV[4], "claim_expires_at")
if owner ~= ARGV[3] or not exp or tonumber(exp) <= now then
	return 0
end
redis.call("HSET", ARGV[4],
	"claimed_at", ARGV[1],
	"claim_expires_at", now + tonumber(ARGV[2]))
redis.call("ZADD", KEYS[1], now, ARGV[5])
return 1
`)

// acknowledgeScript removes an item entirely. Removing an item that is
// already gone is a harmless no-op, keeping acknowledgement idempotent; an
// item owned by a different instance is left untouched so a worker whose
// claim was reassigned cannot delete the new owner's work.
//
// KEYS: pending, claimed. ARGV: item_key, task_id, instance_id.
var acknowledgeScript = redis.NewScript(`
local owner = redis.call("HGET", ARGV[1], "owner")
if owner and owner ~= ARGV[3] then
	return 0
end
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[2])
redis.call("DEL", ARGV[1])
return 1
`)

// returnScript gives an item back to the queue: ownership cleared, retry
// count bumped, error recorded, backoff floor applied. When no explicit
// retry-after is supplied (ARGV[3] < 0) the exponential default for the new
// retry count is computed in-script so the floor matches the count exactly.
//
// KEYS: pending, claimed.
// ARGV: now_ms, item_key, retry_after_ms, backoff_base_ms, backoff_cap_ms, err, task_id.
var returnScript = redis.NewScript(`
local now = tonumber(ARGV[1])
if redis.call("EXISTS", ARGV[2]) == 0 then
	return 0
end
local retries = redis.call("HINCRBY", ARGV[2], "retry_count", 1)
local delay = tonumber(ARGV[3])
if delay < 0 then
	delay = tonumber(ARGV[4]) * 2 ^ (retries - 1)
	if delay > tonumber(ARGV[5]) then
		delay = tonumber(ARGV[5])
	end
end
redis.call("HDEL", ARGV[2], "owner", "claimed_at", "claim_expires_at")
redis.call("HSET", ARGV[2], "last_error", ARGV[6], "next_attempt_at", now + delay)
redis.call("ZREM", KEYS[2], ARGV[7])
redis.call("ZADD", KEYS[1], now + delay, ARGV[7])
return retries
`)

// recoverScript sweeps claims whose last grant is older than the cutoff and
// whose lease has lapsed. Items with a live (extended) claim are never
// touched: the heartbeat moved their score and expiry forward.
//
// KEYS: pending, claimed. ARGV: now_ms, claim_timeout_ms, item_prefix.
var recoverScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cutoff = now - tonumber(ARGV[2])
local recovered = 0
local stale = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", cutoff)
for _, id in ipairs(stale) do
	local key = ARGV[3] .. id
	local exp = redis.call("HGET", key, "claim_expires_at")
	if exp and tonumber(exp) <= now then
		redis.call("HDEL", key, "owner", "claimed_at", "claim_expires_at")
		redis.call("HINCRBY", key, "retry_count", 1)
		redis.call("HSET", key, "next_attempt_at", ARGV[1])
		redis.call("ZREM", KEYS[2], id)
		redis.call("ZADD", KEYS[1], now, id)
		recovered = recovered + 1
	end
end
return recovered
`)

// activeCountScript counts claims that are still live at the given instant.
//
// KEYS: claimed. ARGV: now_ms, item_prefix.
var activeCountScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local live = 0
for _, id in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
	local exp = redis.call("HGET", ARGV[2] .. id, "claim_expires_at")
	if exp and tonumber(exp) > now then
		live = live + 1
	end
end
return live
`)

// RedisQueue implements Queue on a Redis client.
type RedisQueue struct {
	client *redis.Client
	lease  time.Duration
}

// NewRedisQueue creates a RedisQueue whose Dequeue grants claims with the
// given lease duration.
func NewRedisQueue(client *redis.Client, lease time.Duration) *RedisQueue {
	return &RedisQueue{
		client: client,
		lease:  lease,
	}
}

func itemKey(taskID uuid.UUID) string {
	return itemKeyPrefix + taskID.String()
}

// Enqueue adds an unclaimed item, immediately eligible for dequeue.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID uuid.UUID, payload json.RawMessage) error {
	now := time.Now().UTC()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, itemKey(taskID),
		"payload", string(payload),
		"enqueued_at", now.UnixMilli(),
		"retry_count", 0,
		"next_attempt_at", now.UnixMilli(),
	)
	pipe.ZAdd(ctx, pendingKey, redis.Z{Score: float64(now.UnixMilli()), Member: taskID.String()})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}
	return nil
}

// Dequeue atomically claims one eligible item for instanceID.
func (q *RedisQueue) Dequeue(ctx context.Context, instanceID string) (*Item, error) {
	now := time.Now().UTC()

	res, err := dequeueScript.Run(ctx, q.client,
		[]string{pendingKey, claimedKey},
		now.UnixMilli(),
		q.lease.Milliseconds(),
		instanceID,
		itemKeyPrefix,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("failed to dequeue: unexpected script result %T", res)
	}

	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: malformed task ID %q: %w", id, err)
	}

	return q.getItem(ctx, taskID)
}

// Acknowledge removes the item; idempotent for already-removed items and a
// no-op for items now owned by someone else.
func (q *RedisQueue) Acknowledge(ctx context.Context, taskID uuid.UUID, instanceID string) error {
	err := acknowledgeScript.Run(ctx, q.client,
		[]string{pendingKey, claimedKey},
		itemKey(taskID),
		taskID.String(),
		instanceID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to acknowledge task %s: %w", taskID, err)
	}
	return nil
}

// ReturnToQueue hands an item back after a caught failure.
func (q *RedisQueue) ReturnToQueue(ctx context.Context, taskID uuid.UUID, taskErr string, retryAfter time.Duration) error {
	retryAfterMs := int64(-1)
	if retryAfter > 0 {
		retryAfterMs = retryAfter.Milliseconds()
	}

	err := returnScript.Run(ctx, q.client,
		[]string{pendingKey, claimedKey},
		time.Now().UTC().UnixMilli(),
		itemKey(taskID),
		retryAfterMs,
		DefaultBackoffBase.Milliseconds(),
		DefaultBackoffCap.Milliseconds(),
		taskErr,
		taskID.String(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to return task %s to queue: %w", taskID, err)
	}
	return nil
}

// ExtendClaim renews the caller's lease on an item it still owns.
func (q *RedisQueue) ExtendClaim(ctx context.Context, taskID uuid.UUID, instanceID string, extension time.Duration) (bool, error) {
	ok, err := extendClaimScript.Run(ctx, q.client,
		[]string{claimedKey},
		time.Now().UTC().UnixMilli(),
		extension.Milliseconds(),
		instanceID,
		itemKey(taskID),
		taskID.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend claim on task %s: %w", taskID, err)
	}
	return ok == 1, nil
}

// RecoverOrphanedTasks sweeps lapsed claims back into the pending set.
func (q *RedisQueue) RecoverOrphanedTasks(ctx context.Context, claimTimeout time.Duration) (int, error) {
	recovered, err := recoverScript.Run(ctx, q.client,
		[]string{pendingKey, claimedKey},
		time.Now().UTC().UnixMilli(),
		claimTimeout.Milliseconds(),
		itemKeyPrefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned tasks: %w", err)
	}
	return recovered, nil
}

// QueueDepth counts unclaimed items whose backoff floor has passed.
func (q *RedisQueue) QueueDepth(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)

	depth, err := q.client.ZCount(ctx, pendingKey, "-inf", now).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return depth, nil
}

// ActiveTaskCount counts items with a live claim.
func (q *RedisQueue) ActiveTaskCount(ctx context.Context) (int64, error) {
	live, err := activeCountScript.Run(ctx, q.client,
		[]string{claimedKey},
		time.Now().UTC().UnixMilli(),
		itemKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to get active task count: %w", err)
	}
	return live, nil
}

// GetItem returns the queue item for a task, or nil if it is not queued.
func (q *RedisQueue) GetItem(ctx context.Context, taskID uuid.UUID) (*Item, error) {
	return q.getItem(ctx, taskID)
}

func (q *RedisQueue) getItem(ctx context.Context, taskID uuid.UUID) (*Item, error) {
	fields, err := q.client.HGetAll(ctx, itemKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue item %s: %w", taskID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	item := &Item{
		TaskID:    taskID,
		Payload:   json.RawMessage(fields["payload"]),
		Owner:     fields["owner"],
		LastError: fields["last_error"],
	}
	item.EnqueuedAt = msField(fields, "enqueued_at")
	item.ClaimedAt = msField(fields, "claimed_at")
	item.ClaimExpiresAt = msField(fields, "claim_expires_at")
	item.NextAttemptAt = msField(fields, "next_attempt_at")
	if n, err := strconv.Atoi(fields["retry_count"]); err == nil {
		item.RetryCount = n
	}

	return item, nil
}

// msField parses a unix-millisecond hash field into a time, zero if absent.
func msField(fields map[string]string, name string) time.Time {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
