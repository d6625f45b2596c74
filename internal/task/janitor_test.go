package task

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/lock"
	"github.com/phrazzld/dispatch-api/internal/mocks"
	"github.com/phrazzld/dispatch-api/internal/notify"
	"github.com/phrazzld/dispatch-api/internal/queue"
	"github.com/phrazzld/dispatch-api/internal/store"
)

type janitorHarness struct {
	janitor *Janitor
	service *Service
	tasks   *mocks.MemoryTaskStore
	queue   *queue.RedisQueue
	locker  lock.Locker
}

func newTestJanitor(t *testing.T, lease time.Duration, config JanitorConfig) *janitorHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tasks := mocks.NewMemoryTaskStore()
	q := queue.NewRedisQueue(client, lease)
	locker := lock.NewRedisLocker(client)
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	gateway := notify.NewGateway(&memSink{}, notify.DefaultBreakerConfig(), logger)
	service := NewService(tasks, q, NewRegistry(), gateway, logger)

	return &janitorHarness{
		janitor: NewJanitor(config, service, q, locker, logger),
		service: service,
		tasks:   tasks,
		queue:   q,
		locker:  locker,
	}
}

func TestJanitorRecoversOrphanedClaims(t *testing.T) {
	t.Parallel()

	config := DefaultJanitorConfig()
	config.ClaimTimeout = 20 * time.Millisecond
	h := newTestJanitor(t, 20*time.Millisecond, config)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
	require.NoError(t, err)

	// Claim the item, then vanish without heartbeating or acknowledging.
	item, err := h.queue.Dequeue(ctx, "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, item)

	time.Sleep(60 * time.Millisecond)

	h.janitor.recoverOrphans(ctx)

	recovered, err := h.queue.GetItem(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Empty(t, recovered.Owner)
	assert.GreaterOrEqual(t, recovered.RetryCount, 1)

	// The freed item is claimable by a live worker.
	item, err = h.queue.Dequeue(ctx, "live-worker")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, task.ID, item.TaskID)
}

func TestJanitorSkipsSweepWhenLockHeldElsewhere(t *testing.T) {
	t.Parallel()

	config := DefaultJanitorConfig()
	config.ClaimTimeout = 20 * time.Millisecond
	h := newTestJanitor(t, 20*time.Millisecond, config)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
	require.NoError(t, err)

	_, err = h.queue.Dequeue(ctx, "dead-worker")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	held, err := h.locker.AcquireLock(ctx, recoveryLockKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	h.janitor.recoverOrphans(ctx)

	// Another instance owns the sweep; the claim must be left alone.
	item, err := h.queue.GetItem(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "dead-worker", item.Owner)
}

func TestJanitorCleansUpOldTasks(t *testing.T) {
	t.Parallel()

	config := DefaultJanitorConfig()
	config.RetentionPeriod = 24 * time.Hour
	h := newTestJanitor(t, 30*time.Second, config)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateProcessing, store.StatusUpdate{}))
	require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateFailed, store.StatusUpdate{}))

	h.tasks.SetCompletedAt(task.ID, time.Now().UTC().Add(-48*time.Hour))

	h.janitor.cleanupOldTasks(ctx)

	_, err = h.service.GetTaskStatus(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestJanitorStartStop(t *testing.T) {
	t.Parallel()

	config := DefaultJanitorConfig()
	config.RecoveryInterval = 10 * time.Millisecond
	config.ClaimTimeout = 20 * time.Millisecond
	config.CleanupInterval = 10 * time.Millisecond
	h := newTestJanitor(t, 20*time.Millisecond, config)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
	require.NoError(t, err)

	_, err = h.queue.Dequeue(ctx, "dead-worker")
	require.NoError(t, err)

	h.janitor.Start(ctx)
	defer h.janitor.Stop()

	require.Eventually(t, func() bool {
		item, err := h.queue.GetItem(ctx, task.ID)
		return err == nil && item != nil && item.Owner == ""
	}, 2*time.Second, 20*time.Millisecond)
}
