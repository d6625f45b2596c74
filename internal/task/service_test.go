package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/mocks"
	"github.com/phrazzld/dispatch-api/internal/notify"
	"github.com/phrazzld/dispatch-api/internal/queue"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// testHarness bundles a Service with the fakes its tests assert against.
type testHarness struct {
	service *Service
	tasks   *mocks.MemoryTaskStore
	queue   *queue.RedisQueue
	sink    *memSink
}

func newTestService(t *testing.T) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tasks := mocks.NewMemoryTaskStore()
	q := queue.NewRedisQueue(client, 30*time.Second)
	sink := &memSink{}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	gateway := notify.NewGateway(sink, notify.DefaultBreakerConfig(), logger)

	return &testHarness{
		service: NewService(tasks, q, NewRegistry(), gateway, logger),
		tasks:   tasks,
		queue:   q,
		sink:    sink,
	}
}

// testWriter routes log output through the test log.
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestEnqueueTask(t *testing.T) {
	t.Parallel()

	h := newTestService(t)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 7,
		json.RawMessage(`{"prompt":"a lighthouse"}`), json.RawMessage(`{"source":"api"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatePending, task.State)

	stored, err := h.service.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, stored.ID)

	depth, err := h.service.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestEnqueueTaskRollsBackOnQueueFailure(t *testing.T) {
	t.Parallel()

	h := newTestService(t)
	ctx := context.Background()

	failing := &failingQueue{Queue: h.queue, enqueueErr: errors.New("redis down")}
	svc := NewService(h.tasks, failing, NewRegistry(),
		notify.NewGateway(h.sink, notify.DefaultBreakerConfig(), slog.Default()), slog.Default())

	task, err := svc.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 7, nil, nil)
	require.Error(t, err)
	assert.Nil(t, task)

	// The record must not be left stranded without a queue item.
	assert.Equal(t, 0, h.tasks.Len())
}

// failingQueue wraps a real queue and injects an Enqueue error.
type failingQueue struct {
	queue.Queue
	enqueueErr error
}

func (q *failingQueue) Enqueue(ctx context.Context, taskID uuid.UUID, payload json.RawMessage) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	return q.Queue.Enqueue(ctx, taskID, payload)
}

func TestGetTaskStatusNotFound(t *testing.T) {
	t.Parallel()

	h := newTestService(t)

	_, err := h.service.GetTaskStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestUpdateTaskStatusNotifies(t *testing.T) {
	t.Parallel()

	h := newTestService(t)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeVideoGeneration, 3, nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateProcessing, store.StatusUpdate{}))
	assert.True(t, h.sink.hasEvent(notify.EventTaskStarted))

	progress := 40
	msg := "rendering frames"
	require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateProcessing, store.StatusUpdate{
		Progress:        &progress,
		ProgressMessage: &msg,
	}))
	assert.True(t, h.sink.hasEvent(notify.EventTaskProgress))

	require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateCompleted, store.StatusUpdate{
		Result: json.RawMessage(`{"url":"https://cdn/video.mp4"}`),
	}))
	assert.True(t, h.sink.hasEvent(notify.EventTaskCompleted))

	stored, err := h.service.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCompleted, stored.State)
	assert.NotNil(t, stored.CompletedAt)
}

func TestUpdateTaskStatusRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	h := newTestService(t)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeAudioGeneration, 3, nil, nil)
	require.NoError(t, err)

	err = h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateCompleted, store.StatusUpdate{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestCancelTask(t *testing.T) {
	t.Parallel()

	h := newTestService(t)
	ctx := context.Background()

	t.Run("cancels pending task", func(t *testing.T) {
		task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
		require.NoError(t, err)

		cancelled, err := h.service.CancelTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCancelled, cancelled.State)
		assert.True(t, h.sink.hasEvent(notify.EventTaskCancelled))
	})

	t.Run("terminal task is a no-op", func(t *testing.T) {
		task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
		require.NoError(t, err)

		require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateProcessing, store.StatusUpdate{}))
		require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateCompleted, store.StatusUpdate{}))

		got, err := h.service.CancelTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCompleted, got.State)
	})

	t.Run("fires the local cancellation signal", func(t *testing.T) {
		task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
		require.NoError(t, err)

		taskCtx := h.service.Registry().RegisterTask(ctx, task.ID)
		defer h.service.Registry().UnregisterTask(task.ID)

		_, err = h.service.CancelTask(ctx, task.ID)
		require.NoError(t, err)

		select {
		case <-taskCtx.Done():
		default:
			t.Fatal("local execution context should be cancelled")
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := h.service.CancelTask(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPollTaskUntilCompleted(t *testing.T) {
	t.Parallel()

	h := newTestService(t)
	ctx := context.Background()

	t.Run("returns once terminal", func(t *testing.T) {
		task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateProcessing, store.StatusUpdate{})
			_ = h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateCompleted, store.StatusUpdate{})
		}()

		got, err := h.service.PollTaskUntilCompleted(ctx, task.ID, 10*time.Millisecond, time.Second)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCompleted, got.State)
	})

	t.Run("timeout returns last observed state without error", func(t *testing.T) {
		task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
		require.NoError(t, err)

		got, err := h.service.PollTaskUntilCompleted(ctx, task.ID, 10*time.Millisecond, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatePending, got.State)
	})
}

func TestCleanupOldTasks(t *testing.T) {
	t.Parallel()

	h := newTestService(t)
	ctx := context.Background()

	task, err := h.service.EnqueueTask(ctx, domain.TaskTypeImageGeneration, 1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateProcessing, store.StatusUpdate{}))
	require.NoError(t, h.service.UpdateTaskStatus(ctx, task.ID, domain.TaskStateCompleted, store.StatusUpdate{}))

	// Backdate the completion so the retention cutoff passes it.
	h.tasks.SetCompletedAt(task.ID, time.Now().UTC().Add(-48*time.Hour))

	removed, err := h.service.CleanupOldTasks(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = h.service.GetTaskStatus(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}
