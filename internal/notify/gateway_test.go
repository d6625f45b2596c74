package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch-api/internal/domain"
)

// recordingSink captures published events and can be told to fail.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testTask(t *testing.T) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(domain.TaskTypeImageGeneration, 9, nil)
	require.NoError(t, err)
	return task
}

func TestGatewayDeliversEvents(t *testing.T) {
	sink := &recordingSink{}
	g := NewGateway(sink, BreakerConfig{}, slog.Default())

	task := testTask(t)
	g.NotifyTaskStarted(context.Background(), task)
	g.NotifyTaskProgress(context.Background(), task)

	require.Equal(t, 2, sink.count())
	assert.Equal(t, EventTaskStarted, sink.events[0].Type)
	assert.Equal(t, EventTaskProgress, sink.events[1].Type)
	assert.Equal(t, task.ID, sink.events[0].TaskID)
	assert.Equal(t, int64(9), sink.events[0].TenantID)
}

func TestGatewaySwallowsDeliveryFailure(t *testing.T) {
	sink := &recordingSink{}
	sink.fail(errors.New("channel down"))

	g := NewGateway(sink, BreakerConfig{FailureThreshold: 2, OpenDuration: time.Minute}, slog.Default())

	task := testTask(t)

	// Neither call panics or errors; the second failure opens the circuit.
	g.NotifyTaskFailed(context.Background(), task)
	assert.Equal(t, CircuitClosed, g.GetCircuitState())

	g.NotifyTaskCompleted(context.Background(), task)
	assert.Equal(t, CircuitOpen, g.GetCircuitState())

	// Further notifications fail fast without touching the sink.
	g.NotifyTaskCancelled(context.Background(), task)
	assert.Equal(t, 0, sink.count())

	health := g.GetHealthStatus()
	assert.False(t, health.Healthy)
	assert.Equal(t, string(CircuitOpen), health.CircuitState)
	require.NotNil(t, health.LastFailureAt)
}

func TestGatewayRecoversAfterReset(t *testing.T) {
	sink := &recordingSink{}
	sink.fail(errors.New("channel down"))

	g := NewGateway(sink, BreakerConfig{FailureThreshold: 1, OpenDuration: time.Hour}, slog.Default())

	task := testTask(t)
	g.NotifyTaskStarted(context.Background(), task)
	assert.Equal(t, CircuitOpen, g.GetCircuitState())

	sink.fail(nil)
	g.ResetCircuitBreaker()
	assert.Equal(t, CircuitClosed, g.GetCircuitState())

	g.NotifyTaskCompleted(context.Background(), task)
	assert.Equal(t, 1, sink.count())
	assert.True(t, g.GetHealthStatus().Healthy)
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), "dispatch:notify:tenant:9")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	sink := NewRedisSink(client)
	task := testTask(t)
	task.State = domain.TaskStateCompleted
	task.Progress = 100

	require.NoError(t, sink.Publish(context.Background(), eventFromTask(EventTaskCompleted, task)))

	select {
	case msg := <-sub.Channel():
		var event Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, EventTaskCompleted, event.Type)
		assert.Equal(t, task.ID, event.TaskID)
		assert.Equal(t, 100, event.Progress)
	case <-time.After(time.Second):
		t.Fatal("expected a published event")
	}
}
