package generation_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch-api/internal/generation"
	"github.com/phrazzld/dispatch-api/internal/queue"
)

func newFastExecutor(t *testing.T) *generation.SimulatedExecutor {
	t.Helper()

	config := generation.Config{
		StepDuration:    time.Millisecond,
		DefaultSteps:    4,
		ArtifactBaseURL: "https://artifacts.test",
	}
	return generation.NewSimulatedExecutor(config, slog.Default())
}

func queueItem(payload string) *queue.Item {
	return &queue.Item{
		TaskID:  uuid.New(),
		Payload: json.RawMessage(payload),
	}
}

// progressRecorder is a thread-safe task.ProgressFunc capture.
type progressRecorder struct {
	mu       sync.Mutex
	progress []int
	messages []string
	err      error
}

func (r *progressRecorder) report(_ context.Context, progress int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progress)
	r.messages = append(r.messages, message)
	return r.err
}

func TestExecuteReportsProgressAndCompletes(t *testing.T) {
	t.Parallel()

	e := newFastExecutor(t)
	item := queueItem(`{"task_type":"image_generation","prompt":"a red barn"}`)
	rec := &progressRecorder{}

	raw, err := e.Execute(context.Background(), item, rec.report)
	require.NoError(t, err)

	var result generation.Result
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Contains(t, result.ArtifactURL, item.TaskID.String())
	assert.Equal(t, "sdxl-turbo", result.Model)
	assert.Equal(t, "a red barn", result.Prompt)

	assert.Equal(t, []int{25, 50, 75, 100}, rec.progress)
	assert.Equal(t, "step 4 of 4", rec.messages[len(rec.messages)-1])
}

func TestExecuteUsesExplicitModelAndSteps(t *testing.T) {
	t.Parallel()

	e := newFastExecutor(t)
	item := queueItem(`{"task_type":"video_generation","prompt":"waves","model":"custom-v1","steps":2}`)
	rec := &progressRecorder{}

	raw, err := e.Execute(context.Background(), item, rec.report)
	require.NoError(t, err)

	var result generation.Result
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "custom-v1", result.Model)
	assert.Equal(t, []int{50, 100}, rec.progress)
}

func TestExecuteRejectsBadPayloads(t *testing.T) {
	t.Parallel()

	e := newFastExecutor(t)
	rec := &progressRecorder{}

	testCases := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"empty payload", ``, generation.ErrInvalidPayload},
		{"malformed json", `{"task_type":`, generation.ErrInvalidPayload},
		{"missing prompt", `{"task_type":"image_generation"}`, generation.ErrInvalidPayload},
		{"unknown task type", `{"task_type":"text_generation","prompt":"hi"}`, generation.ErrUnsupportedTaskType},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := e.Execute(context.Background(), queueItem(tc.payload), rec.report)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestExecuteFailsAtConfiguredStep(t *testing.T) {
	t.Parallel()

	e := newFastExecutor(t)
	item := queueItem(`{"task_type":"audio_generation","prompt":"rain","fail_at":2}`)
	rec := &progressRecorder{}

	_, err := e.Execute(context.Background(), item, rec.report)
	require.ErrorIs(t, err, generation.ErrTransientFailure)

	// Only the steps before the failure reported progress.
	assert.Equal(t, []int{25}, rec.progress)
}

func TestExecuteStopsOnContextCancellation(t *testing.T) {
	t.Parallel()

	e := generation.NewSimulatedExecutor(generation.Config{
		StepDuration: 50 * time.Millisecond,
		DefaultSteps: 100,
	}, slog.Default())
	item := queueItem(`{"task_type":"image_generation","prompt":"slow render"}`)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &progressRecorder{}

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, item, rec.report)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after cancellation")
	}
}

func TestExecuteStopsWhenProgressReportFails(t *testing.T) {
	t.Parallel()

	e := newFastExecutor(t)
	item := queueItem(`{"task_type":"image_generation","prompt":"a red barn"}`)
	rec := &progressRecorder{err: context.Canceled}

	_, err := e.Execute(context.Background(), item, rec.report)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.progress, 1)
}
