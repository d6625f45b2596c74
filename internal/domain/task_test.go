package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch-api/internal/domain"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	t.Run("creates pending task with zero progress", func(t *testing.T) {
		t.Parallel()

		task, err := domain.NewTask(domain.TaskTypeImageGeneration, 42, json.RawMessage(`{"model":"sdxl"}`))
		require.NoError(t, err)

		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", task.ID.String())
		assert.Equal(t, domain.TaskStatePending, task.State)
		assert.Equal(t, 0, task.Progress)
		assert.Equal(t, int64(42), task.TenantID)
		assert.Nil(t, task.CompletedAt)
		assert.False(t, task.IsTerminal())
	})

	t.Run("rejects empty type", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTask("", 42, nil)
		assert.ErrorIs(t, err, domain.ErrEmptyTaskType)
	})
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	task, err := domain.NewTask(domain.TaskTypeVideoGeneration, 1, nil)
	require.NoError(t, err)

	task.Progress = 101
	assert.ErrorIs(t, task.Validate(), domain.ErrInvalidProgress)

	task.Progress = 50
	task.State = "sleeping"
	assert.ErrorIs(t, task.Validate(), domain.ErrInvalidTaskState)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		from    domain.TaskState
		to      domain.TaskState
		allowed bool
	}{
		{"pending to processing", domain.TaskStatePending, domain.TaskStateProcessing, true},
		{"pending to cancelled", domain.TaskStatePending, domain.TaskStateCancelled, true},
		{"pending to timed out", domain.TaskStatePending, domain.TaskStateTimedOut, true},
		{"pending to completed skips processing", domain.TaskStatePending, domain.TaskStateCompleted, false},
		{"processing to completed", domain.TaskStateProcessing, domain.TaskStateCompleted, true},
		{"processing to failed", domain.TaskStateProcessing, domain.TaskStateFailed, true},
		{"processing to cancelled", domain.TaskStateProcessing, domain.TaskStateCancelled, true},
		{"processing to timed out", domain.TaskStateProcessing, domain.TaskStateTimedOut, true},
		{"processing back to pending", domain.TaskStateProcessing, domain.TaskStatePending, false},
		{"processing to processing for progress updates", domain.TaskStateProcessing, domain.TaskStateProcessing, true},
		{"completed to failed", domain.TaskStateCompleted, domain.TaskStateFailed, false},
		{"failed to cancelled", domain.TaskStateFailed, domain.TaskStateCancelled, false},
		{"same terminal is idempotent", domain.TaskStateCompleted, domain.TaskStateCompleted, true},
		{"cancelled to cancelled is idempotent", domain.TaskStateCancelled, domain.TaskStateCancelled, true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.allowed, domain.CanTransition(tc.from, tc.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []domain.TaskState{
		domain.TaskStateCompleted,
		domain.TaskStateFailed,
		domain.TaskStateCancelled,
		domain.TaskStateTimedOut,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "state %s should be terminal", s)
	}

	assert.False(t, domain.TaskStatePending.IsTerminal())
	assert.False(t, domain.TaskStateProcessing.IsTerminal())
}

func TestPredecessors(t *testing.T) {
	t.Parallel()

	from := domain.Predecessors(domain.TaskStateCompleted)
	assert.ElementsMatch(t, []domain.TaskState{domain.TaskStateProcessing}, from)

	from = domain.Predecessors(domain.TaskStateCancelled)
	assert.ElementsMatch(t,
		[]domain.TaskState{domain.TaskStatePending, domain.TaskStateProcessing}, from)
}
