package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/notify"
)

// Common request/response structures

// TokenRequest defines the payload for the token issuing endpoint.
type TokenRequest struct {
	TenantID int64  `json:"tenant_id" validate:"required,gt=0"`
	APIKey   string `json:"api_key"   validate:"required,min=1"`
}

// TokenResponse defines the successful response for the token endpoint.
type TokenResponse struct {
	// AccessToken is the JWT token used for API authorization
	AccessToken string `json:"access_token"`
}

// CreateGenerationRequest defines the payload for submitting a generation task.
type CreateGenerationRequest struct {
	Type   string `json:"type"   validate:"required,oneof=image_generation video_generation audio_generation"`
	Prompt string `json:"prompt" validate:"required,min=1,max=4096"`
	Model  string `json:"model,omitempty" validate:"omitempty,max=128"`
	Steps  int    `json:"steps,omitempty" validate:"omitempty,min=1,max=100"`

	// Metadata is an opaque document stored on the task record.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// TaskResponse is the API view of a task record.
type TaskResponse struct {
	ID              uuid.UUID       `json:"id"`
	Type            string          `json:"type"`
	State           string          `json:"state"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// newTaskResponse converts a domain task to its API representation.
func newTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:              task.ID,
		Type:            task.Type,
		State:           string(task.State),
		Progress:        task.Progress,
		ProgressMessage: task.ProgressMessage,
		Result:          task.Result,
		ErrorMessage:    task.ErrorMessage,
		Metadata:        task.Metadata,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
		CompletedAt:     task.CompletedAt,
	}
}

// QueueStatsResponse reports the queue's observable load.
type QueueStatsResponse struct {
	// PendingTasks counts unclaimed items eligible for dequeue now.
	PendingTasks int64 `json:"pending_tasks"`

	// ActiveTasks counts items with a live claim.
	ActiveTasks int64 `json:"active_tasks"`
}

// NotificationHealthResponse reports the push channel's health.
type NotificationHealthResponse struct {
	notify.HealthStatus
}
