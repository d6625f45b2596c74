package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/queue"
	"github.com/phrazzld/dispatch-api/internal/task"
)

// Params is the payload carried through the queue for a generation job.
type Params struct {
	// TaskType selects the generation pipeline (image, video, audio).
	TaskType string `json:"task_type" validate:"required,oneof=image_generation video_generation audio_generation"`

	// Prompt is the generation instruction.
	Prompt string `json:"prompt" validate:"required,min=1,max=4096"`

	// Model optionally names the backend model; defaults per task type.
	Model string `json:"model,omitempty" validate:"omitempty,max=128"`

	// Steps is how many progress increments the job reports. Zero selects
	// the executor default.
	Steps int `json:"steps,omitempty" validate:"omitempty,min=1,max=100"`

	// FailAt, when positive, makes the simulated job fail at that step.
	// Exists so end-to-end runs can exercise the retry path.
	FailAt int `json:"fail_at,omitempty" validate:"omitempty,min=1"`
}

// Result is the terminal payload of a successful generation job.
type Result struct {
	ArtifactURL string `json:"artifact_url"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	ElapsedMs   int64  `json:"elapsed_ms"`
}

// Config tunes the simulated executor.
type Config struct {
	// StepDuration is how long each progress step takes.
	StepDuration time.Duration

	// DefaultSteps is used when the payload does not specify a step count.
	DefaultSteps int

	// ArtifactBaseURL prefixes the artifact URLs in results.
	ArtifactBaseURL string
}

// DefaultConfig returns executor settings suitable for local runs.
func DefaultConfig() Config {
	return Config{
		StepDuration:    500 * time.Millisecond,
		DefaultSteps:    10,
		ArtifactBaseURL: "https://artifacts.dispatch.local",
	}
}

// defaultModels maps task types to the model used when the payload names none.
var defaultModels = map[string]string{
	domain.TaskTypeImageGeneration: "sdxl-turbo",
	domain.TaskTypeVideoGeneration: "wan-2.1",
	domain.TaskTypeAudioGeneration: "bark-small",
}

// SimulatedExecutor implements task.Executor with a deterministic, stepwise
// fake of a model backend. Each step sleeps, checks for cancellation and
// reports progress through the supplied callback.
type SimulatedExecutor struct {
	config   Config
	validate *validator.Validate
	logger   *slog.Logger
}

var _ task.Executor = (*SimulatedExecutor)(nil)

// NewSimulatedExecutor creates a SimulatedExecutor.
func NewSimulatedExecutor(config Config, logger *slog.Logger) *SimulatedExecutor {
	if config.StepDuration <= 0 {
		config.StepDuration = DefaultConfig().StepDuration
	}
	if config.DefaultSteps <= 0 {
		config.DefaultSteps = DefaultConfig().DefaultSteps
	}
	if config.ArtifactBaseURL == "" {
		config.ArtifactBaseURL = DefaultConfig().ArtifactBaseURL
	}

	return &SimulatedExecutor{
		config:   config,
		validate: validator.New(),
		logger:   logger.With("component", "simulated_executor"),
	}
}

// Execute runs one generation job to completion, failure or cancellation.
func (e *SimulatedExecutor) Execute(
	ctx context.Context,
	item *queue.Item,
	report task.ProgressFunc,
) (json.RawMessage, error) {
	params, err := e.parseParams(item.Payload)
	if err != nil {
		return nil, err
	}

	model := params.Model
	if model == "" {
		model = defaultModels[params.TaskType]
	}

	steps := params.Steps
	if steps == 0 {
		steps = e.config.DefaultSteps
	}

	log := e.logger.With("task_id", item.TaskID, "task_type", params.TaskType, "model", model)
	log.Info("generation started", "steps", steps)

	start := time.Now()
	for step := 1; step <= steps; step++ {
		select {
		case <-ctx.Done():
			log.Info("generation cancelled", "step", step)
			return nil, ctx.Err()
		case <-time.After(e.config.StepDuration):
		}

		if params.FailAt > 0 && step >= params.FailAt {
			log.Warn("generation failed", "step", step)
			return nil, fmt.Errorf("%w: backend rejected step %d", ErrTransientFailure, step)
		}

		progress := step * 100 / steps
		message := fmt.Sprintf("step %d of %d", step, steps)
		if err := report(ctx, progress, message); err != nil {
			log.Info("generation aborted at progress checkpoint", "step", step, "error", err)
			return nil, err
		}
	}

	result := Result{
		ArtifactURL: fmt.Sprintf("%s/%s/%s", e.config.ArtifactBaseURL, params.TaskType, item.TaskID),
		Model:       model,
		Prompt:      params.Prompt,
		ElapsedMs:   time.Since(start).Milliseconds(),
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	log.Info("generation completed", "elapsed_ms", result.ElapsedMs)
	return payload, nil
}

// parseParams decodes and validates a queue payload.
func (e *SimulatedExecutor) parseParams(payload json.RawMessage) (*Params, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	var params Params
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := e.validate.Struct(&params); err != nil {
		if params.TaskType != "" && defaultModels[params.TaskType] == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedTaskType, params.TaskType)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return &params, nil
}
