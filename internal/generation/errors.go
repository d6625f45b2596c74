package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when a job fails for a general reason
	ErrGenerationFailed = errors.New("failed to generate requested content")

	// ErrInvalidPayload is returned when a queue item's payload cannot be
	// parsed into generation parameters
	ErrInvalidPayload = errors.New("invalid generation payload")

	// ErrUnsupportedTaskType is returned when the payload names a task type
	// this executor does not handle
	ErrUnsupportedTaskType = errors.New("unsupported generation task type")

	// ErrTransientFailure is returned for temporary errors that might
	// resolve on retry
	ErrTransientFailure = errors.New("transient error during generation")
)
