// Package generation executes generative jobs pulled off the work queue.
// The simulated provider stands in for the external model backends the
// gateway fans out to; it exercises the full lifecycle (progress reporting,
// cooperative cancellation, retryable and permanent failure) without
// coupling the coordination layer to any specific provider API.
package generation
