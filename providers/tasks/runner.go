package tasks

import "context"

// Task names the execution core dispatches.
const (
	TaskTextPassthrough        = "text-passthrough"
	TaskUploadImagePassthrough = "upload-image-passthrough"
	TaskUploadVideoPassthrough = "upload-video-passthrough"
	TaskLLMExecute             = "llm-execute"
	TaskCropImage              = "crop-image"
	TaskExtractFrame           = "extract-frame"
	TaskGenerateImage          = "generate-image"
)

// Runner submits tasks to a remote trigger service and polls their status.
// Implementations must be safe for concurrent use; the orchestrator dispatches
// whole levels of nodes at once.
type Runner interface {
	// Submit starts a task and returns the remote run handle.
	Submit(ctx context.Context, taskName string, payload map[string]any) (string, error)

	// Poll reports the current state of a submitted task.
	Poll(ctx context.Context, handleID string) (PollResult, error)
}

// PollResult is one observation of a remote task run.
type PollResult struct {
	// Terminal reports whether the run reached a final state.
	Terminal bool

	// Success reports whether the final state is a success. Only meaningful
	// when Terminal is true.
	Success bool

	// Status is the remote state name as reported by the trigger service.
	Status string

	// Output is the task's result payload, present on success.
	Output map[string]any

	// ErrorMessage carries the remote failure description, if any.
	ErrorMessage string
}
