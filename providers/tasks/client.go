package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/providers/observability"
)

// Defaults for the trigger-and-poll loop.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultTaskTimeout  = 120 * time.Second
)

// Client drives a Runner through the full trigger-and-poll cycle with a
// per-task deadline.
type Client struct {
	runner       Runner
	pollInterval time.Duration
	taskTimeout  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPollInterval overrides the fixed interval between status polls.
func WithPollInterval(interval time.Duration) ClientOption {
	return func(client *Client) {
		if interval > 0 {
			client.pollInterval = interval
		}
	}
}

// WithTaskTimeout overrides the per-task budget bounding the whole
// trigger-and-poll call.
func WithTaskTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout > 0 {
			client.taskTimeout = timeout
		}
	}
}

// NewClient creates a Client around the given runner.
func NewClient(runner Runner, options ...ClientOption) *Client {
	client := &Client{
		runner:       runner,
		pollInterval: DefaultPollInterval,
		taskTimeout:  DefaultTaskTimeout,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// TriggerResult is the outcome of a completed remote task.
type TriggerResult struct {
	// RemoteRunID is the handle the trigger service assigned to the run.
	RemoteRunID string

	// Output is the task's result payload.
	Output map[string]any
}

// TriggerAndPoll submits the task and polls it at a fixed interval until a
// terminal state, bounded by the per-task budget. Exceeding the budget yields
// a TASK_TIMEOUT error; a terminal non-success state yields TASK_FAILED with
// the remote run id and status attached.
func (client *Client) TriggerAndPoll(ctx context.Context, taskName string, payload map[string]any) (*TriggerResult, error) {
	observer := observability.FromContext(ctx)

	taskCtx, cancel := context.WithTimeout(ctx, client.taskTimeout)
	defer cancel()

	dispatchStart := time.Now()
	remoteRunID, err := client.runner.Submit(taskCtx, taskName, payload)
	if err != nil {
		if deadlineExceeded(taskCtx, err) {
			return nil, apperr.TaskTimeout(taskName, client.taskTimeout.String())
		}
		return nil, apperr.Wrap(err, apperr.CodeTaskFailed, 502, "failed to submit task %q", taskName)
	}

	observer.Debug(ctx, "task.submitted",
		observability.String("task", taskName),
		observability.String("remoteRunId", remoteRunID),
	)

	ticker := time.NewTicker(client.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-taskCtx.Done():
			if errors.Is(taskCtx.Err(), context.Canceled) {
				return nil, taskCtx.Err()
			}
			observer.Warn(ctx, "task.timeout",
				observability.String("task", taskName),
				observability.String("remoteRunId", remoteRunID),
				observability.Duration("elapsed", time.Since(dispatchStart)),
			)
			return nil, apperr.TaskTimeout(taskName, client.taskTimeout.String()).
				WithDetail("remoteRunId", remoteRunID)
		case <-ticker.C:
		}

		pollResult, err := client.runner.Poll(taskCtx, remoteRunID)
		if err != nil {
			if deadlineExceeded(taskCtx, err) {
				return nil, apperr.TaskTimeout(taskName, client.taskTimeout.String()).
					WithDetail("remoteRunId", remoteRunID)
			}
			// Transient poll failures are absorbed; the budget bounds the loop.
			observer.Debug(ctx, "task.poll.error",
				observability.String("task", taskName),
				observability.String("remoteRunId", remoteRunID),
				observability.Error(err),
			)
			continue
		}

		if !pollResult.Terminal {
			continue
		}

		if !pollResult.Success {
			return nil, apperr.TaskFailed(taskName, remoteRunID, pollResult.Status, pollResult.ErrorMessage)
		}

		observer.Debug(ctx, "task.completed",
			observability.String("task", taskName),
			observability.String("remoteRunId", remoteRunID),
			observability.Duration("duration", time.Since(dispatchStart)),
		)
		return &TriggerResult{RemoteRunID: remoteRunID, Output: pollResult.Output}, nil
	}
}

// deadlineExceeded reports whether err reflects the task context expiring.
func deadlineExceeded(taskCtx context.Context, err error) bool {
	return errors.Is(taskCtx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}
