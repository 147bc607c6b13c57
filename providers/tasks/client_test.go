package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/frameloom/frameloom/core/apperr"
)

// scriptedRunner replays a fixed sequence of poll results.
type scriptedRunner struct {
	handleID    string
	submitErr   error
	pollResults []PollResult
	pollErrs    []error
	pollCount   int
}

func (runner *scriptedRunner) Submit(ctx context.Context, taskName string, payload map[string]any) (string, error) {
	if runner.submitErr != nil {
		return "", runner.submitErr
	}
	return runner.handleID, nil
}

func (runner *scriptedRunner) Poll(ctx context.Context, handleID string) (PollResult, error) {
	index := runner.pollCount
	runner.pollCount++

	if index < len(runner.pollErrs) && runner.pollErrs[index] != nil {
		return PollResult{}, runner.pollErrs[index]
	}
	if index >= len(runner.pollResults) {
		return runner.pollResults[len(runner.pollResults)-1], nil
	}
	return runner.pollResults[index], nil
}

func TestTriggerAndPollSuccessAfterIntermediatePolls(t *testing.T) {
	runner := &scriptedRunner{
		handleID: "run-42",
		pollResults: []PollResult{
			{Terminal: false, Status: "EXECUTING"},
			{Terminal: false, Status: "EXECUTING"},
			{Terminal: true, Success: true, Status: "COMPLETED", Output: map[string]any{"text": "done"}},
		},
	}
	client := NewClient(runner, WithPollInterval(time.Millisecond), WithTaskTimeout(time.Second))

	result, err := client.TriggerAndPoll(context.Background(), TaskLLMExecute, map[string]any{"userMessage": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RemoteRunID != "run-42" {
		t.Errorf("expected remote run id run-42, got %q", result.RemoteRunID)
	}
	if result.Output["text"] != "done" {
		t.Errorf("expected output text done, got %v", result.Output)
	}
	if runner.pollCount != 3 {
		t.Errorf("expected 3 polls, got %d", runner.pollCount)
	}
}

func TestTriggerAndPollTerminalFailure(t *testing.T) {
	runner := &scriptedRunner{
		handleID: "run-7",
		pollResults: []PollResult{
			{Terminal: true, Success: false, Status: "FAILED", ErrorMessage: "model refused"},
		},
	}
	client := NewClient(runner, WithPollInterval(time.Millisecond), WithTaskTimeout(time.Second))

	_, err := client.TriggerAndPoll(context.Background(), TaskGenerateImage, nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	var appError *apperr.Error
	if !errors.As(err, &appError) {
		t.Fatalf("expected a coded error, got %T", err)
	}
	if appError.Code != apperr.CodeTaskFailed {
		t.Errorf("expected TASK_FAILED, got %s", appError.Code)
	}
	if appError.Status != 502 {
		t.Errorf("expected status 502, got %d", appError.Status)
	}
	if appError.Details["remoteRunId"] != "run-7" {
		t.Errorf("expected remote run id detail, got %v", appError.Details)
	}
	if appError.Details["remoteStatus"] != "FAILED" {
		t.Errorf("expected remote status detail, got %v", appError.Details)
	}
}

func TestTriggerAndPollTimeout(t *testing.T) {
	runner := &scriptedRunner{
		handleID: "run-slow",
		pollResults: []PollResult{
			{Terminal: false, Status: "EXECUTING"},
		},
	}
	client := NewClient(runner, WithPollInterval(time.Millisecond), WithTaskTimeout(20*time.Millisecond))

	_, err := client.TriggerAndPoll(context.Background(), TaskCropImage, nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}

	var appError *apperr.Error
	if !errors.As(err, &appError) {
		t.Fatalf("expected a coded error, got %T", err)
	}
	if appError.Code != apperr.CodeTaskTimeout {
		t.Errorf("expected TASK_TIMEOUT, got %s", appError.Code)
	}
	if appError.Status != 504 {
		t.Errorf("expected status 504, got %d", appError.Status)
	}
}

func TestTriggerAndPollAbsorbsTransientPollErrors(t *testing.T) {
	runner := &scriptedRunner{
		handleID: "run-flaky",
		pollErrs: []error{errors.New("connection reset")},
		pollResults: []PollResult{
			{},
			{Terminal: true, Success: true, Status: "COMPLETED", Output: map[string]any{"ok": true}},
		},
	}
	client := NewClient(runner, WithPollInterval(time.Millisecond), WithTaskTimeout(time.Second))

	result, err := client.TriggerAndPoll(context.Background(), TaskExtractFrame, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["ok"] != true {
		t.Errorf("expected completed output, got %v", result.Output)
	}
}

func TestTriggerAndPollPropagatesCancellation(t *testing.T) {
	runner := &scriptedRunner{
		handleID: "run-canceled",
		pollResults: []PollResult{
			{Terminal: false, Status: "EXECUTING"},
		},
	}
	client := NewClient(runner, WithPollInterval(time.Millisecond), WithTaskTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := client.TriggerAndPoll(ctx, TaskLLMExecute, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
