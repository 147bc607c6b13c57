package tasks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/frameloom/frameloom/core/parse"
	"github.com/frameloom/frameloom/internal/utils"
)

// HTTPRunner talks to the trigger service's REST API: POST to start a task,
// GET to read a run's status.
type HTTPRunner struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check that HTTPRunner implements Runner.
var _ Runner = (*HTTPRunner)(nil)

// NewHTTPRunner creates a runner against the trigger service at baseURL.
// A nil client falls back to http.DefaultClient.
func NewHTTPRunner(baseURL, apiKey string, client *http.Client) *HTTPRunner {
	return &HTTPRunner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
	}
}

// triggerResponse is the trigger service's submit reply.
type triggerResponse struct {
	RunID string `json:"runId"`
	ID    string `json:"id"`
}

// statusResponse is the trigger service's run status reply. Output arrives as
// either a JSON object or a JSON-encoded string, depending on the worker.
type statusResponse struct {
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  string `json:"error"`
}

// terminalStatuses maps remote state names to their success flag.
var terminalStatuses = map[string]bool{
	"COMPLETED": true,
	"SUCCESS":   true,
	"FAILED":    false,
	"CANCELED":  false,
	"CRASHED":   false,
	"TIMED_OUT": false,
	"EXPIRED":   false,
}

func (runner *HTTPRunner) Submit(ctx context.Context, taskName string, payload map[string]any) (string, error) {
	submitURL := fmt.Sprintf("%s/tasks/%s/trigger", runner.baseURL, taskName)

	_, submitted, err := utils.DoPostJSON[triggerResponse](ctx, runner.httpClient, submitURL, runner.apiKey, payload)
	if err != nil {
		return "", fmt.Errorf("trigger %s: %w", taskName, err)
	}

	remoteRunID := submitted.RunID
	if remoteRunID == "" {
		remoteRunID = submitted.ID
	}
	if remoteRunID == "" {
		return "", fmt.Errorf("trigger %s: response carries no run id", taskName)
	}
	return remoteRunID, nil
}

func (runner *HTTPRunner) Poll(ctx context.Context, handleID string) (PollResult, error) {
	statusURL := fmt.Sprintf("%s/runs/%s/status", runner.baseURL, handleID)

	_, status, err := utils.DoGetJSON[statusResponse](ctx, runner.httpClient, statusURL, runner.apiKey)
	if err != nil {
		return PollResult{}, fmt.Errorf("poll run %s: %w", handleID, err)
	}

	success, terminal := terminalStatuses[strings.ToUpper(status.Status)]
	return PollResult{
		Terminal:     terminal,
		Success:      success,
		Status:       status.Status,
		Output:       decodeOutput(status.Output),
		ErrorMessage: status.Error,
	}, nil
}

// decodeOutput normalizes the status payload's output field. Workers that
// return strings get a tolerant JSON decode; undecodable strings are wrapped
// under a "text" key so nothing is silently dropped.
func decodeOutput(rawOutput any) map[string]any {
	switch typed := rawOutput.(type) {
	case map[string]any:
		return typed
	case string:
		if typed == "" {
			return nil
		}
		if decoded, err := parse.DecodeObject(typed); err == nil {
			return decoded
		}
		return map[string]any{"text": typed}
	default:
		return nil
	}
}
