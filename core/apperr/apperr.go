// Package apperr defines the coded error type shared by the execution core
// and the HTTP surface. Every failure the engine can produce carries a stable
// string code and the HTTP status it maps to, so per-node failures can be
// recorded into node run rows and pre-flight failures can be rendered as
// API responses without re-classification at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure category. Codes are part of the API contract and
// are stored verbatim in node run error details.
type Code string

const (
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeNotFound                Code = "NOT_FOUND"
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeInvalidScope            Code = "INVALID_SCOPE"
	CodeMissingExportNode       Code = "MISSING_EXPORT_NODE"
	CodeInvalidDAG              Code = "INVALID_DAG"
	CodeInvalidNodeType         Code = "INVALID_NODE_TYPE"
	CodeMissingInput            Code = "MISSING_INPUT"
	CodeMissingAsset            Code = "MISSING_ASSET"
	CodeInvalidMediaType        Code = "INVALID_MEDIA_TYPE"
	CodeProviderNotConfigured   Code = "PROVIDER_NOT_CONFIGURED"
	CodeTaskTimeout             Code = "TASK_TIMEOUT"
	CodeTaskFailed              Code = "TASK_FAILED"
	CodeInvalidGenerationOutput Code = "INVALID_GENERATION_OUTPUT"
	CodeAssemblyInProgress      Code = "ASSEMBLY_IN_PROGRESS"
	CodeAssemblyTerminalFailure Code = "ASSEMBLY_TERMINAL_FAILURE"
	CodeAssemblyStatusUnknown   Code = "ASSEMBLY_STATUS_UNKNOWN"
	CodeAssemblyFetchFailed     Code = "ASSEMBLY_FETCH_FAILED"
	CodeImageResultNotImage     Code = "IMAGE_RESULT_NOT_IMAGE"
	CodeVideoResultNotVideo     Code = "VIDEO_RESULT_NOT_VIDEO"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Error is a coded error with an HTTP status and optional structured details.
// It satisfies the error interface and supports errors.Is/As via Unwrap.
type Error struct {
	// Code is the stable failure category.
	Code Code

	// Status is the HTTP status this error maps to at the API boundary.
	Status int

	// Message is a human-readable description safe to surface to callers.
	Message string

	// Details carries structured context (task name, remote run id, remote
	// status, ...) persisted into node run error details.
	Details map[string]any

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (appError *Error) Error() string {
	if appError.Err != nil {
		return fmt.Sprintf("%s: %s: %v", appError.Code, appError.Message, appError.Err)
	}
	return fmt.Sprintf("%s: %s", appError.Code, appError.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As chains.
func (appError *Error) Unwrap() error {
	return appError.Err
}

// WithDetail returns the same error with one structured detail added.
// The receiver is mutated and returned for chaining.
func (appError *Error) WithDetail(key string, value any) *Error {
	if appError.Details == nil {
		appError.Details = make(map[string]any)
	}
	appError.Details[key] = value
	return appError
}

// New constructs an Error with the given code, HTTP status and message.
func New(code Code, status int, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Status:  status,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap constructs an Error that wraps a cause.
func Wrap(err error, code Code, status int, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Status:  status,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// --- Constructors for the common failure categories ---

// Unauthorized reports a missing or invalid caller identity.
func Unauthorized(format string, args ...any) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, format, args...)
}

// NotFound reports a missing workflow, version or run.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, http.StatusNotFound, format, args...)
}

// Validation reports a malformed request or graph payload.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, http.StatusBadRequest, format, args...)
}

// InvalidScope reports an empty scoped subgraph or a malformed selection.
func InvalidScope(format string, args ...any) *Error {
	return New(CodeInvalidScope, http.StatusBadRequest, format, args...)
}

// MissingExportNode reports a FULL-scope execution without any export node.
func MissingExportNode() *Error {
	return New(CodeMissingExportNode, http.StatusBadRequest, "workflow has no export node; add an export node to run the full workflow")
}

// InvalidDAG reports a cycle in the scoped graph.
func InvalidDAG() *Error {
	return New(CodeInvalidDAG, http.StatusBadRequest, "workflow graph contains a cycle")
}

// InvalidNodeType reports an unknown node kind.
func InvalidNodeType(kind string) *Error {
	return New(CodeInvalidNodeType, http.StatusBadRequest, "unknown node type %q", kind)
}

// MissingInput reports a required input slot that is empty at execution time.
func MissingInput(slot string) *Error {
	return New(CodeMissingInput, http.StatusBadRequest, "required input %q is missing", slot)
}

// MissingAsset reports an upload node without a pre-uploaded asset URL.
func MissingAsset(kind string) *Error {
	return New(CodeMissingAsset, http.StatusBadRequest, "no uploaded asset on %s node", kind)
}

// InvalidMediaType reports an export node receiving the wrong media kind.
func InvalidMediaType(format string, args ...any) *Error {
	return New(CodeInvalidMediaType, http.StatusBadRequest, format, args...)
}

// ProviderNotConfigured reports missing durable asset store credentials.
func ProviderNotConfigured(provider string) *Error {
	return New(CodeProviderNotConfigured, http.StatusInternalServerError, "durable asset provider %q is not configured", provider)
}

// TaskTimeout reports a remote task exceeding its per-task budget.
func TaskTimeout(taskName string, budget string) *Error {
	return New(CodeTaskTimeout, http.StatusGatewayTimeout, "task %q did not complete within %s", taskName, budget).
		WithDetail("taskName", taskName)
}

// TaskFailed reports a remote task reaching a terminal non-success state.
func TaskFailed(taskName, remoteRunID, remoteStatus, remoteError string) *Error {
	appError := New(CodeTaskFailed, http.StatusBadGateway, "task %q failed with status %s", taskName, remoteStatus).
		WithDetail("taskName", taskName).
		WithDetail("remoteRunId", remoteRunID).
		WithDetail("remoteStatus", remoteStatus)
	if remoteError != "" {
		appError.WithDetail("remoteError", remoteError)
		appError.Message = fmt.Sprintf("task %q failed with status %s: %s", taskName, remoteStatus, remoteError)
	}
	return appError
}

// InvalidGenerationOutput reports an image generation task that produced no payload.
func InvalidGenerationOutput() *Error {
	return New(CodeInvalidGenerationOutput, http.StatusBadGateway, "image generation returned no output payload")
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return Wrap(err, CodeInternal, http.StatusInternalServerError, "internal error")
}

// From classifies an arbitrary error as an *Error. Coded errors pass through
// unchanged; anything else becomes an internal error.
func From(err error) *Error {
	var appError *Error
	if errors.As(err, &appError) {
		return appError
	}
	return Internal(err)
}
