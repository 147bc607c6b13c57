// Package observability defines the logging and tracing interface the
// execution core emits through, with a slog-backed implementation for
// services and a no-op default so library consumers pay nothing unless they
// opt in. The active provider travels on the context; every layer of the
// engine (orchestrator, task client, asset persister, HTTP API) resolves it
// with FromContext.
package observability

import (
	"context"
	"time"
)

// Provider is the combined logging and tracing interface.
type Provider interface {
	Tracer
	Logger
}

// Tracer starts spans around units of work (a run, a level, a node, a remote
// task round-trip).
type Tracer interface {
	// StartSpan starts a span and returns a context carrying it.
	StartSpan(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Span represents a single traced unit of work.
type Span interface {
	// End completes the span.
	End()
	// AddEvent records a point-in-time event on the span.
	AddEvent(name string, attrs ...Attribute)
	// RecordError records an error on the span.
	RecordError(err error)
}

// Logger provides structured leveled logging.
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...Attribute)
	Info(ctx context.Context, msg string, attrs ...Attribute)
	Warn(ctx context.Context, msg string, attrs ...Attribute)
	Error(ctx context.Context, msg string, attrs ...Attribute)
}

// Attribute is a key-value pair attached to log records and spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int creates an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value}
}

// Error creates an error attribute under the conventional "error" key.
func Error(err error) Attribute {
	return Attribute{Key: "error", Value: err.Error()}
}
