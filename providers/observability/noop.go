package observability

import "context"

// noop is the shared no-op provider instance.
var noop Provider = NoopProvider{}

// NoopProvider discards all spans and log records. It is the default when no
// provider is attached to the context.
type NoopProvider struct{}

// Compile-time check that NoopProvider implements Provider.
var _ Provider = NoopProvider{}

func (NoopProvider) StartSpan(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (NoopProvider) Debug(context.Context, string, ...Attribute) {}

func (NoopProvider) Info(context.Context, string, ...Attribute) {}

func (NoopProvider) Warn(context.Context, string, ...Attribute) {}

func (NoopProvider) Error(context.Context, string, ...Attribute) {}

// noopSpan is the span returned by NoopProvider.
type noopSpan struct{}

func (noopSpan) End() {}

func (noopSpan) AddEvent(string, ...Attribute) {}

func (noopSpan) RecordError(error) {}
