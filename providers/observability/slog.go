package observability

import (
	"context"
	"log/slog"
	"time"
)

// SlogProvider implements Provider on top of log/slog. Spans are rendered as
// paired start/end debug records with a duration attribute; events and errors
// become structured log lines. This is the provider the server wires by
// default.
type SlogProvider struct {
	logger *slog.Logger
}

// Compile-time check that SlogProvider implements Provider.
var _ Provider = (*SlogProvider)(nil)

// NewSlogProvider creates a provider around the given slog logger. A nil
// logger falls back to slog.Default().
func NewSlogProvider(logger *slog.Logger) *SlogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogProvider{logger: logger}
}

// StartSpan logs the span start at debug level and returns a span that logs
// its end with the elapsed duration.
func (provider *SlogProvider) StartSpan(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	provider.logger.DebugContext(ctx, name+".start", slogArgs(attrs)...)
	return ctx, &slogSpan{
		ctx:      ctx,
		name:     name,
		start:    time.Now(),
		provider: provider,
	}
}

func (provider *SlogProvider) Debug(ctx context.Context, msg string, attrs ...Attribute) {
	provider.logger.DebugContext(ctx, msg, slogArgs(attrs)...)
}

func (provider *SlogProvider) Info(ctx context.Context, msg string, attrs ...Attribute) {
	provider.logger.InfoContext(ctx, msg, slogArgs(attrs)...)
}

func (provider *SlogProvider) Warn(ctx context.Context, msg string, attrs ...Attribute) {
	provider.logger.WarnContext(ctx, msg, slogArgs(attrs)...)
}

func (provider *SlogProvider) Error(ctx context.Context, msg string, attrs ...Attribute) {
	provider.logger.ErrorContext(ctx, msg, slogArgs(attrs)...)
}

// slogSpan is the Span implementation backed by paired log records.
type slogSpan struct {
	ctx      context.Context
	name     string
	start    time.Time
	provider *SlogProvider
}

func (span *slogSpan) End() {
	span.provider.logger.DebugContext(span.ctx, span.name+".end",
		slog.Duration("duration", time.Since(span.start)))
}

func (span *slogSpan) AddEvent(name string, attrs ...Attribute) {
	span.provider.logger.DebugContext(span.ctx, span.name+"."+name, slogArgs(attrs)...)
}

func (span *slogSpan) RecordError(err error) {
	span.provider.logger.ErrorContext(span.ctx, span.name+".error",
		slog.String("error", err.Error()))
}

// slogArgs converts attributes to alternating key/value slog arguments.
func slogArgs(attrs []Attribute) []any {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return args
}
