package observability

import "context"

// providerContextKey is the private context key for the active Provider.
type providerContextKey struct{}

// WithProvider returns a context carrying the given provider.
func WithProvider(ctx context.Context, provider Provider) context.Context {
	return context.WithValue(ctx, providerContextKey{}, provider)
}

// FromContext resolves the active provider, falling back to the no-op
// provider when none was attached. The result is never nil.
func FromContext(ctx context.Context) Provider {
	if provider, ok := ctx.Value(providerContextKey{}).(Provider); ok && provider != nil {
		return provider
	}
	return noop
}
