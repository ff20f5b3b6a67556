package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// CallerKey is the context key for the caller name (for X-Caller header)
	CallerKey contextKey = "caller"
)

// WithCaller adds a caller name to the context.
// It overrides the configured caller for requests made with ctx.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

// GetCaller retrieves the caller name from context
func GetCaller(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(CallerKey).(string)
	return caller, ok && caller != ""
}
