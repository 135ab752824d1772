package types

import "context"

type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID stores the trace id in the context. Loops mint one per tick so
// outbound calls and log lines of the same pass correlate.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// GetTraceID retrieves the trace id from the context, or "" when unset.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
