package types

import "context"

type executionContextKey string

// ExecutionContextKey carries per-execution metadata (run id, job id,
// attempt) into action services.
var ExecutionContextKey = executionContextKey("execution-context")

// EnsureExecutionContext returns a context whose execution metadata map
// contains the supplied key/value pairs, creating the map when absent.
func EnsureExecutionContext(ctx context.Context, pairs ...string) context.Context {
	v := ctx.Value(ExecutionContextKey)
	if v == nil {
		ctx = context.WithValue(ctx, ExecutionContextKey, map[string]any{})
	}
	values := ctx.Value(ExecutionContextKey).(map[string]any)
	for i := 0; i+1 < len(pairs); i += 2 {
		values[pairs[i]] = pairs[i+1]
	}
	return ctx
}

// ExecutionContextValue reads one metadata entry set via
// EnsureExecutionContext; it returns an empty string when absent.
func ExecutionContextValue(ctx context.Context, key string) string {
	v := ctx.Value(ExecutionContextKey)
	if v == nil {
		return ""
	}
	values, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if text, ok := values[key].(string); ok {
		return text
	}
	return ""
}
