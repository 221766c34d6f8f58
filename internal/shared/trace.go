package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type botKey struct{}
type taskKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithBotID attaches the owning bot id to the context, for log correlation
// and for scoping decrypted provider credentials to the current call stack.
func WithBotID(ctx context.Context, botID string) context.Context {
	return context.WithValue(ctx, botKey{}, botID)
}

// BotID extracts the bot id from context. Returns "-" if absent.
func BotID(ctx context.Context) string {
	if v, ok := ctx.Value(botKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// WithTaskID attaches the current task id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey{}, taskID)
}

// TaskID extracts the task id from context. Returns "-" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}
