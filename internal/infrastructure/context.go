package infrastructure

import (
	"context"

	"github.com/google/uuid"
)

// NewTraceID returns a random id used both as request id and as trace id
// when no span is active.
func NewTraceID() string {
	return uuid.NewString()
}

// EnsureTraceID returns ctx unchanged when it already carries a trace id and
// otherwise attaches a fresh one. Commands call it once per run so every log
// line of a single license check correlates.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}
