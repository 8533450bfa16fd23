package license

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// logAction logs a checker action with trace correlation and mirrors it as a span event.
func (c *Checker) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license."+action, trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		))
	}

	allAttrs := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	if traceID := traceIDFromContext(ctx); traceID != "" {
		allAttrs = append(allAttrs, slog.String("trace_id", traceID))
	}
	allAttrs = append(allAttrs, attrs...)

	c.logger.LogAttrs(ctx, level, result, allAttrs...)
}

func (c *Checker) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	c.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (c *Checker) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	c.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (c *Checker) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	c.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (c *Checker) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	c.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// traceIDFromContext extracts the OpenTelemetry trace ID, if any.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
