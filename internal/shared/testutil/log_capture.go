package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogRecord is one captured log entry with its attributes flattened,
// including those added through Logger.With.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logSink struct {
	mu      sync.Mutex
	records []LogRecord
}

// LogCapture is a slog.Handler that records entries for assertions. Handlers
// derived through WithAttrs share the same sink.
type LogCapture struct {
	sink  *logSink
	attrs []slog.Attr
}

// NewTestLogger returns a logger that records into the returned capture.
func NewTestLogger() (*slog.Logger, *LogCapture) {
	capture := &LogCapture{sink: &logSink{}}
	return slog.New(capture), capture
}

// Enabled implements slog.Handler; every level is captured.
func (c *LogCapture) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler.
func (c *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(c.attrs)+r.NumAttrs())
	for _, a := range c.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	c.sink.mu.Lock()
	c.sink.records = append(c.sink.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	c.sink.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler.
func (c *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)
	return &LogCapture{sink: c.sink, attrs: merged}
}

// WithGroup implements slog.Handler. Groups are not modelled.
func (c *LogCapture) WithGroup(string) slog.Handler { return c }

// Records returns a copy of everything captured so far.
func (c *LogCapture) Records() []LogRecord {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	out := make([]LogRecord, len(c.sink.records))
	copy(out, c.sink.records)
	return out
}

// Find returns the first record at level whose message contains message.
func (c *LogCapture) Find(level slog.Level, message string) (LogRecord, bool) {
	for _, r := range c.Records() {
		if r.Level == level && strings.Contains(r.Message, message) {
			return r, true
		}
	}
	return LogRecord{}, false
}

// AssertLogged fails t unless a record at level contains message, and
// returns that record.
func (c *LogCapture) AssertLogged(t testing.TB, level slog.Level, message string) LogRecord {
	t.Helper()
	r, ok := c.Find(level, message)
	if !ok {
		t.Errorf("no %s log containing %q; captured: %v", level, message, c.Records())
	}
	return r
}

// AssertNoErrors fails t if any error-level record was captured.
func (c *LogCapture) AssertNoErrors(t testing.TB) {
	t.Helper()
	for _, r := range c.Records() {
		if r.Level >= slog.LevelError {
			t.Errorf("unexpected error log: %s %v", r.Message, r.Attrs)
		}
	}
}
