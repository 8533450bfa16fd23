package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"licensecheck/internal/config"
)

// process-wide logger installed by InitializeLogger
var logging struct {
	once   sync.Once
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

type traceIDKey struct{}

// InitializeLogger builds the process logger from cfg and installs it as
// the slog default. Later calls return the first logger.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	logging.once.Do(func() {
		var logger *slog.Logger
		logger, err = NewLogger(cfg)
		if err != nil {
			return
		}
		logging.logger = logger
		slog.SetDefault(logger)
	})
	return logging.logger, err
}

// GetLogger returns the process logger, or slog.Default before
// InitializeLogger ran.
func GetLogger() *slog.Logger {
	if logging.logger == nil {
		return slog.Default()
	}
	return logging.logger
}

// NewLogger builds a JSON logger for cfg. A file output becomes the process
// log file closed by CloseLogFile.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	w, err := logOutput(cfg)
	if err != nil {
		return nil, err
	}
	return newLogger(w, &slog.HandlerOptions{
		AddSource: cfg.Development,
		Level:     ParseLogLevel(cfg.Level),
	}), nil
}

func logOutput(cfg config.LoggingConfig) (io.Writer, error) {
	output := strings.ToLower(cfg.Output)
	if output != "file" && output != "both" {
		return os.Stdout, nil
	}

	file, err := openLogFile(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	if output == "both" {
		return io.MultiWriter(os.Stdout, file), nil
	}
	return file, nil
}

func newLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(traceHandler{slog.NewJSONHandler(w, opts)})
}

// traceHandler adds trace_id from the record's context.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

// ParseLogLevel converts a level name to slog.Level; unknown names are info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithTraceID attaches an explicit trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID returns the explicit trace id in ctx, falling back to the
// active OpenTelemetry span.
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return TraceIDFromContext(ctx)
}

// CloseLogFile closes the process log file, if one is open.
func CloseLogFile() error {
	logging.mu.Lock()
	defer logging.mu.Unlock()

	if logging.file == nil {
		return nil
	}
	err := logging.file.Close()
	logging.file = nil
	return err
}

// ResetLoggerForTesting forgets the process logger so tests can initialize
// it again.
func ResetLoggerForTesting() {
	_ = CloseLogFile()
	logging.logger = nil
	logging.once = sync.Once{}
}

func openLogFile(path string) (*os.File, error) {
	if err := config.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	logging.mu.Lock()
	defer logging.mu.Unlock()
	if logging.file != nil {
		_ = logging.file.Close()
	}
	logging.file = file
	return file, nil
}
