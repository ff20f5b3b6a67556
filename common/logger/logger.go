package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
)

type contextKey string

// TraceIDKey is the context key carrying the request trace id
const TraceIDKey contextKey = "trace_id"

// Logger wraps slog.Logger with contextual fields
type Logger struct {
	*slog.Logger
	withStack bool
}

// New creates a new logger writing to stdout
func New(level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger on an arbitrary writer
func NewWithWriter(w io.Writer, level, format string) *Logger {
	var handler slog.Handler

	logLevel := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: logLevel,
		})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{
		Logger:    slog.New(handler),
		withStack: true,
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (l *Logger) derive(args ...any) *Logger {
	return &Logger{
		Logger:    l.With(args...),
		withStack: l.withStack,
	}
}

// WithContext returns a logger with trace_id from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		return l.derive("trace_id", traceID)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.derive(args...)
}

// WithRunID adds run_id to logger context
func (l *Logger) WithRunID(runID string) *Logger {
	return l.derive("run_id", runID)
}

// WithPhase adds the pipeline phase number and name
func (l *Logger) WithPhase(phase int, name string) *Logger {
	return l.derive("phase", phase, "phase_name", name)
}

// WithChangeID adds change_id to logger context
func (l *Logger) WithChangeID(changeID string) *Logger {
	return l.derive("change_id", changeID)
}

// Error logs an error with stack trace
func (l *Logger) Error(msg string, args ...any) {
	if l.withStack {
		args = append(args, "stack", string(debug.Stack()))
	}
	l.Logger.Error(msg, args...)
}

// ErrorContext logs an error with context and stack trace
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	if l.withStack {
		args = append(args, "stack", string(debug.Stack()))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
