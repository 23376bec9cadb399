// Package observability provides structured logging and metrics collection
// for storage backends.
//
// Logger wraps log/slog with backend-specific context fields. Metrics collects
// operation latencies, success/error counts, and sweep statistics.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog with a persistent backend identity.
type Logger struct {
	inner   *slog.Logger
	backend string
}

// NewLogger creates a structured logger for a given backend.
// Output defaults to os.Stderr if w is nil.
func NewLogger(backend string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Logger{
		inner:   slog.New(handler),
		backend: backend,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(backend string, h slog.Handler) *Logger {
	return &Logger{
		inner:   slog.New(h),
		backend: backend,
	}
}

// With returns a new Logger with an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		inner:   l.inner.With(slog.Any(key, value)),
		backend: l.backend,
	}
}

// attrs prepends the backend name to the arguments.
func (l *Logger) attrs(msg string, args []any) (string, []any) {
	return msg, append([]any{slog.String("backend", l.backend)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Debug(msg, args...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Info(msg, args...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Warn(msg, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Error(msg, args...)
}

// Op logs a storage operation outcome.
func (l *Logger) Op(op, key string, err error, args ...any) {
	allArgs := append([]any{
		slog.String("backend", l.backend),
		slog.String("op", op),
		slog.String("key", key),
	}, args...)
	if err != nil {
		allArgs = append(allArgs, slog.String("error", err.Error()))
		l.inner.Error("storage op failed", allArgs...)
		return
	}
	l.inner.Debug("storage op", allArgs...)
}

// BackendName returns the backend name associated with this logger.
func (l *Logger) BackendName() string {
	return l.backend
}
