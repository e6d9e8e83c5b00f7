package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging interface shared by the pipeline, the HTTP server
// and the CLI. It wraps slog.Logger so components can be handed a
// discarding or buffered logger in tests.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// SlogLogger is a Logger implementation that wraps slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// New creates a new Logger with the given handler.
func New(handler slog.Handler) Logger {
	return &SlogLogger{
		logger: slog.New(handler),
	}
}

// Default creates a Logger with a text handler writing to stderr.
func Default() Logger {
	return Text(os.Stderr, slog.LevelInfo)
}

// Discard returns a Logger that drops every record.
func Discard() Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// Text creates a Logger with the stdlib logfmt-style handler.
func Text(w io.Writer, level slog.Level) Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// JSON creates a Logger with a JSON handler, for log shipping.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
}

// Pretty creates a Logger with colored output for interactive use.
func Pretty(w io.Writer, level slog.Level) Logger {
	return New(NewPrettyHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewFor picks a handler by format name ("pretty", "json" or "text").
// Unknown formats fall back to text.
func NewFor(w io.Writer, format string, level slog.Level) Logger {
	switch strings.ToLower(format) {
	case "pretty":
		return Pretty(w, level)
	case "json":
		return JSON(w, level)
	default:
		return Text(w, level)
	}
}

// FromContext retrieves a Logger from the context.
// If no logger is found, returns a default logger.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return Default()
}

// WithContext adds the logger to the context.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{
		logger: l.logger.With(args...),
	}
}

func (l *SlogLogger) WithGroup(name string) Logger {
	return &SlogLogger{
		logger: l.logger.WithGroup(name),
	}
}

// ParseLevel converts a string level to slog.Level. Matching is
// case-insensitive; unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
