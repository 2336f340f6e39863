// Package logger configures the process-wide slog logger and hands out
// component- and index-scoped child loggers.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey struct{}

// Setup installs the default logger writing to stdout.
func Setup(level string, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w without installing it.
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// WithIndex stores the index name in ctx so FromContext can tag records.
func WithIndex(ctx context.Context, index string) context.Context {
	return context.WithValue(ctx, contextKey{}, index)
}

// FromContext returns the default logger, tagged with the index carried by
// ctx if any.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if index, ok := ctx.Value(contextKey{}).(string); ok {
		logger = logger.With("index", index)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// ForIndex returns a logger for one component of one index.
func ForIndex(component, index string) *slog.Logger {
	return slog.Default().With("component", component, "index", index)
}

// ParseLevel maps a config level name onto a slog level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
