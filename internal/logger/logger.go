// Package logger sets up structured JSON logging with log/slog and carries
// the current feeder tick through context.Context so every log line emitted
// while producing a frame can be correlated.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const tickKey ctxKey = "tick"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout and is installed as the default, so
// log.Printf calls in the stores are emitted through it as well.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values are Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Component returns a child logger tagged with a component name.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", name))
}

// WithTick stores the tick number in the context.
func WithTick(ctx context.Context, n int64) context.Context {
	return context.WithValue(ctx, tickKey, n)
}

// Tick extracts the tick number from context.
func Tick(ctx context.Context) (int64, bool) {
	n, ok := ctx.Value(tickKey).(int64)
	return n, ok
}

// LogWithTick returns slog attributes including the tick from context.
// Usage: log.Warn("msg", logger.LogWithTick(ctx)...)
func LogWithTick(ctx context.Context) []any {
	n, ok := Tick(ctx)
	if !ok {
		return nil
	}
	return []any{slog.Int64("tick", n)}
}
