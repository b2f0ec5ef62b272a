// Package logger sets up structured logging with log/slog and carries a
// trace ID through context.Context so one reconciliation run or one
// security's event can be followed across components.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates a JSON logger for service on stdout and installs it as the
// process default, so log.Printf and slog.Info share the same output.
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

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a level.
// Anything else is Info.
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

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID builds "{securityID}-{unixNano}" for a single feed event.
func GenerateTraceID(securityID string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", securityID, ts.UnixNano())
}

// LogWith returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWith(ctx)...)
func LogWith(ctx context.Context, args ...any) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return args
	}
	return append([]any{slog.String("trace_id", tid)}, args...)
}
