package logging

import (
	"context"
	"log/slog"
	"os"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// CorrelationIDKey is the context key for the request correlation id.
	CorrelationIDKey ContextKey = "correlation_id"
	// ActorKey is the context key for the acting account id.
	ActorKey ContextKey = "actor_id"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Init initializes the global slog logger with the given configuration.
func Init(cfg Config) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// FromContext returns the default logger enriched with request-scoped attrs
// found on the context.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok && correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}
	if actor, ok := ctx.Value(ActorKey).(string); ok && actor != "" {
		logger = logger.With("actor_id", actor)
	}

	return logger
}

// Warn logs at warn level with context attrs.
func Warn(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

// Info logs at info level with context attrs.
func Info(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

// Error logs at error level with context attrs.
func Error(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Error(msg, args...)
}
