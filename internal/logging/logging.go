// Package logging carries request and message scoped loggers through
// context so that services log with the attributes of whatever triggered
// them: an HTTP request id, or the routing key and machine id of a bus
// message.
package logging

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// ContextWithLogger stores logger in ctx. A nil logger leaves ctx unchanged.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or nil.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// FromContextOr prefers the context logger, then fallback, then slog.Default().
func FromContextOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	switch logger := FromContext(ctx); {
	case logger != nil:
		return logger
	case fallback != nil:
		return fallback
	default:
		return slog.Default()
	}
}

// Scoped derives a logger carrying attrs from the one already in ctx (or
// base) and returns a context holding it, so everything called with that
// context logs the same attributes.
func Scoped(ctx context.Context, base *slog.Logger, attrs ...any) (context.Context, *slog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := FromContextOr(ctx, base)
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	return ContextWithLogger(ctx, logger), logger
}
