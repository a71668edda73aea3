package http

import (
	"context"
	"log/slog"

	"github.com/example/fablab-backend/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// handlerLogger narrows the request logger to one handler call, for example
// handler=UsageHandler operation=StartSession machine_id=3.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	scope := make([]any, 0, len(attrs)+4)
	scope = append(scope, "handler", handlerName, "operation", operation)
	_, logger := logging.Scoped(ctx, defaultLogger(fallback), append(scope, attrs...)...)
	return logger
}
