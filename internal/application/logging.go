package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/fablab-backend/internal/logging"
	"github.com/example/fablab-backend/internal/persistence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// serviceLogger scopes the caller's logger (request or message) to one
// service operation.
func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	scope := append([]any{"service", serviceName, "operation", operation}, attrs...)
	_, logger := logging.Scoped(ctx, base, scope...)
	return logger
}

// logOutcome writes the single completion line every operation emits.
func logOutcome(ctx context.Context, logger *slog.Logger, err error, failure, success string, attrs ...any) {
	if err != nil {
		logger.ErrorContext(ctx, failure, "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.InfoContext(ctx, success, attrs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	switch {
	case errors.Is(err, ErrAlreadyExists):
		return "duplicate_id"
	case errors.Is(err, ErrNotFound):
		return "invalid_id"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable), errors.Is(err, persistence.ErrUnavailable):
		return "unavailable"
	}

	return "unexpected"
}

// mapStoreError translates persistence failures that carry no entity context.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrUnavailable):
		return errors.Join(ErrUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
