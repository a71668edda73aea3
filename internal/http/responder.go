package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/fablab-backend/internal/application"
	"github.com/example/fablab-backend/internal/logging"
)

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errServiceMissing = errors.New("handler is not configured")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError renders an application error with the status matching its kind.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := application.ErrorKind(err)
	resp := errorResponse{ErrorCode: kind, Message: err.Error()}

	var idErr *application.IDError
	if errors.As(err, &idErr) {
		resp.Field = idErr.Field
	}

	status := statusForKind(kind)
	switch kind {
	case "validation":
		var vErr *application.ValidationError
		if errors.As(err, &vErr) {
			resp.Message = "input is invalid"
			resp.Errors = vErr.FieldErrors
		}
	case "unexpected":
		resp.Message = http.StatusText(status)
	}

	r.writeJSON(ctx, w, status, resp)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, r.logger)
}

func statusForKind(kind string) int {
	switch kind {
	case "duplicate_id", "conflict":
		return http.StatusConflict
	case "invalid_id":
		return http.StatusNotFound
	case "invalid_query", "validation":
		return http.StatusUnprocessableEntity
	case "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errBadRequestBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return nil
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Field     string            `json:"field,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}
