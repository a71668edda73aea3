package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/fablab-backend/internal/liveness"
)

type livenessReporter interface {
	Report(ctx context.Context, staleAfter time.Duration) ([]liveness.MachineStatus, error)
	Pending(ctx context.Context) ([]int64, error)
}

// HealthChecker is implemented by the entity store.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

var errStoreUnreachable = errors.New("store is unreachable")

// LivenessHandler reports which machines are connected, and the process health.
type LivenessHandler struct {
	tracker    livenessReporter
	health     HealthChecker
	staleAfter time.Duration
	responder  responder
	logger     *slog.Logger
}

func NewLivenessHandler(tracker livenessReporter, health HealthChecker, staleAfter time.Duration, logger *slog.Logger) *LivenessHandler {
	base := defaultLogger(logger)
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	return &LivenessHandler{tracker: tracker, health: health, staleAfter: staleAfter, responder: newResponder(base), logger: base}
}

// Machines lists every machine ever heard from. ?stale_after= overrides the
// configured window.
func (h *LivenessHandler) Machines(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.tracker == nil {
		newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, errServiceMissing)
		return
	}

	staleAfter := h.staleAfter
	if raw := queryString(r, "stale_after"); raw != nil {
		d, err := time.ParseDuration(*raw)
		if err != nil || d <= 0 {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New("stale_after must be a positive duration"))
			return
		}
		staleAfter = d
	}

	report, err := h.tracker.Report(r.Context(), staleAfter)
	if err != nil {
		handlerLogger(r.Context(), h.logger, "LivenessHandler", "Machines").ErrorContext(r.Context(), "liveness report failed", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusServiceUnavailable, errors.New("liveness state is unavailable"))
		return
	}

	out := make([]machineStatusDTO, 0, len(report))
	for _, status := range report {
		out = append(out, machineStatusDTO{
			MachineID: status.MachineID,
			LastSeen:  status.LastSeen.UTC().Format(time.RFC3339Nano),
			Alive:     status.Alive,
			Pending:   status.Pending,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, livenessResponse{
		StaleAfterSeconds: staleAfter.Seconds(),
		Machines:          out,
	})
}

func (h *LivenessHandler) Pending(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.tracker == nil {
		newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, errServiceMissing)
		return
	}
	pending, err := h.tracker.Pending(r.Context())
	if err != nil {
		handlerLogger(r.Context(), h.logger, "LivenessHandler", "Pending").ErrorContext(r.Context(), "pending listing failed", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusServiceUnavailable, errors.New("liveness state is unavailable"))
		return
	}
	if pending == nil {
		pending = []int64{}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, pendingResponse{MachineIDs: pending})
}

// Healthz answers 200 while the store responds to a ping.
func (h *LivenessHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h != nil && h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			handlerLogger(r.Context(), h.logger, "LivenessHandler", "Healthz").ErrorContext(r.Context(), "store ping failed", "error", err)
			h.responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: errStoreUnreachable.Error()})
			return
		}
	}
	newResponder(nil).writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
}

type machineStatusDTO struct {
	MachineID int64  `json:"machine_id"`
	LastSeen  string `json:"last_seen"`
	Alive     bool   `json:"alive"`
	Pending   bool   `json:"pending"`
}

type livenessResponse struct {
	StaleAfterSeconds float64            `json:"stale_after_seconds"`
	Machines          []machineStatusDTO `json:"machines"`
}

type pendingResponse struct {
	MachineIDs []int64 `json:"machine_ids"`
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
