package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/fablab-backend/internal/application"
)

type interventionService interface {
	AddIntervention(ctx context.Context, params application.AddInterventionParams) (application.Intervention, error)
	GetIntervention(ctx context.Context, id int64) (application.Intervention, error)
	ListInterventions(ctx context.Context) ([]application.Intervention, error)
	ListMachineInterventions(ctx context.Context, machineID int64) ([]application.Intervention, error)
}

// InterventionHandler serves the append-only maintenance log.
type InterventionHandler struct {
	service   interventionService
	responder responder
	logger    *slog.Logger
}

func NewInterventionHandler(service interventionService, logger *slog.Logger) *InterventionHandler {
	base := defaultLogger(logger)
	return &InterventionHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *InterventionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "InterventionHandler", operation, attrs...)
}

func (h *InterventionHandler) missing(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.service == nil {
		newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, errServiceMissing)
		return true
	}
	return false
}

func (h *InterventionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	var req interventionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "Create", "machine_id", req.MachineID, "maintenance_id", req.MaintenanceID)
	intervention, err := h.service.AddIntervention(r.Context(), application.AddInterventionParams{
		ID:            req.ID,
		MaintenanceID: req.MaintenanceID,
		MachineID:     req.MachineID,
		UserID:        req.UserID,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "intervention creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, interventionResponse{Intervention: toInterventionDTO(intervention)})
}

// List returns the whole log, or one machine's entries when machine_id is given.
func (h *InterventionHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	machineID, err := queryID(r, "machine_id")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	h.list(w, r, machineID)
}

func (h *InterventionHandler) ListForMachine(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	machineID, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	h.list(w, r, &machineID)
}

func (h *InterventionHandler) list(w http.ResponseWriter, r *http.Request, machineID *int64) {
	var (
		interventions []application.Intervention
		err           error
	)
	if machineID != nil {
		interventions, err = h.service.ListMachineInterventions(r.Context(), *machineID)
	} else {
		interventions, err = h.service.ListInterventions(r.Context())
	}
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "intervention list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]interventionDTO, 0, len(interventions))
	for _, intervention := range interventions {
		out = append(out, toInterventionDTO(intervention))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listInterventionsResponse{Interventions: out})
}

func (h *InterventionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "interventionID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	intervention, err := h.service.GetIntervention(r.Context(), id)
	if err != nil {
		h.log(r.Context(), "Get", "intervention_id", id).ErrorContext(r.Context(), "intervention lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, interventionResponse{Intervention: toInterventionDTO(intervention)})
}

type interventionRequest struct {
	ID            *int64     `json:"id"`
	MaintenanceID int64      `json:"maintenance_id"`
	MachineID     int64      `json:"machine_id"`
	UserID        int64      `json:"user_id"`
	Timestamp     *time.Time `json:"timestamp"`
}

type interventionDTO struct {
	ID            int64  `json:"id"`
	MaintenanceID int64  `json:"maintenance_id"`
	MachineID     int64  `json:"machine_id"`
	UserID        int64  `json:"user_id"`
	Timestamp     string `json:"timestamp"`
}

type interventionResponse struct {
	Intervention interventionDTO `json:"intervention"`
}

type listInterventionsResponse struct {
	Interventions []interventionDTO `json:"interventions"`
}

func toInterventionDTO(intervention application.Intervention) interventionDTO {
	return interventionDTO{
		ID:            intervention.ID,
		MaintenanceID: intervention.MaintenanceID,
		MachineID:     intervention.MachineID,
		UserID:        intervention.UserID,
		Timestamp:     intervention.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
