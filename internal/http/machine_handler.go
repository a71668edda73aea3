package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/fablab-backend/internal/application"
)

type machineService interface {
	AddMachine(ctx context.Context, params application.AddMachineParams) (application.Machine, error)
	GetMachine(ctx context.Context, id int64) (application.Machine, error)
	ListMachines(ctx context.Context) ([]application.Machine, error)
	SetMachineName(ctx context.Context, id int64, name string) error
	SetMachineType(ctx context.Context, id, typeID int64) error
	SetMachineHours(ctx context.Context, id int64, hours float64) error
	AddMachineMaintenance(ctx context.Context, id, maintenanceID int64) error
	RemoveMachineMaintenance(ctx context.Context, id, maintenanceID int64) error
	GetMachineMaintenances(ctx context.Context, id int64) ([]application.Maintenance, error)
	RemoveMachine(ctx context.Context, id int64) error
}

type MachineHandler struct {
	service   machineService
	responder responder
	logger    *slog.Logger
}

func NewMachineHandler(service machineService, logger *slog.Logger) *MachineHandler {
	base := defaultLogger(logger)
	return &MachineHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *MachineHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "MachineHandler", operation, attrs...)
}

func (h *MachineHandler) missing(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.service == nil {
		newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, errServiceMissing)
		return true
	}
	return false
}

func (h *MachineHandler) fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(r.Context(), msg, "error", err, "error_kind", application.ErrorKind(err))
	h.responder.handleServiceError(r.Context(), w, err)
}

func (h *MachineHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	machines, err := h.service.ListMachines(r.Context())
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "List"), "machine list failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMachinesResponse{Machines: toMachineDTOs(machines)})
}

func (h *MachineHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	var req machineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	logger := h.log(r.Context(), "Create", "type_id", req.TypeID)
	machine, err := h.service.AddMachine(r.Context(), application.AddMachineParams{
		ID:             req.ID,
		Name:           strings.TrimSpace(req.Name),
		TypeID:         req.TypeID,
		Hours:          req.Hours,
		MaintenanceIDs: req.MaintenanceIDs,
	})
	if err != nil {
		h.fail(w, r, logger, "machine creation failed", err)
		return
	}
	logger.With("machine_id", machine.ID).InfoContext(r.Context(), "machine created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, machineResponse{Machine: toMachineDTO(machine)})
}

func (h *MachineHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	machine, err := h.service.GetMachine(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "Get", "machine_id", id), "machine lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, machineResponse{Machine: toMachineDTO(machine)})
}

func (h *MachineHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	var req machineUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	logger := h.log(r.Context(), "Update", "machine_id", id)
	if req.TypeID != nil {
		if err := h.service.SetMachineType(r.Context(), id, *req.TypeID); err != nil {
			h.fail(w, r, logger, "machine type update failed", err)
			return
		}
	}
	if req.Name != nil {
		if err := h.service.SetMachineName(r.Context(), id, *req.Name); err != nil {
			h.fail(w, r, logger, "machine rename failed", err)
			return
		}
	}
	if req.Hours != nil {
		if err := h.service.SetMachineHours(r.Context(), id, *req.Hours); err != nil {
			h.fail(w, r, logger, "machine hours update failed", err)
			return
		}
	}
	logger.InfoContext(r.Context(), "machine updated")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *MachineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	logger := h.log(r.Context(), "Delete", "machine_id", id)
	if err := h.service.RemoveMachine(r.Context(), id); err != nil {
		h.fail(w, r, logger, "machine delete failed", err)
		return
	}
	logger.InfoContext(r.Context(), "machine deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *MachineHandler) Maintenances(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	maintenances, err := h.service.GetMachineMaintenances(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "Maintenances", "machine_id", id), "machine maintenance lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMaintenancesResponse{Maintenances: toMaintenanceDTOs(maintenances)})
}

func (h *MachineHandler) AttachMaintenance(w http.ResponseWriter, r *http.Request) {
	h.changeMaintenance(w, r, true)
}

func (h *MachineHandler) DetachMaintenance(w http.ResponseWriter, r *http.Request) {
	h.changeMaintenance(w, r, false)
}

func (h *MachineHandler) changeMaintenance(w http.ResponseWriter, r *http.Request, attach bool) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "machineID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	maintenanceID, err := pathID(r, "maintenanceID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	operation, apply := "DetachMaintenance", h.service.RemoveMachineMaintenance
	if attach {
		operation, apply = "AttachMaintenance", h.service.AddMachineMaintenance
	}
	if err := apply(r.Context(), id, maintenanceID); err != nil {
		h.fail(w, r, h.log(r.Context(), operation, "machine_id", id, "maintenance_id", maintenanceID), "machine maintenance update failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type machineRequest struct {
	ID             *int64  `json:"id"`
	Name           string  `json:"name"`
	TypeID         int64   `json:"type_id"`
	Hours          float64 `json:"hours"`
	MaintenanceIDs []int64 `json:"maintenance_ids"`
}

type machineUpdateRequest struct {
	Name   *string  `json:"name"`
	TypeID *int64   `json:"type_id"`
	Hours  *float64 `json:"hours"`
}

type machineDTO struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	TypeID         int64   `json:"type_id"`
	Hours          float64 `json:"hours"`
	MaintenanceIDs []int64 `json:"maintenance_ids"`
}

type machineResponse struct {
	Machine machineDTO `json:"machine"`
}

type listMachinesResponse struct {
	Machines []machineDTO `json:"machines"`
}

func toMachineDTO(machine application.Machine) machineDTO {
	ids := machine.MaintenanceIDs
	if ids == nil {
		ids = []int64{}
	}
	return machineDTO{
		ID:             machine.ID,
		Name:           machine.Name,
		TypeID:         machine.TypeID,
		Hours:          machine.Hours,
		MaintenanceIDs: ids,
	}
}

func toMachineDTOs(machines []application.Machine) []machineDTO {
	out := make([]machineDTO, 0, len(machines))
	for _, machine := range machines {
		out = append(out, toMachineDTO(machine))
	}
	return out
}
