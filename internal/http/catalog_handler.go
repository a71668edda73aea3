package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/example/fablab-backend/internal/application"
)

type catalogService interface {
	AddRole(ctx context.Context, params application.AddRoleParams) (application.Role, error)
	GetRole(ctx context.Context, id int64) (application.Role, error)
	ListRoles(ctx context.Context) ([]application.Role, error)
	SetRoleName(ctx context.Context, id int64, name string) error
	SetRoleAuthorizeAll(ctx context.Context, id int64, authorizeAll bool) error
	RemoveRole(ctx context.Context, id int64) error

	AddMachineType(ctx context.Context, params application.AddMachineTypeParams) (application.MachineType, error)
	GetMachineType(ctx context.Context, id int64) (application.MachineType, error)
	ListMachineTypes(ctx context.Context) ([]application.MachineType, error)
	SetMachineTypeName(ctx context.Context, id int64, name string) error
	RemoveMachineType(ctx context.Context, id int64) error

	AddMaintenance(ctx context.Context, params application.AddMaintenanceParams) (application.Maintenance, error)
	GetMaintenance(ctx context.Context, id int64) (application.Maintenance, error)
	ListMaintenances(ctx context.Context) ([]application.Maintenance, error)
	SetMaintenanceDescription(ctx context.Context, id int64, description *string) error
	SetMaintenanceHoursBetween(ctx context.Context, id int64, hours float64) error
	RemoveMaintenance(ctx context.Context, id int64) error
}

// CatalogHandler serves roles, machine types and maintenance definitions.
type CatalogHandler struct {
	service   catalogService
	responder responder
	logger    *slog.Logger
}

func NewCatalogHandler(service catalogService, logger *slog.Logger) *CatalogHandler {
	base := defaultLogger(logger)
	return &CatalogHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *CatalogHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "CatalogHandler", operation, attrs...)
}

func (h *CatalogHandler) missing(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.service == nil {
		newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, errServiceMissing)
		return true
	}
	return false
}

// fail logs a service error and renders it.
func (h *CatalogHandler) fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(r.Context(), msg, "error", err, "error_kind", application.ErrorKind(err))
	h.responder.handleServiceError(r.Context(), w, err)
}

func (h *CatalogHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "ListRoles"), "role list failed", err)
		return
	}
	out := make([]roleDTO, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleDTO(role))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listRolesResponse{Roles: out})
}

func (h *CatalogHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	logger := h.log(r.Context(), "CreateRole")
	role, err := h.service.AddRole(r.Context(), application.AddRoleParams{
		ID:           req.ID,
		Name:         req.Name,
		AuthorizeAll: req.AuthorizeAll,
	})
	if err != nil {
		h.fail(w, r, logger, "role creation failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, roleResponse{Role: toRoleDTO(role)})
}

func (h *CatalogHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "roleID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "GetRole", "role_id", id), "role lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, roleResponse{Role: toRoleDTO(role)})
}

// UpdateRole applies the fields present in the body. Absent roles are left
// untouched and still answer 204.
func (h *CatalogHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "roleID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	var req roleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	logger := h.log(r.Context(), "UpdateRole", "role_id", id)
	if req.Name != nil {
		if err := h.service.SetRoleName(r.Context(), id, *req.Name); err != nil {
			h.fail(w, r, logger, "role rename failed", err)
			return
		}
	}
	if req.AuthorizeAll != nil {
		if err := h.service.SetRoleAuthorizeAll(r.Context(), id, *req.AuthorizeAll); err != nil {
			h.fail(w, r, logger, "role grant update failed", err)
			return
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *CatalogHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "roleID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if err := h.service.RemoveRole(r.Context(), id); err != nil {
		h.fail(w, r, h.log(r.Context(), "DeleteRole", "role_id", id), "role delete failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *CatalogHandler) ListMachineTypes(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	types, err := h.service.ListMachineTypes(r.Context())
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "ListMachineTypes"), "machine type list failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMachineTypesResponse{MachineTypes: toMachineTypeDTOs(types)})
}

func (h *CatalogHandler) CreateMachineType(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	var req machineTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	machineType, err := h.service.AddMachineType(r.Context(), application.AddMachineTypeParams{ID: req.ID, Name: req.Name})
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "CreateMachineType"), "machine type creation failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, machineTypeResponse{MachineType: toMachineTypeDTO(machineType)})
}

func (h *CatalogHandler) GetMachineType(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "typeID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	machineType, err := h.service.GetMachineType(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "GetMachineType", "type_id", id), "machine type lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, machineTypeResponse{MachineType: toMachineTypeDTO(machineType)})
}

func (h *CatalogHandler) UpdateMachineType(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "typeID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	var req machineTypeUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		if err := h.service.SetMachineTypeName(r.Context(), id, *req.Name); err != nil {
			h.fail(w, r, h.log(r.Context(), "UpdateMachineType", "type_id", id), "machine type rename failed", err)
			return
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *CatalogHandler) DeleteMachineType(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "typeID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if err := h.service.RemoveMachineType(r.Context(), id); err != nil {
		h.fail(w, r, h.log(r.Context(), "DeleteMachineType", "type_id", id), "machine type delete failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *CatalogHandler) ListMaintenances(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	maintenances, err := h.service.ListMaintenances(r.Context())
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "ListMaintenances"), "maintenance list failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMaintenancesResponse{Maintenances: toMaintenanceDTOs(maintenances)})
}

func (h *CatalogHandler) CreateMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	var req maintenanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	maintenance, err := h.service.AddMaintenance(r.Context(), application.AddMaintenanceParams{
		ID:           req.ID,
		HoursBetween: req.HoursBetween,
		Description:  req.Description,
	})
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "CreateMaintenance"), "maintenance creation failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, maintenanceResponse{Maintenance: toMaintenanceDTO(maintenance)})
}

func (h *CatalogHandler) GetMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "maintenanceID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	maintenance, err := h.service.GetMaintenance(r.Context(), id)
	if err != nil {
		h.fail(w, r, h.log(r.Context(), "GetMaintenance", "maintenance_id", id), "maintenance lookup failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, maintenanceResponse{Maintenance: toMaintenanceDTO(maintenance)})
}

// UpdateMaintenance accepts "description": null to clear the description.
func (h *CatalogHandler) UpdateMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "maintenanceID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	var req maintenanceUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	logger := h.log(r.Context(), "UpdateMaintenance", "maintenance_id", id)
	if req.HoursBetween != nil {
		if err := h.service.SetMaintenanceHoursBetween(r.Context(), id, *req.HoursBetween); err != nil {
			h.fail(w, r, logger, "maintenance interval update failed", err)
			return
		}
	}
	if req.Description.Set {
		if err := h.service.SetMaintenanceDescription(r.Context(), id, req.Description.Value); err != nil {
			h.fail(w, r, logger, "maintenance description update failed", err)
			return
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *CatalogHandler) DeleteMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.missing(w, r) {
		return
	}
	id, err := pathID(r, "maintenanceID")
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if err := h.service.RemoveMaintenance(r.Context(), id); err != nil {
		h.fail(w, r, h.log(r.Context(), "DeleteMaintenance", "maintenance_id", id), "maintenance delete failed", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// nullableString tells an absent field apart from an explicit null.
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

type roleRequest struct {
	ID           *int64 `json:"id"`
	Name         string `json:"name"`
	AuthorizeAll bool   `json:"authorize_all"`
}

type roleUpdateRequest struct {
	Name         *string `json:"name"`
	AuthorizeAll *bool   `json:"authorize_all"`
}

type roleDTO struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	AuthorizeAll bool   `json:"authorize_all"`
}

type roleResponse struct {
	Role roleDTO `json:"role"`
}

type listRolesResponse struct {
	Roles []roleDTO `json:"roles"`
}

func toRoleDTO(role application.Role) roleDTO {
	return roleDTO{ID: role.ID, Name: role.Name, AuthorizeAll: role.AuthorizeAll}
}

type machineTypeRequest struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}

type machineTypeUpdateRequest struct {
	Name *string `json:"name"`
}

type machineTypeDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type machineTypeResponse struct {
	MachineType machineTypeDTO `json:"machine_type"`
}

type listMachineTypesResponse struct {
	MachineTypes []machineTypeDTO `json:"machine_types"`
}

func toMachineTypeDTO(machineType application.MachineType) machineTypeDTO {
	return machineTypeDTO{ID: machineType.ID, Name: machineType.Name}
}

func toMachineTypeDTOs(types []application.MachineType) []machineTypeDTO {
	out := make([]machineTypeDTO, 0, len(types))
	for _, machineType := range types {
		out = append(out, toMachineTypeDTO(machineType))
	}
	return out
}

type maintenanceRequest struct {
	ID           *int64  `json:"id"`
	HoursBetween float64 `json:"hours_between"`
	Description  *string `json:"description"`
}

type maintenanceUpdateRequest struct {
	HoursBetween *float64      `json:"hours_between"`
	Description  nullableString `json:"description"`
}

type maintenanceDTO struct {
	ID           int64   `json:"id"`
	HoursBetween float64 `json:"hours_between"`
	Description  *string `json:"description"`
}

type maintenanceResponse struct {
	Maintenance maintenanceDTO `json:"maintenance"`
}

type listMaintenancesResponse struct {
	Maintenances []maintenanceDTO `json:"maintenances"`
}

func toMaintenanceDTO(maintenance application.Maintenance) maintenanceDTO {
	return maintenanceDTO{ID: maintenance.ID, HoursBetween: maintenance.HoursBetween, Description: maintenance.Description}
}

func toMaintenanceDTOs(maintenances []application.Maintenance) []maintenanceDTO {
	out := make([]maintenanceDTO, 0, len(maintenances))
	for _, maintenance := range maintenances {
		out = append(out, toMaintenanceDTO(maintenance))
	}
	return out
}
