package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/fablab-backend/internal/persistence"
)

// CatalogStore is the persistence surface behind roles, machine types and
// maintenance definitions.
type CatalogStore interface {
	persistence.RoleRepository
	persistence.MachineTypeRepository
	persistence.MaintenanceRepository
}

// CatalogService manages the reference data other entities point at: roles,
// machine types and maintenance definitions.
type CatalogService struct {
	store  CatalogStore
	logger *slog.Logger
}

// NewCatalogService constructs a catalog service.
func NewCatalogService(store CatalogStore) *CatalogService {
	return NewCatalogServiceWithLogger(store, nil)
}

// NewCatalogServiceWithLogger constructs a catalog service with a specified logger.
func NewCatalogServiceWithLogger(store CatalogStore, logger *slog.Logger) *CatalogService {
	return &CatalogService{store: store, logger: defaultLogger(logger)}
}

func (s *CatalogService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CatalogService", operation, attrs...)
}

func (s *CatalogService) ready() error {
	if s == nil {
		return fmt.Errorf("CatalogService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("catalog store not configured")
	}
	return nil
}

// --- Roles ---

// AddRole validates and stores a new role.
func (s *CatalogService) AddRole(ctx context.Context, params AddRoleParams) (role Role, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AddRole")
	defer func() { logOutcome(ctx, logger, err, "failed to add role", "role added", "role_id", role.ID) }()

	id, vErr := resolveID("role_id", params.ID)
	if vErr == nil {
		vErr = &ValidationError{}
	}
	name := requireName(vErr, "role_name", params.Name)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	role, err = s.store.CreateRole(ctx, Role{ID: id, Name: name, AuthorizeAll: params.AuthorizeAll})
	err = mapEntityError(err, "role", id)
	return
}

// GetRole returns the role with id.
func (s *CatalogService) GetRole(ctx context.Context, id int64) (Role, error) {
	if err := s.ready(); err != nil {
		return Role{}, err
	}
	role, err := s.store.GetRole(ctx, id)
	return role, mapEntityError(err, "role", id)
}

// ListRoles returns every role.
func (s *CatalogService) ListRoles(ctx context.Context) ([]Role, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx)
	return roles, mapStoreError(err)
}

// SetRoleName renames a role. A missing role is left alone.
func (s *CatalogService) SetRoleName(ctx context.Context, id int64, name string) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetRoleName", "role_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to rename role", "role renamed") }()

	vErr := &ValidationError{}
	name = requireName(vErr, "role_name", name)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	err = mapStoreError(s.store.UpdateRoleName(ctx, id, name))
	return
}

// SetRoleAuthorizeAll toggles the blanket machine grant of a role.
func (s *CatalogService) SetRoleAuthorizeAll(ctx context.Context, id int64, authorizeAll bool) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetRoleAuthorizeAll", "role_id", id, "authorize_all", authorizeAll)
	defer func() { logOutcome(ctx, logger, err, "failed to update role", "role updated") }()

	err = mapStoreError(s.store.UpdateRoleAuthorizeAll(ctx, id, authorizeAll))
	return
}

// RemoveRole deletes a role. Users holding it keep the dangling role id.
func (s *CatalogService) RemoveRole(ctx context.Context, id int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "RemoveRole", "role_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to remove role", "role removed") }()

	err = mapStoreError(s.store.DeleteRole(ctx, id))
	return
}

// --- Machine types ---

// AddMachineType validates and stores a new machine type.
func (s *CatalogService) AddMachineType(ctx context.Context, params AddMachineTypeParams) (machineType MachineType, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AddMachineType")
	defer func() {
		logOutcome(ctx, logger, err, "failed to add machine type", "machine type added", "type_id", machineType.ID)
	}()

	id, vErr := resolveID("type_id", params.ID)
	if vErr == nil {
		vErr = &ValidationError{}
	}
	name := requireName(vErr, "type_name", params.Name)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	machineType, err = s.store.CreateMachineType(ctx, MachineType{ID: id, Name: name})
	err = mapEntityError(err, "machine_type", id)
	return
}

func (s *CatalogService) GetMachineType(ctx context.Context, id int64) (MachineType, error) {
	if err := s.ready(); err != nil {
		return MachineType{}, err
	}
	machineType, err := s.store.GetMachineType(ctx, id)
	return machineType, mapEntityError(err, "machine_type", id)
}

func (s *CatalogService) ListMachineTypes(ctx context.Context) ([]MachineType, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	types, err := s.store.ListMachineTypes(ctx)
	return types, mapStoreError(err)
}

func (s *CatalogService) SetMachineTypeName(ctx context.Context, id int64, name string) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetMachineTypeName", "type_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to rename machine type", "machine type renamed") }()

	vErr := &ValidationError{}
	name = requireName(vErr, "type_name", name)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	err = mapStoreError(s.store.UpdateMachineTypeName(ctx, id, name))
	return
}

// RemoveMachineType deletes a machine type. Machines and grants referencing
// it are not touched.
func (s *CatalogService) RemoveMachineType(ctx context.Context, id int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "RemoveMachineType", "type_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to remove machine type", "machine type removed") }()

	err = mapStoreError(s.store.DeleteMachineType(ctx, id))
	return
}

// --- Maintenances ---

// AddMaintenance validates and stores a maintenance definition.
func (s *CatalogService) AddMaintenance(ctx context.Context, params AddMaintenanceParams) (maintenance Maintenance, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AddMaintenance")
	defer func() {
		logOutcome(ctx, logger, err, "failed to add maintenance", "maintenance added", "maintenance_id", maintenance.ID)
	}()

	id, vErr := resolveID("maintenance_id", params.ID)
	if vErr == nil {
		vErr = &ValidationError{}
	}
	requireNonNegative(vErr, "hours_between", params.HoursBetween)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	maintenance, err = s.store.CreateMaintenance(ctx, Maintenance{
		ID:           id,
		HoursBetween: params.HoursBetween,
		Description:  normalizeOptionalString(params.Description),
	})
	err = mapEntityError(err, "maintenance", id)
	return
}

func (s *CatalogService) GetMaintenance(ctx context.Context, id int64) (Maintenance, error) {
	if err := s.ready(); err != nil {
		return Maintenance{}, err
	}
	maintenance, err := s.store.GetMaintenance(ctx, id)
	return maintenance, mapEntityError(err, "maintenance", id)
}

func (s *CatalogService) ListMaintenances(ctx context.Context) ([]Maintenance, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	maintenances, err := s.store.ListMaintenances(ctx)
	return maintenances, mapStoreError(err)
}

// SetMaintenanceDescription replaces the description; nil or blank clears it.
func (s *CatalogService) SetMaintenanceDescription(ctx context.Context, id int64, description *string) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetMaintenanceDescription", "maintenance_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to update maintenance", "maintenance updated") }()

	err = mapStoreError(s.store.UpdateMaintenanceDescription(ctx, id, normalizeOptionalString(description)))
	return
}

func (s *CatalogService) SetMaintenanceHoursBetween(ctx context.Context, id int64, hours float64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetMaintenanceHoursBetween", "maintenance_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to update maintenance", "maintenance updated") }()

	vErr := &ValidationError{}
	requireNonNegative(vErr, "hours_between", hours)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	err = mapStoreError(s.store.UpdateMaintenanceHoursBetween(ctx, id, hours))
	return
}

func (s *CatalogService) RemoveMaintenance(ctx context.Context, id int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "RemoveMaintenance", "maintenance_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to remove maintenance", "maintenance removed") }()

	err = mapStoreError(s.store.DeleteMaintenance(ctx, id))
	return
}
