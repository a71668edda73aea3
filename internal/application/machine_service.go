package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/fablab-backend/internal/persistence"
)

// MachineStore is the persistence surface the machine service needs.
type MachineStore interface {
	persistence.ReferenceChecker
	persistence.MachineRepository
	GetMaintenance(ctx context.Context, id int64) (persistence.Maintenance, error)
}

// MachineService manages the facility's equipment and its maintenance plan.
type MachineService struct {
	store     MachineStore
	validator ReferenceValidator
	logger    *slog.Logger
}

func NewMachineService(store MachineStore) *MachineService {
	return NewMachineServiceWithLogger(store, nil)
}

func NewMachineServiceWithLogger(store MachineStore, logger *slog.Logger) *MachineService {
	return &MachineService{store: store, validator: NewReferenceValidator(store), logger: defaultLogger(logger)}
}

func (s *MachineService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MachineService", operation, attrs...)
}

func (s *MachineService) ready() error {
	if s == nil {
		return fmt.Errorf("MachineService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("machine store not configured")
	}
	return nil
}

// AddMachine validates the machine type and maintenance references and stores
// the machine.
func (s *MachineService) AddMachine(ctx context.Context, params AddMachineParams) (machine Machine, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AddMachine", "type_id", params.TypeID)
	defer func() {
		logOutcome(ctx, logger, err, "failed to add machine", "machine added", "machine_id", machine.ID)
	}()

	id, vErr := resolveID("machine_id", params.ID)
	if vErr == nil {
		vErr = &ValidationError{}
	}
	name := requireName(vErr, "machine_name", params.Name)
	requireNonNegative(vErr, "machine_hours", params.Hours)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.validator.Require(ctx, persistence.KindMachineType, "machine_type", params.TypeID); err != nil {
		return
	}
	if err = s.validator.RequireAll(ctx, persistence.KindMaintenance, "maintenance_ids", params.MaintenanceIDs); err != nil {
		return
	}

	machine, err = s.store.CreateMachine(ctx, Machine{
		ID:             id,
		Name:           name,
		TypeID:         params.TypeID,
		Hours:          params.Hours,
		MaintenanceIDs: params.MaintenanceIDs,
	})
	err = mapEntityError(err, "machine", id)
	return
}

func (s *MachineService) GetMachine(ctx context.Context, id int64) (Machine, error) {
	if err := s.ready(); err != nil {
		return Machine{}, err
	}
	machine, err := s.store.GetMachine(ctx, id)
	return machine, mapEntityError(err, "machine", id)
}

func (s *MachineService) ListMachines(ctx context.Context) ([]Machine, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	machines, err := s.store.ListMachines(ctx)
	return machines, mapStoreError(err)
}

func (s *MachineService) SetMachineName(ctx context.Context, id int64, name string) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetMachineName", "machine_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to rename machine", "machine renamed") }()

	vErr := &ValidationError{}
	name = requireName(vErr, "machine_name", name)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	err = mapStoreError(s.store.UpdateMachineName(ctx, id, name))
	return
}

// SetMachineType moves the machine to another existing type.
func (s *MachineService) SetMachineType(ctx context.Context, id, typeID int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetMachineType", "machine_id", id, "type_id", typeID)
	defer func() { logOutcome(ctx, logger, err, "failed to set machine type", "machine type set") }()

	if err = s.validator.Require(ctx, persistence.KindMachineType, "machine_type", typeID); err != nil {
		return
	}
	err = mapStoreError(s.store.UpdateMachineType(ctx, id, typeID))
	return
}

// SetMachineHours overwrites the hour meter.
func (s *MachineService) SetMachineHours(ctx context.Context, id int64, hours float64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "SetMachineHours", "machine_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to set machine hours", "machine hours set") }()

	vErr := &ValidationError{}
	requireNonNegative(vErr, "machine_hours", hours)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	err = mapStoreError(s.store.UpdateMachineHours(ctx, id, hours))
	return
}

// AddMachineMaintenance attaches an existing maintenance definition.
// Attaching the same definition twice has no further effect.
func (s *MachineService) AddMachineMaintenance(ctx context.Context, id, maintenanceID int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AddMachineMaintenance", "machine_id", id, "maintenance_id", maintenanceID)
	defer func() { logOutcome(ctx, logger, err, "failed to attach maintenance", "maintenance attached") }()

	if err = s.validator.Require(ctx, persistence.KindMaintenance, "maintenance_id", maintenanceID); err != nil {
		return
	}
	err = mapStoreError(s.store.AddMachineMaintenance(ctx, id, maintenanceID))
	return
}

func (s *MachineService) RemoveMachineMaintenance(ctx context.Context, id, maintenanceID int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "RemoveMachineMaintenance", "machine_id", id, "maintenance_id", maintenanceID)
	defer func() { logOutcome(ctx, logger, err, "failed to detach maintenance", "maintenance detached") }()

	if err = s.validator.Require(ctx, persistence.KindMaintenance, "maintenance_id", maintenanceID); err != nil {
		return
	}
	err = mapStoreError(s.store.RemoveMachineMaintenance(ctx, id, maintenanceID))
	return
}

// GetMachineMaintenances resolves the maintenance definitions attached to the
// machine, skipping ones that have since been removed.
func (s *MachineService) GetMachineMaintenances(ctx context.Context, id int64) ([]Maintenance, error) {
	machine, err := s.GetMachine(ctx, id)
	if err != nil {
		return nil, err
	}
	maintenances := make([]Maintenance, 0, len(machine.MaintenanceIDs))
	for _, maintenanceID := range machine.MaintenanceIDs {
		maintenance, err := s.store.GetMaintenance(ctx, maintenanceID)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, mapStoreError(err)
		}
		maintenances = append(maintenances, maintenance)
	}
	return maintenances, nil
}

// RemoveMachine deletes the machine. Its sessions and interventions are kept.
func (s *MachineService) RemoveMachine(ctx context.Context, id int64) (err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "RemoveMachine", "machine_id", id)
	defer func() { logOutcome(ctx, logger, err, "failed to remove machine", "machine removed") }()

	err = mapStoreError(s.store.DeleteMachine(ctx, id))
	return
}
