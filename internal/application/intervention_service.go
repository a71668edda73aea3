package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fablab-backend/internal/persistence"
)

// InterventionStore is the persistence surface the intervention log needs.
type InterventionStore interface {
	persistence.ReferenceChecker
	persistence.InterventionRepository
}

// InterventionService records completed maintenance work. Entries are never
// changed once written.
type InterventionService struct {
	store     InterventionStore
	validator ReferenceValidator
	now       func() time.Time
	logger    *slog.Logger
}

func NewInterventionService(store InterventionStore, now func() time.Time) *InterventionService {
	return NewInterventionServiceWithLogger(store, now, nil)
}

func NewInterventionServiceWithLogger(store InterventionStore, now func() time.Time, logger *slog.Logger) *InterventionService {
	if now == nil {
		now = time.Now
	}
	return &InterventionService{store: store, validator: NewReferenceValidator(store), now: now, logger: defaultLogger(logger)}
}

func (s *InterventionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "InterventionService", operation, attrs...)
}

func (s *InterventionService) ready() error {
	if s == nil {
		return fmt.Errorf("InterventionService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("intervention store not configured")
	}
	return nil
}

// AddIntervention logs a maintenance task performed by a user on a machine.
func (s *InterventionService) AddIntervention(ctx context.Context, params AddInterventionParams) (intervention Intervention, err error) {
	if err = s.ready(); err != nil {
		return
	}
	logger := s.loggerWith(ctx, "AddIntervention",
		"maintenance_id", params.MaintenanceID,
		"machine_id", params.MachineID,
		"user_id", params.UserID,
	)
	defer func() {
		logOutcome(ctx, logger, err, "failed to add intervention", "intervention added", "intervention_id", intervention.ID)
	}()

	ts := s.now()
	if params.Timestamp != nil {
		ts = *params.Timestamp
	}

	id, vErr := resolveID("intervention_id", params.ID)
	if vErr == nil {
		vErr = timestampError(ts)
	} else {
		vErr.merge(timestampError(ts))
	}
	if vErr != nil {
		err = vErr
		return
	}
	if err = s.validator.Require(ctx, persistence.KindMaintenance, "maintenance_id", params.MaintenanceID); err != nil {
		return
	}
	if err = s.validator.Require(ctx, persistence.KindMachine, "machine_id", params.MachineID); err != nil {
		return
	}
	if err = s.validator.Require(ctx, persistence.KindUser, "user_id", params.UserID); err != nil {
		return
	}

	intervention, err = s.store.CreateIntervention(ctx, Intervention{
		ID:            id,
		MaintenanceID: params.MaintenanceID,
		MachineID:     params.MachineID,
		UserID:        params.UserID,
		Timestamp:     ts,
	})
	err = mapEntityError(err, "intervention", id)
	return
}

func (s *InterventionService) GetIntervention(ctx context.Context, id int64) (Intervention, error) {
	if err := s.ready(); err != nil {
		return Intervention{}, err
	}
	intervention, err := s.store.GetIntervention(ctx, id)
	return intervention, mapEntityError(err, "intervention", id)
}

// ListInterventions returns the whole log in chronological order.
func (s *InterventionService) ListInterventions(ctx context.Context) ([]Intervention, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	interventions, err := s.store.ListInterventions(ctx, persistence.InterventionFilter{})
	return interventions, mapStoreError(err)
}

// ListMachineInterventions returns the log entries of one machine.
func (s *InterventionService) ListMachineInterventions(ctx context.Context, machineID int64) ([]Intervention, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.validator.Require(ctx, persistence.KindMachine, "machine_id", machineID); err != nil {
		return nil, err
	}
	interventions, err := s.store.ListInterventions(ctx, persistence.InterventionFilter{MachineID: &machineID})
	return interventions, mapStoreError(err)
}
