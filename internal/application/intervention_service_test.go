package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/fablab-backend/internal/application"
)

func TestInterventionService(t *testing.T) {
	t.Parallel()

	env, fablab := newSeededEnv(t)
	ctx := context.Background()
	interventions := env.services.Interventions

	first, err := interventions.AddIntervention(ctx, application.AddInterventionParams{
		MaintenanceID: fablab.Oiling.ID,
		MachineID:     fablab.DrillPress.ID,
		UserID:        fablab.Admin.ID,
	})
	if err != nil {
		t.Fatalf("AddIntervention returned error: %v", err)
	}
	if !first.Timestamp.Equal(env.factory.Clock.Now()) {
		t.Fatalf("expected timestamp to default to now, got %v", first.Timestamp)
	}

	_, err = interventions.AddIntervention(ctx, application.AddInterventionParams{
		MaintenanceID: fablab.Oiling.ID,
		MachineID:     fablab.LaserCutter.ID,
		UserID:        fablab.Member.ID,
		Timestamp:     env.factory.Clock.At(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("AddIntervention returned error: %v", err)
	}

	got, err := interventions.GetIntervention(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetIntervention returned error: %v", err)
	}
	if got.MachineID != fablab.DrillPress.ID || got.UserID != fablab.Admin.ID {
		t.Fatalf("unexpected intervention %+v", got)
	}

	all, err := interventions.ListInterventions(ctx)
	if err != nil {
		t.Fatalf("ListInterventions returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 interventions, got %d", len(all))
	}

	drill, err := interventions.ListMachineInterventions(ctx, fablab.DrillPress.ID)
	if err != nil {
		t.Fatalf("ListMachineInterventions returned error: %v", err)
	}
	if len(drill) != 1 || drill[0].ID != first.ID {
		t.Fatalf("expected only the drill intervention, got %+v", drill)
	}

	far := time.Date(1600, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, err = interventions.AddIntervention(ctx, application.AddInterventionParams{
		MaintenanceID: fablab.Oiling.ID,
		MachineID:     fablab.DrillPress.ID,
		UserID:        fablab.Admin.ID,
		Timestamp:     &far,
	})
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) || vErr.FieldErrors["timestamp"] == "" {
		t.Fatalf("expected timestamp ValidationError, got %v", err)
	}
	if all, _ := interventions.ListInterventions(ctx); len(all) != 2 {
		t.Fatalf("expected the rejected intervention not to be stored, have %d", len(all))
	}

	tests := []struct {
		name   string
		params application.AddInterventionParams
		field  string
	}{
		{name: "maintenance", params: application.AddInterventionParams{MaintenanceID: 9, MachineID: 0, UserID: 0}, field: "maintenance_id"},
		{name: "machine", params: application.AddInterventionParams{MaintenanceID: 0, MachineID: 9, UserID: 0}, field: "machine_id"},
		{name: "user", params: application.AddInterventionParams{MaintenanceID: 0, MachineID: 0, UserID: 9}, field: "user_id"},
	}
	for _, tt := range tests {
		t.Run("unknown "+tt.name, func(t *testing.T) {
			_, err := interventions.AddIntervention(ctx, tt.params)
			var idErr *application.IDError
			if !errors.As(err, &idErr) || idErr.Field != tt.field {
				t.Fatalf("expected IDError on %s, got %v", tt.field, err)
			}
		})
	}
}
