package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/fablab-backend/internal/application"
	"github.com/example/fablab-backend/internal/testfixtures"
)

func TestMachineService_AddMachine(t *testing.T) {
	t.Parallel()

	t.Run("round trips every field", func(t *testing.T) {
		t.Parallel()
		env, fablab := newSeededEnv(t)
		ctx := context.Background()

		fixture := testfixtures.NewMachineFixture(
			testfixtures.WithMachineName("PRINTER0"),
			testfixtures.WithMachineType(fablab.Laser.ID),
			testfixtures.WithMachineHours(12.25),
			testfixtures.WithMachineMaintenances(fablab.Oiling.ID),
		)
		added, err := env.services.Machines.AddMachine(ctx, fixture.Params())
		if err != nil {
			t.Fatalf("AddMachine returned error: %v", err)
		}
		if added.ID != 2 {
			t.Fatalf("expected next free id 2, got %d", added.ID)
		}

		got, err := env.services.Machines.GetMachine(ctx, added.ID)
		if err != nil {
			t.Fatalf("GetMachine returned error: %v", err)
		}
		if got.Name != "PRINTER0" || got.TypeID != fablab.Laser.ID || got.Hours != 12.25 {
			t.Fatalf("unexpected machine %+v", got)
		}
		if len(got.MaintenanceIDs) != 1 || got.MaintenanceIDs[0] != fablab.Oiling.ID {
			t.Fatalf("unexpected maintenances %v", got.MaintenanceIDs)
		}
	})

	t.Run("rejects an unknown machine type", func(t *testing.T) {
		t.Parallel()
		env, _ := newSeededEnv(t)

		_, err := env.services.Machines.AddMachine(context.Background(),
			testfixtures.NewMachineFixture(testfixtures.WithMachineType(77)).Params())
		if !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if got := application.ErrorKind(err); got != "invalid_id" {
			t.Fatalf("expected invalid_id kind, got %q", got)
		}
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		t.Parallel()
		env, fablab := newSeededEnv(t)

		_, err := env.services.Machines.AddMachine(context.Background(),
			testfixtures.NewMachineFixture(testfixtures.WithMachineID(fablab.DrillPress.ID)).Params())
		if !errors.Is(err, application.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("rejects negative hours", func(t *testing.T) {
		t.Parallel()
		env, _ := newSeededEnv(t)

		_, err := env.services.Machines.AddMachine(context.Background(),
			testfixtures.NewMachineFixture(testfixtures.WithMachineHours(-1)).Params())
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestMachineService_Maintenances(t *testing.T) {
	t.Parallel()

	env, fablab := newSeededEnv(t)
	ctx := context.Background()
	machines := env.services.Machines

	second, err := env.services.Catalog.AddMaintenance(ctx, application.AddMaintenanceParams{HoursBetween: 10})
	if err != nil {
		t.Fatalf("AddMaintenance returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := machines.AddMachineMaintenance(ctx, fablab.DrillPress.ID, second.ID); err != nil {
			t.Fatalf("AddMachineMaintenance returned error: %v", err)
		}
	}
	if err := machines.AddMachineMaintenance(ctx, fablab.DrillPress.ID, 50); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown maintenance, got %v", err)
	}

	got, err := machines.GetMachineMaintenances(ctx, fablab.DrillPress.ID)
	if err != nil {
		t.Fatalf("GetMachineMaintenances returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two distinct maintenances, got %+v", got)
	}

	if err := machines.RemoveMachineMaintenance(ctx, fablab.DrillPress.ID, fablab.Oiling.ID); err != nil {
		t.Fatalf("RemoveMachineMaintenance returned error: %v", err)
	}
	got, err = machines.GetMachineMaintenances(ctx, fablab.DrillPress.ID)
	if err != nil {
		t.Fatalf("GetMachineMaintenances returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != second.ID {
		t.Fatalf("expected only maintenance %d, got %+v", second.ID, got)
	}

	if _, err := machines.GetMachineMaintenances(ctx, 99); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown machine, got %v", err)
	}
}

func TestMachineService_Updates(t *testing.T) {
	t.Parallel()

	env, fablab := newSeededEnv(t)
	ctx := context.Background()
	machines := env.services.Machines

	if err := machines.SetMachineType(ctx, fablab.DrillPress.ID, 9); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown type, got %v", err)
	}
	if err := machines.SetMachineType(ctx, fablab.DrillPress.ID, fablab.Laser.ID); err != nil {
		t.Fatalf("SetMachineType returned error: %v", err)
	}
	if err := machines.SetMachineName(ctx, fablab.DrillPress.ID, "DRILL1"); err != nil {
		t.Fatalf("SetMachineName returned error: %v", err)
	}
	if err := machines.SetMachineHours(ctx, fablab.DrillPress.ID, 3); err != nil {
		t.Fatalf("SetMachineHours returned error: %v", err)
	}
	if err := machines.SetMachineHours(ctx, 99, 3); err != nil {
		t.Fatalf("expected silent no-op on absent machine, got %v", err)
	}

	got, err := machines.GetMachine(ctx, fablab.DrillPress.ID)
	if err != nil {
		t.Fatalf("GetMachine returned error: %v", err)
	}
	if got.Name != "DRILL1" || got.TypeID != fablab.Laser.ID || got.Hours != 3 {
		t.Fatalf("unexpected machine %+v", got)
	}

	if err := machines.RemoveMachine(ctx, fablab.DrillPress.ID); err != nil {
		t.Fatalf("RemoveMachine returned error: %v", err)
	}
	if _, err := machines.GetMachine(ctx, fablab.DrillPress.ID); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}
