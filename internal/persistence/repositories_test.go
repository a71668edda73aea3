package persistence_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/example/fablab-backend/internal/persistence"
	"github.com/example/fablab-backend/internal/testfixtures"
)

// Each case inserts one entity with an explicit id and one with AutoID, reads
// both back and checks a duplicate insert leaves the collection unchanged.
func TestStore_Contract(t *testing.T) {
	t.Parallel()

	base := testfixtures.ReferenceTime()
	description := "lubricate rails"

	type entityCase struct {
		name   string
		kind   persistence.Kind
		insert func(ctx context.Context, store persistence.Store, id int64) (int64, error)
		check  func(t *testing.T, ctx context.Context, store persistence.Store, id int64)
		count  func(ctx context.Context, store persistence.Store) (int, error)
	}

	cases := []entityCase{
		{
			name: "role",
			kind: persistence.KindRole,
			insert: func(ctx context.Context, store persistence.Store, id int64) (int64, error) {
				role, err := store.CreateRole(ctx, persistence.Role{ID: id, Name: "admin", AuthorizeAll: true})
				return role.ID, err
			},
			check: func(t *testing.T, ctx context.Context, store persistence.Store, id int64) {
				got, err := store.GetRole(ctx, id)
				if err != nil {
					t.Fatalf("GetRole failed: %v", err)
				}
				if got != (persistence.Role{ID: id, Name: "admin", AuthorizeAll: true}) {
					t.Fatalf("unexpected role %+v", got)
				}
			},
			count: func(ctx context.Context, store persistence.Store) (int, error) {
				roles, err := store.ListRoles(ctx)
				return len(roles), err
			},
		},
		{
			name: "machine type",
			kind: persistence.KindMachineType,
			insert: func(ctx context.Context, store persistence.Store, id int64) (int64, error) {
				machineType, err := store.CreateMachineType(ctx, persistence.MachineType{ID: id, Name: "drill"})
				return machineType.ID, err
			},
			check: func(t *testing.T, ctx context.Context, store persistence.Store, id int64) {
				got, err := store.GetMachineType(ctx, id)
				if err != nil {
					t.Fatalf("GetMachineType failed: %v", err)
				}
				if got != (persistence.MachineType{ID: id, Name: "drill"}) {
					t.Fatalf("unexpected machine type %+v", got)
				}
			},
			count: func(ctx context.Context, store persistence.Store) (int, error) {
				types, err := store.ListMachineTypes(ctx)
				return len(types), err
			},
		},
		{
			name: "user",
			kind: persistence.KindUser,
			insert: func(ctx context.Context, store persistence.Store, id int64) (int64, error) {
				user := testfixtures.NewUserFixture(
					testfixtures.WithUserID(id),
					testfixtures.WithUserName("Mario", "Rossi"),
					testfixtures.WithUserRole(0),
					testfixtures.WithUserAuthorizations(2, 1),
				).Persistence()
				user, err := store.CreateUser(ctx, user)
				return user.ID, err
			},
			check: func(t *testing.T, ctx context.Context, store persistence.Store, id int64) {
				got, err := store.GetUser(ctx, id)
				if err != nil {
					t.Fatalf("GetUser failed: %v", err)
				}
				if got.Name != "Mario" || got.Surname != "Rossi" || got.RoleID == nil || *got.RoleID != 0 || got.CardUUID != nil {
					t.Fatalf("unexpected user %+v", got)
				}
				if !slices.Equal(got.AuthorizationIDs, []int64{1, 2}) {
					t.Fatalf("unexpected authorizations %v", got.AuthorizationIDs)
				}
			},
			count: func(ctx context.Context, store persistence.Store) (int, error) {
				users, err := store.ListUsers(ctx)
				return len(users), err
			},
		},
		{
			name: "machine",
			kind: persistence.KindMachine,
			insert: func(ctx context.Context, store persistence.Store, id int64) (int64, error) {
				machine, err := store.CreateMachine(ctx, testfixtures.NewMachineFixture(
					testfixtures.WithMachineID(id),
					testfixtures.WithMachineName("DRILL0"),
					testfixtures.WithMachineHours(3.5),
					testfixtures.WithMachineMaintenances(4),
				).Persistence())
				return machine.ID, err
			},
			check: func(t *testing.T, ctx context.Context, store persistence.Store, id int64) {
				got, err := store.GetMachine(ctx, id)
				if err != nil {
					t.Fatalf("GetMachine failed: %v", err)
				}
				if got.Name != "DRILL0" || got.TypeID != 0 || got.Hours != 3.5 || !slices.Equal(got.MaintenanceIDs, []int64{4}) {
					t.Fatalf("unexpected machine %+v", got)
				}
			},
			count: func(ctx context.Context, store persistence.Store) (int, error) {
				machines, err := store.ListMachines(ctx)
				return len(machines), err
			},
		},
		{
			name: "maintenance",
			kind: persistence.KindMaintenance,
			insert: func(ctx context.Context, store persistence.Store, id int64) (int64, error) {
				maintenance, err := store.CreateMaintenance(ctx, persistence.Maintenance{ID: id, HoursBetween: 100, Description: &description})
				return maintenance.ID, err
			},
			check: func(t *testing.T, ctx context.Context, store persistence.Store, id int64) {
				got, err := store.GetMaintenance(ctx, id)
				if err != nil {
					t.Fatalf("GetMaintenance failed: %v", err)
				}
				if got.HoursBetween != 100 || got.Description == nil || *got.Description != description {
					t.Fatalf("unexpected maintenance %+v", got)
				}
			},
			count: func(ctx context.Context, store persistence.Store) (int, error) {
				maintenances, err := store.ListMaintenances(ctx)
				return len(maintenances), err
			},
		},
		{
			name: "intervention",
			kind: persistence.KindIntervention,
			insert: func(ctx context.Context, store persistence.Store, id int64) (int64, error) {
				intervention, err := store.CreateIntervention(ctx, persistence.Intervention{
					ID: id, MaintenanceID: 1, MachineID: 2, UserID: 3, Timestamp: base,
				})
				return intervention.ID, err
			},
			check: func(t *testing.T, ctx context.Context, store persistence.Store, id int64) {
				got, err := store.GetIntervention(ctx, id)
				if err != nil {
					t.Fatalf("GetIntervention failed: %v", err)
				}
				if got.MaintenanceID != 1 || got.MachineID != 2 || got.UserID != 3 || !got.Timestamp.Equal(base) {
					t.Fatalf("unexpected intervention %+v", got)
				}
			},
			count: func(ctx context.Context, store persistence.Store) (int, error) {
				interventions, err := store.ListInterventions(ctx, persistence.InterventionFilter{})
				return len(interventions), err
			},
		},
		{
			name: "usage session",
			kind: persistence.KindUsageSession,
			insert: func(ctx context.Context, store persistence.Store, id int64) (int64, error) {
				// Each session uses its own machine so both can be active.
				machineID := id + 100
				session, err := store.StartSession(ctx, persistence.UsageSession{
					ID: id, UserID: 1, MachineID: machineID, Start: base,
				})
				return session.ID, err
			},
			check: func(t *testing.T, ctx context.Context, store persistence.Store, id int64) {
				sessions, err := store.ListSessions(ctx, persistence.SessionFilter{})
				if err != nil {
					t.Fatalf("ListSessions failed: %v", err)
				}
				idx := slices.IndexFunc(sessions, func(s persistence.UsageSession) bool { return s.ID == id })
				if idx < 0 {
					t.Fatalf("session %d not found in %+v", id, sessions)
				}
				got := sessions[idx]
				if got.UserID != 1 || !got.Start.Equal(base) || !got.Active() {
					t.Fatalf("unexpected session %+v", got)
				}
			},
			count: func(ctx context.Context, store persistence.Store) (int, error) {
				sessions, err := store.ListSessions(ctx, persistence.SessionFilter{})
				return len(sessions), err
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			harness := testfixtures.NewSQLiteHarness(t)
			store := harness.Store

			next, err := store.NextID(ctx, tc.kind)
			if err != nil {
				t.Fatalf("NextID failed: %v", err)
			}
			if next != 0 {
				t.Fatalf("expected empty collection to allocate 0, got %d", next)
			}

			explicit, err := tc.insert(ctx, store, 5)
			if err != nil {
				t.Fatalf("insert with explicit id failed: %v", err)
			}
			if explicit != 5 {
				t.Fatalf("expected id 5, got %d", explicit)
			}
			tc.check(t, ctx, store, explicit)

			auto, err := tc.insert(ctx, store, persistence.AutoID)
			if err != nil {
				t.Fatalf("insert with automatic id failed: %v", err)
			}
			if auto != 6 {
				t.Fatalf("expected automatic id 6, got %d", auto)
			}
			tc.check(t, ctx, store, auto)

			_, err = tc.insert(ctx, store, 5)
			if !errors.Is(err, persistence.ErrDuplicate) && !errors.Is(err, persistence.ErrActiveSession) {
				t.Fatalf("expected duplicate insert to fail, got %v", err)
			}
			n, err := tc.count(ctx, store)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected collection size 2 after rejected duplicate, got %d", n)
			}

			exists, err := store.Exists(ctx, tc.kind, 5)
			if err != nil || !exists {
				t.Fatalf("expected id 5 to exist, got %v (err %v)", exists, err)
			}
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness, fablab := testfixtures.NewSeededHarness(t)

	for i := 0; i < 2; i++ {
		if err := harness.Store.DeleteMachine(ctx, fablab.DrillPress.ID); err != nil {
			t.Fatalf("DeleteMachine attempt %d failed: %v", i+1, err)
		}
	}
	if _, err := harness.Store.GetMachine(ctx, fablab.DrillPress.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The type the machine referenced is untouched.
	if _, err := harness.Store.GetMachineType(ctx, fablab.Drill.ID); err != nil {
		t.Fatalf("expected machine type to survive, got %v", err)
	}
}

func TestStore_SessionDurations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness, fablab := testfixtures.NewSeededHarness(t)
	start, end := testfixtures.NewClock(time.Time{}).Span(2 * time.Hour)

	if _, err := harness.Store.StartSession(ctx, persistence.UsageSession{
		ID: persistence.AutoID, UserID: fablab.Member.ID, MachineID: fablab.LaserCutter.ID, Start: start,
	}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	closed, err := harness.Store.EndSession(ctx, fablab.LaserCutter.ID, fablab.Member.ID, end)
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if closed.Duration() != 2*time.Hour {
		t.Fatalf("expected 2h, got %v", closed.Duration())
	}

	machine, err := harness.Store.GetMachine(ctx, fablab.LaserCutter.ID)
	if err != nil {
		t.Fatalf("GetMachine failed: %v", err)
	}
	if machine.Hours != fablab.LaserCutter.Hours {
		t.Fatalf("expected machine hours to stay at %v, got %v", fablab.LaserCutter.Hours, machine.Hours)
	}
}
