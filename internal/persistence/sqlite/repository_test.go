package sqlite

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/example/fablab-backend/internal/persistence"
)

func TestStore_RoleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateRole(ctx, persistence.Role{ID: 7, Name: "admin", AuthorizeAll: true})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	got, err := store.GetRole(ctx, 7)
	if err != nil {
		t.Fatalf("GetRole failed: %v", err)
	}
	if got != created {
		t.Fatalf("expected %+v, got %+v", created, got)
	}

	if err := store.UpdateRoleName(ctx, 7, "staff"); err != nil {
		t.Fatalf("UpdateRoleName failed: %v", err)
	}
	if err := store.UpdateRoleAuthorizeAll(ctx, 7, false); err != nil {
		t.Fatalf("UpdateRoleAuthorizeAll failed: %v", err)
	}
	got, _ = store.GetRole(ctx, 7)
	if got.Name != "staff" || got.AuthorizeAll {
		t.Fatalf("expected updated role, got %+v", got)
	}

	// Updating a missing id is a silent no-op.
	if err := store.UpdateRoleName(ctx, 99, "ghost"); err != nil {
		t.Fatalf("expected no error for missing id, got %v", err)
	}

	if err := store.DeleteRole(ctx, 7); err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}
	if _, err := store.GetRole(ctx, 7); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UserLookups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	card := "04:a2:19:7c"
	role := int64(1)
	created, err := store.CreateUser(ctx, persistence.User{
		ID:               persistence.AutoID,
		Name:             "Ada",
		Surname:          "Lovelace",
		RoleID:           &role,
		AuthorizationIDs: []int64{3, 1, 3},
		CardUUID:         &card,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if created.ID != 0 {
		t.Fatalf("expected first user id 0, got %d", created.ID)
	}
	if !reflect.DeepEqual(created.AuthorizationIDs, []int64{1, 3}) {
		t.Fatalf("expected deduplicated grants [1 3], got %v", created.AuthorizationIDs)
	}

	byCard, err := store.GetUserByCard(ctx, card)
	if err != nil {
		t.Fatalf("GetUserByCard failed: %v", err)
	}
	if byCard.ID != created.ID || byCard.RoleID == nil || *byCard.RoleID != 1 {
		t.Fatalf("unexpected user by card: %+v", byCard)
	}

	byName, err := store.FindUserByName(ctx, "Ada", "Lovelace")
	if err != nil {
		t.Fatalf("FindUserByName failed: %v", err)
	}
	if byName.ID != created.ID {
		t.Fatalf("expected user %d, got %d", created.ID, byName.ID)
	}

	if _, err := store.FindUserByName(ctx, "ada", "lovelace"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected case-sensitive miss, got %v", err)
	}

	_, err = store.CreateUser(ctx, persistence.User{ID: persistence.AutoID, Name: "Eve", Surname: "X", CardUUID: &card})
	if !errors.Is(err, persistence.ErrCardInUse) {
		t.Fatalf("expected ErrCardInUse, got %v", err)
	}
}

func TestStore_ReplaceUserAuthorizations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, persistence.User{ID: 5, Name: "Grace", Surname: "Hopper", AuthorizationIDs: []int64{1}}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := store.ReplaceUserAuthorizations(ctx, 5, []int64{2, 4}); err != nil {
		t.Fatalf("ReplaceUserAuthorizations failed: %v", err)
	}
	got, _ := store.GetUser(ctx, 5)
	if !reflect.DeepEqual(got.AuthorizationIDs, []int64{2, 4}) {
		t.Fatalf("expected grants [2 4], got %v", got.AuthorizationIDs)
	}

	if err := store.ReplaceUserAuthorizations(ctx, 5, nil); err != nil {
		t.Fatalf("ReplaceUserAuthorizations failed: %v", err)
	}
	got, _ = store.GetUser(ctx, 5)
	if len(got.AuthorizationIDs) != 0 {
		t.Fatalf("expected empty grants, got %v", got.AuthorizationIDs)
	}

	// Replacing grants of a missing user must not create orphan rows.
	if err := store.ReplaceUserAuthorizations(ctx, 42, []int64{1}); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
}

func TestStore_UserReadsSeeWholeGrantSets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	full := []int64{1, 2, 3, 4}
	if _, err := store.CreateUser(ctx, persistence.User{ID: 5, Name: "Grace", Surname: "Hopper", AuthorizationIDs: full}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			grants := full
			if i%2 == 0 {
				grants = nil
			}
			if err := store.ReplaceUserAuthorizations(ctx, 5, grants); err != nil {
				t.Errorf("ReplaceUserAuthorizations failed: %v", err)
				return
			}
		}
	}()

	whole := func(got []int64) bool {
		return len(got) == 0 || reflect.DeepEqual(got, full)
	}
	for i := 0; i < 50; i++ {
		user, err := store.GetUser(ctx, 5)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if !whole(user.AuthorizationIDs) {
			t.Fatalf("GetUser saw a partial grant set %v", user.AuthorizationIDs)
		}
		users, err := store.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 1 || !whole(users[0].AuthorizationIDs) {
			t.Fatalf("ListUsers saw a partial grant set %+v", users)
		}
	}
	wg.Wait()
}

func TestStore_MachineMaintenanceSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateMachine(ctx, persistence.Machine{ID: 0, Name: "Laser", TypeID: 1, MaintenanceIDs: []int64{2}}); err != nil {
		t.Fatalf("CreateMachine failed: %v", err)
	}

	for _, id := range []int64{5, 2, 5} {
		if err := store.AddMachineMaintenance(ctx, 0, id); err != nil {
			t.Fatalf("AddMachineMaintenance failed: %v", err)
		}
	}
	got, _ := store.GetMachine(ctx, 0)
	if !reflect.DeepEqual(got.MaintenanceIDs, []int64{2, 5}) {
		t.Fatalf("expected maintenance set [2 5], got %v", got.MaintenanceIDs)
	}

	if err := store.RemoveMachineMaintenance(ctx, 0, 2); err != nil {
		t.Fatalf("RemoveMachineMaintenance failed: %v", err)
	}
	if err := store.AddMachineMaintenance(ctx, 9, 1); err != nil {
		t.Fatalf("expected no-op on missing machine, got %v", err)
	}

	machines, err := store.ListMachines(ctx)
	if err != nil {
		t.Fatalf("ListMachines failed: %v", err)
	}
	if len(machines) != 1 || !reflect.DeepEqual(machines[0].MaintenanceIDs, []int64{5}) {
		t.Fatalf("unexpected machines: %+v", machines)
	}
}

func TestStore_DeleteLeavesDanglingReferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateMachineType(ctx, persistence.MachineType{ID: 1, Name: "CNC"}); err != nil {
		t.Fatalf("CreateMachineType failed: %v", err)
	}
	if _, err := store.CreateMachine(ctx, persistence.Machine{ID: 3, Name: "Router", TypeID: 1}); err != nil {
		t.Fatalf("CreateMachine failed: %v", err)
	}
	if err := store.DeleteMachineType(ctx, 1); err != nil {
		t.Fatalf("DeleteMachineType failed: %v", err)
	}

	machine, err := store.GetMachine(ctx, 3)
	if err != nil {
		t.Fatalf("GetMachine failed: %v", err)
	}
	if machine.TypeID != 1 {
		t.Fatalf("expected dangling type id 1, got %d", machine.TypeID)
	}
}

func TestStore_MaintenanceDescriptionIsNullable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	desc := "replace belt"
	if _, err := store.CreateMaintenance(ctx, persistence.Maintenance{ID: persistence.AutoID, HoursBetween: 50, Description: &desc}); err != nil {
		t.Fatalf("CreateMaintenance failed: %v", err)
	}
	if err := store.UpdateMaintenanceDescription(ctx, 0, nil); err != nil {
		t.Fatalf("UpdateMaintenanceDescription failed: %v", err)
	}

	got, err := store.GetMaintenance(ctx, 0)
	if err != nil {
		t.Fatalf("GetMaintenance failed: %v", err)
	}
	if got.Description != nil {
		t.Fatalf("expected nil description, got %q", *got.Description)
	}
	if got.HoursBetween != 50 {
		t.Fatalf("expected 50 hours, got %v", got.HoursBetween)
	}
}
