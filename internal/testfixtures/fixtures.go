package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/fablab-backend/internal/application"
	"github.com/example/fablab-backend/internal/persistence"
)

var (
	userCounter    uint64
	machineCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic user record that can be materialised
// for application or persistence tests.
type UserFixture struct {
	ID               int64
	Name             string
	Surname          string
	RoleID           *int64
	AuthorizationIDs []int64
	CardUUID         *string
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
// The generated id is persistence.AutoID; pin one with WithUserID.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	fixture := UserFixture{
		ID:      persistence.AutoID,
		Name:    fmt.Sprintf("Member%03d", idx),
		Surname: "Tester",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID pins the user id.
func WithUserID(id int64) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserName overrides name and surname.
func WithUserName(name, surname string) UserOption {
	return func(f *UserFixture) {
		f.Name = name
		f.Surname = surname
	}
}

// WithUserRole assigns a role id.
func WithUserRole(roleID int64) UserOption {
	return func(f *UserFixture) {
		f.RoleID = &roleID
	}
}

// WithUserAuthorizations sets the granted machine type ids.
func WithUserAuthorizations(typeIDs ...int64) UserOption {
	return func(f *UserFixture) {
		f.AuthorizationIDs = append([]int64(nil), typeIDs...)
	}
}

// WithUserCard binds an access card.
func WithUserCard(cardUUID string) UserOption {
	return func(f *UserFixture) {
		f.CardUUID = &cardUUID
	}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:               f.ID,
		Name:             f.Name,
		Surname:          f.Surname,
		RoleID:           f.RoleID,
		AuthorizationIDs: f.AuthorizationIDs,
		CardUUID:         f.CardUUID,
	}
}

// Params returns the fixture as application.AddUserParams.
func (f UserFixture) Params() application.AddUserParams {
	params := application.AddUserParams{
		Name:             f.Name,
		Surname:          f.Surname,
		RoleID:           f.RoleID,
		CardUUID:         f.CardUUID,
		AuthorizationIDs: f.AuthorizationIDs,
	}
	if f.ID != persistence.AutoID {
		params.ID = Int64(f.ID)
	}
	return params
}

// ----------------------------- Machine fixtures -----------------------------

// MachineFixture represents a deterministic machine record.
type MachineFixture struct {
	ID             int64
	Name           string
	TypeID         int64
	Hours          float64
	MaintenanceIDs []int64
}

// MachineOption configures the generated machine fixture.
type MachineOption func(*MachineFixture)

// NewMachineFixture returns a deterministic machine fixture of type 0.
func NewMachineFixture(opts ...MachineOption) MachineFixture {
	idx := atomic.AddUint64(&machineCounter, 1)
	fixture := MachineFixture{
		ID:   persistence.AutoID,
		Name: fmt.Sprintf("MACHINE%03d", idx),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithMachineID(id int64) MachineOption {
	return func(f *MachineFixture) {
		f.ID = id
	}
}

func WithMachineName(name string) MachineOption {
	return func(f *MachineFixture) {
		f.Name = name
	}
}

func WithMachineType(typeID int64) MachineOption {
	return func(f *MachineFixture) {
		f.TypeID = typeID
	}
}

func WithMachineHours(hours float64) MachineOption {
	return func(f *MachineFixture) {
		f.Hours = hours
	}
}

func WithMachineMaintenances(ids ...int64) MachineOption {
	return func(f *MachineFixture) {
		f.MaintenanceIDs = append([]int64(nil), ids...)
	}
}

// Persistence returns the fixture as a persistence.Machine value.
func (f MachineFixture) Persistence() persistence.Machine {
	return persistence.Machine{
		ID:             f.ID,
		Name:           f.Name,
		TypeID:         f.TypeID,
		Hours:          f.Hours,
		MaintenanceIDs: f.MaintenanceIDs,
	}
}

// Params returns the fixture as application.AddMachineParams.
func (f MachineFixture) Params() application.AddMachineParams {
	params := application.AddMachineParams{
		Name:           f.Name,
		TypeID:         f.TypeID,
		Hours:          f.Hours,
		MaintenanceIDs: f.MaintenanceIDs,
	}
	if f.ID != persistence.AutoID {
		params.ID = Int64(f.ID)
	}
	return params
}

// ----------------------------- Seeded fablab -----------------------------

// Card UUIDs bound to the seeded users.
const (
	AdminCard  = "0a:1b:2c:3d"
	MemberCard = "4e:5f:60:71"
)

// Fablab is the canonical seeded facility:
//
//	role 0 "admin" (authorize all), role 1 "user"
//	machine type 0 "drill", machine type 1 "laser"
//	machine 0 "DRILL0" (type 0), machine 1 "LASER0" (type 1)
//	maintenance 0 every 100h "oil the chuck", attached to DRILL0
//	user 0 Mario Rossi (admin, AdminCard), user 1 Luigi Verdi (user, MemberCard, no grants)
type Fablab struct {
	AdminRole   persistence.Role
	UserRole    persistence.Role
	Drill       persistence.MachineType
	Laser       persistence.MachineType
	DrillPress  persistence.Machine
	LaserCutter persistence.Machine
	Oiling      persistence.Maintenance
	Admin       persistence.User
	Member      persistence.User
}

// SeedFablab writes the canonical fixture set directly through the store.
func SeedFablab(tb testing.TB, store persistence.Store) Fablab {
	tb.Helper()
	ctx := context.Background()

	must := func(err error) {
		tb.Helper()
		if err != nil {
			tb.Fatalf("failed to seed fablab: %v", err)
		}
	}

	var (
		f   Fablab
		err error
	)
	f.AdminRole, err = store.CreateRole(ctx, persistence.Role{ID: 0, Name: "admin", AuthorizeAll: true})
	must(err)
	f.UserRole, err = store.CreateRole(ctx, persistence.Role{ID: 1, Name: "user"})
	must(err)
	f.Drill, err = store.CreateMachineType(ctx, persistence.MachineType{ID: 0, Name: "drill"})
	must(err)
	f.Laser, err = store.CreateMachineType(ctx, persistence.MachineType{ID: 1, Name: "laser"})
	must(err)

	description := "oil the chuck"
	f.Oiling, err = store.CreateMaintenance(ctx, persistence.Maintenance{ID: 0, HoursBetween: 100, Description: &description})
	must(err)

	f.DrillPress, err = store.CreateMachine(ctx, NewMachineFixture(
		WithMachineID(0), WithMachineName("DRILL0"), WithMachineType(0), WithMachineMaintenances(0),
	).Persistence())
	must(err)
	f.LaserCutter, err = store.CreateMachine(ctx, NewMachineFixture(
		WithMachineID(1), WithMachineName("LASER0"), WithMachineType(1),
	).Persistence())
	must(err)

	f.Admin, err = store.CreateUser(ctx, NewUserFixture(
		WithUserID(0), WithUserName("Mario", "Rossi"), WithUserRole(0), WithUserCard(AdminCard),
	).Persistence())
	must(err)
	f.Member, err = store.CreateUser(ctx, NewUserFixture(
		WithUserID(1), WithUserName("Luigi", "Verdi"), WithUserRole(1), WithUserCard(MemberCard),
	).Persistence())
	must(err)

	return f
}
