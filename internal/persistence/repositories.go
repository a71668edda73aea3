package persistence

import (
	"context"
	"time"
)

// Kind names an entity collection.
type Kind string

const (
	KindRole         Kind = "role"
	KindMachineType  Kind = "machine_type"
	KindUser         Kind = "user"
	KindMachine      Kind = "machine"
	KindMaintenance  Kind = "maintenance"
	KindIntervention Kind = "intervention"
	KindUsageSession Kind = "usage_session"
)

// Kinds lists every entity kind known to the store.
func Kinds() []Kind {
	return []Kind{KindRole, KindMachineType, KindUser, KindMachine, KindMaintenance, KindIntervention, KindUsageSession}
}

// AutoID asks Create* methods to allocate the next free id in the same atomic
// write as the insert.
const AutoID int64 = -1

// IDAllocator reports the next id a kind would receive.
type IDAllocator interface {
	NextID(ctx context.Context, kind Kind) (int64, error)
}

// ReferenceChecker answers whether an id exists in a kind's collection.
type ReferenceChecker interface {
	Exists(ctx context.Context, kind Kind, id int64) (bool, error)
}

// Update* methods silently do nothing when the target id is absent.

// RoleRepository exposes CRUD operations for roles.
type RoleRepository interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRoleName(ctx context.Context, id int64, name string) error
	UpdateRoleAuthorizeAll(ctx context.Context, id int64, authorizeAll bool) error
	DeleteRole(ctx context.Context, id int64) error
}

// MachineTypeRepository exposes CRUD operations for machine types.
type MachineTypeRepository interface {
	CreateMachineType(ctx context.Context, machineType MachineType) (MachineType, error)
	GetMachineType(ctx context.Context, id int64) (MachineType, error)
	ListMachineTypes(ctx context.Context) ([]MachineType, error)
	UpdateMachineTypeName(ctx context.Context, id int64, name string) error
	DeleteMachineType(ctx context.Context, id int64) error
}

// UserRepository exposes CRUD operations for users.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByCard(ctx context.Context, cardUUID string) (User, error)
	FindUserByName(ctx context.Context, name, surname string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserRole(ctx context.Context, id int64, roleID int64) error
	UpdateUserName(ctx context.Context, id int64, name, surname string) error
	UpdateUserCard(ctx context.Context, id int64, cardUUID *string) error
	ReplaceUserAuthorizations(ctx context.Context, id int64, typeIDs []int64) error
	DeleteUser(ctx context.Context, id int64) error
}

// MachineRepository exposes CRUD operations for machines.
type MachineRepository interface {
	CreateMachine(ctx context.Context, machine Machine) (Machine, error)
	GetMachine(ctx context.Context, id int64) (Machine, error)
	ListMachines(ctx context.Context) ([]Machine, error)
	UpdateMachineName(ctx context.Context, id int64, name string) error
	UpdateMachineType(ctx context.Context, id int64, typeID int64) error
	UpdateMachineHours(ctx context.Context, id int64, hours float64) error
	AddMachineMaintenance(ctx context.Context, id int64, maintenanceID int64) error
	RemoveMachineMaintenance(ctx context.Context, id int64, maintenanceID int64) error
	DeleteMachine(ctx context.Context, id int64) error
}

// MaintenanceRepository exposes CRUD operations for maintenance definitions.
type MaintenanceRepository interface {
	CreateMaintenance(ctx context.Context, maintenance Maintenance) (Maintenance, error)
	GetMaintenance(ctx context.Context, id int64) (Maintenance, error)
	ListMaintenances(ctx context.Context) ([]Maintenance, error)
	UpdateMaintenanceDescription(ctx context.Context, id int64, description *string) error
	UpdateMaintenanceHoursBetween(ctx context.Context, id int64, hours float64) error
	DeleteMaintenance(ctx context.Context, id int64) error
}

// InterventionFilter narrows intervention listings.
type InterventionFilter struct {
	MachineID *int64
}

// InterventionRepository stores the append-only intervention log.
type InterventionRepository interface {
	CreateIntervention(ctx context.Context, intervention Intervention) (Intervention, error)
	GetIntervention(ctx context.Context, id int64) (Intervention, error)
	ListInterventions(ctx context.Context, filter InterventionFilter) ([]Intervention, error)
}

// SessionFilter narrows usage session listings.
type SessionFilter struct {
	UserID     *int64
	MachineID  *int64
	ActiveOnly bool
	ClosedOnly bool
}

// UsageSessionRepository stores usage sessions and guards the one-active-session
// per machine slot.
type UsageSessionRepository interface {
	// StartSession inserts an active session unless the machine already has one,
	// in which case ErrActiveSession is returned. The check and the insert are a
	// single conditional write.
	StartSession(ctx context.Context, session UsageSession) (UsageSession, error)
	// EndSession closes the active session of userID on machineID. ErrNotFound
	// means no such session is active; ErrConstraintViolation means end precedes
	// the session start.
	EndSession(ctx context.Context, machineID, userID int64, end time.Time) (UsageSession, error)
	CountActiveSessions(ctx context.Context, machineID int64) (int, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]UsageSession, error)
	TotalClosedDuration(ctx context.Context, userID int64) (time.Duration, error)
}

// Store aggregates every collection.
type Store interface {
	IDAllocator
	ReferenceChecker
	RoleRepository
	MachineTypeRepository
	UserRepository
	MachineRepository
	MaintenanceRepository
	InterventionRepository
	UsageSessionRepository
}
