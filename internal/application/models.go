package application

import (
	"time"

	"github.com/example/fablab-backend/internal/persistence"
)

type (
	Role         = persistence.Role
	MachineType  = persistence.MachineType
	User         = persistence.User
	Machine      = persistence.Machine
	Maintenance  = persistence.Maintenance
	Intervention = persistence.Intervention
	UsageSession = persistence.UsageSession
)

// Optional ID fields left nil receive the next free id of their kind.

// AddRoleParams describes a new role.
type AddRoleParams struct {
	ID           *int64
	Name         string
	AuthorizeAll bool
}

// AddMachineTypeParams describes a new machine type.
type AddMachineTypeParams struct {
	ID   *int64
	Name string
}

// AddUserParams describes a new user. RoleID and every AuthorizationIDs entry
// must reference existing records.
type AddUserParams struct {
	ID               *int64
	Name             string
	Surname          string
	RoleID           *int64
	CardUUID         *string
	AuthorizationIDs []int64
}

// AddMachineParams describes a new machine.
type AddMachineParams struct {
	ID             *int64
	Name           string
	TypeID         int64
	Hours          float64
	MaintenanceIDs []int64
}

// AddMaintenanceParams describes a new maintenance definition.
type AddMaintenanceParams struct {
	ID           *int64
	HoursBetween float64
	Description  *string
}

// AddInterventionParams describes a completed maintenance task. A nil
// Timestamp means now.
type AddInterventionParams struct {
	ID            *int64
	MaintenanceID int64
	MachineID     int64
	UserID        int64
	Timestamp     *time.Time
}

// UseParams identifies a machine, the user operating it and, optionally, the
// instant of the event. A nil Timestamp means now.
type UseParams struct {
	MachineID int64
	Identity  UserIdentity
	Timestamp *time.Time
}

// EndUseResult reports the closed session and how long it lasted.
type EndUseResult struct {
	Session  UsageSession
	Duration time.Duration
}

// AuthorizationDecision is the outcome of an authorization check.
type AuthorizationDecision struct {
	MachineID  int64
	UserID     int64
	Authorized bool
	// ByRole is set when the role's blanket grant decided the outcome.
	ByRole bool
}
