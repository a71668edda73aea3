package persistence

import "time"

// Role is a named permission bucket. AuthorizeAll grants every machine type.
type Role struct {
	ID           int64
	Name         string
	AuthorizeAll bool
}

// MachineType is a category of equipment referenced by machines and grants.
type MachineType struct {
	ID   int64
	Name string
}

// User is a member of the facility.
type User struct {
	ID      int64
	Name    string
	Surname string
	RoleID  *int64
	// AuthorizationIDs holds the machine type ids the user may operate.
	AuthorizationIDs []int64
	CardUUID         *string
}

// Machine is a physical piece of equipment.
type Machine struct {
	ID             int64
	Name           string
	TypeID         int64
	Hours          float64
	MaintenanceIDs []int64
}

// Maintenance is a recurring service task definition.
type Maintenance struct {
	ID           int64
	HoursBetween float64
	Description  *string
}

// Intervention is a logged, completed maintenance task.
type Intervention struct {
	ID            int64
	MaintenanceID int64
	MachineID     int64
	UserID        int64
	Timestamp     time.Time
}

// UsageSession is an interval during which a user occupies a machine.
// A nil End marks the session as active.
type UsageSession struct {
	ID        int64
	UserID    int64
	MachineID int64
	Start     time.Time
	End       *time.Time
}

// Active reports whether the session has not been closed yet.
func (s UsageSession) Active() bool {
	return s.End == nil
}

// Duration returns End-Start for closed sessions and zero for active ones.
func (s UsageSession) Duration() time.Duration {
	if s.End == nil {
		return 0
	}
	return s.End.Sub(s.Start)
}
