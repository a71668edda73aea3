package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/fablab-backend/internal/persistence"
)

var (
	sessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fablab_usage_sessions_started_total",
		Help: "Usage sessions opened.",
	})
	sessionsEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fablab_usage_sessions_ended_total",
		Help: "Usage sessions closed.",
	})
	sessionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fablab_usage_session_conflicts_total",
		Help: "Session starts rejected because the machine was already in use.",
	})
	sessionSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fablab_usage_session_seconds_total",
		Help: "Machine time accumulated by closed sessions.",
	})
)

// UsageStore is the persistence surface the session manager needs.
type UsageStore interface {
	persistence.ReferenceChecker
	persistence.UsageSessionRepository
	UserLookup
	GetMachine(ctx context.Context, id int64) (persistence.Machine, error)
}

// UsageSessionManager opens and closes usage sessions. A machine holds at most
// one active session; the store enforces that with a conditional insert.
type UsageSessionManager struct {
	store     UsageStore
	validator ReferenceValidator
	users     identityResolver
	now       func() time.Time
	logger    *slog.Logger
}

// NewUsageSessionManager constructs a session manager. cards may be nil.
func NewUsageSessionManager(store UsageStore, cards *CardCache, now func() time.Time) *UsageSessionManager {
	return NewUsageSessionManagerWithLogger(store, cards, now, nil)
}

// NewUsageSessionManagerWithLogger constructs a session manager with a specified logger.
func NewUsageSessionManagerWithLogger(store UsageStore, cards *CardCache, now func() time.Time, logger *slog.Logger) *UsageSessionManager {
	if now == nil {
		now = time.Now
	}
	return &UsageSessionManager{
		store:     store,
		validator: NewReferenceValidator(store),
		users:     identityResolver{users: store, cards: cards},
		now:       now,
		logger:    defaultLogger(logger),
	}
}

func (m *UsageSessionManager) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, m.logger, "UsageSessionManager", operation, attrs...)
}

func (m *UsageSessionManager) ready() error {
	if m == nil {
		return fmt.Errorf("UsageSessionManager is nil")
	}
	if m.store == nil {
		return fmt.Errorf("usage store not configured")
	}
	return nil
}

func (m *UsageSessionManager) timestamp(ts *time.Time) time.Time {
	if ts != nil {
		return *ts
	}
	return m.now()
}

// StartUse opens a session of the identified user on the machine.
func (m *UsageSessionManager) StartUse(ctx context.Context, params UseParams) (session UsageSession, err error) {
	if err = m.ready(); err != nil {
		return
	}
	logger := m.loggerWith(ctx, "StartUse", "machine_id", params.MachineID, "identity", params.Identity)
	defer func() {
		logOutcome(ctx, logger, err, "failed to start usage session", "usage session started",
			"usage_id", session.ID, "user_id", session.UserID)
	}()

	start := m.timestamp(params.Timestamp)
	if vErr := timestampError(start); vErr != nil {
		err = vErr
		return
	}

	var user User
	user, err = m.users.resolve(ctx, params.Identity)
	if err != nil {
		return
	}
	if err = m.validator.Require(ctx, persistence.KindMachine, "machine_id", params.MachineID); err != nil {
		return
	}

	session, err = m.store.StartSession(ctx, UsageSession{
		ID:        persistence.AutoID,
		UserID:    user.ID,
		MachineID: params.MachineID,
		Start:     start,
	})
	if errors.Is(err, persistence.ErrActiveSession) {
		sessionConflictsTotal.Inc()
		err = &IDError{Entity: "machine", Field: "machine_id", ID: params.MachineID, Err: ErrConflict}
		return
	}
	if err != nil {
		err = mapStoreError(err)
		return
	}
	sessionsStartedTotal.Inc()
	return
}

// EndUse closes the identified user's active session on the machine and
// returns its duration. Machine hours are left alone; they change only
// through MachineService.SetMachineHours.
func (m *UsageSessionManager) EndUse(ctx context.Context, params UseParams) (result EndUseResult, err error) {
	if err = m.ready(); err != nil {
		return
	}
	logger := m.loggerWith(ctx, "EndUse", "machine_id", params.MachineID, "identity", params.Identity)
	defer func() {
		logOutcome(ctx, logger, err, "failed to end usage session", "usage session ended",
			"usage_id", result.Session.ID, "duration", result.Duration)
	}()

	end := m.timestamp(params.Timestamp)
	if vErr := timestampError(end); vErr != nil {
		err = vErr
		return
	}

	var user User
	user, err = m.users.resolve(ctx, params.Identity)
	if err != nil {
		return
	}
	if err = m.validator.Require(ctx, persistence.KindMachine, "machine_id", params.MachineID); err != nil {
		return
	}

	var closed UsageSession
	closed, err = m.store.EndSession(ctx, params.MachineID, user.ID, end)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		err = fmt.Errorf("%w: user %d has no active session on machine %d", ErrInvalidQuery, user.ID, params.MachineID)
		return
	case errors.Is(err, persistence.ErrConstraintViolation):
		err = newValidationError("timestamp", "end timestamp precedes the session start")
		return
	case err != nil:
		err = mapStoreError(err)
		return
	}

	result = EndUseResult{Session: closed, Duration: closed.Duration()}
	sessionsEndedTotal.Inc()
	sessionSecondsTotal.Add(result.Duration.Seconds())
	return
}

// IsMachineCurrentlyUsed reports whether the machine has exactly one active session.
func (m *UsageSessionManager) IsMachineCurrentlyUsed(ctx context.Context, machineID int64) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	if err := m.validator.Require(ctx, persistence.KindMachine, "machine_id", machineID); err != nil {
		return false, err
	}
	count, err := m.store.CountActiveSessions(ctx, machineID)
	if err != nil {
		return false, mapStoreError(err)
	}
	return count == 1, nil
}

// GetCurrentlyUsedMachines lists machines with an active session. Sessions on
// machines that have since been removed are skipped.
func (m *UsageSessionManager) GetCurrentlyUsedMachines(ctx context.Context) ([]Machine, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	active, err := m.store.ListSessions(ctx, persistence.SessionFilter{ActiveOnly: true})
	if err != nil {
		return nil, mapStoreError(err)
	}

	machines := make([]Machine, 0, len(active))
	for _, session := range active {
		machine, err := m.store.GetMachine(ctx, session.MachineID)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, mapStoreError(err)
		}
		machines = append(machines, machine)
	}
	return machines, nil
}

// GetUserTotalTime sums the durations of the user's closed sessions.
func (m *UsageSessionManager) GetUserTotalTime(ctx context.Context, userID int64) (time.Duration, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	if err := m.validator.Require(ctx, persistence.KindUser, "user_id", userID); err != nil {
		return 0, err
	}
	total, err := m.store.TotalClosedDuration(ctx, userID)
	return total, mapStoreError(err)
}

// GetUserSessions lists every session of the identified user, oldest first.
func (m *UsageSessionManager) GetUserSessions(ctx context.Context, identity UserIdentity) ([]UsageSession, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	user, err := m.users.resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	sessions, err := m.store.ListSessions(ctx, persistence.SessionFilter{UserID: &user.ID})
	return sessions, mapStoreError(err)
}
