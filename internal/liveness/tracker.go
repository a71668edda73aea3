// Package liveness tracks which machines are connected, based on the
// heartbeats and authorization requests they publish.
package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/fablab-backend/internal/logging"
)

var machineEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fablab_machine_events_total",
	Help: "Machine events recorded by the liveness tracker.",
}, []string{"event"})

// Tracker records machine sightings. Staleness is judged on read; entries are
// never evicted.
type Tracker struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker constructs a tracker over store. A nil store gets a fresh
// MemoryStore and a nil now uses time.Now.
func NewTracker(store Store, now func() time.Time, logger *slog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, now: now, logger: logger}
}

func (t *Tracker) loggerWith(ctx context.Context, operation string, machineID int64) *slog.Logger {
	return logging.FromContextOr(ctx, t.logger).With("component", "liveness", "operation", operation, "machine_id", machineID)
}

// OnHeartbeat records that the machine is alive now.
func (t *Tracker) OnHeartbeat(ctx context.Context, machineID int64) error {
	if err := t.store.Touch(ctx, machineID, t.now()); err != nil {
		t.loggerWith(ctx, "OnHeartbeat", machineID).ErrorContext(ctx, "failed to record heartbeat", "error", err)
		return fmt.Errorf("record heartbeat: %w", err)
	}
	machineEventsTotal.WithLabelValues("heartbeat").Inc()
	t.loggerWith(ctx, "OnHeartbeat", machineID).DebugContext(ctx, "heartbeat recorded")
	return nil
}

// OnAuthorizationRequest records the sighting and marks the machine as
// waiting for an authorization answer.
func (t *Tracker) OnAuthorizationRequest(ctx context.Context, machineID int64) error {
	logger := t.loggerWith(ctx, "OnAuthorizationRequest", machineID)
	if err := t.store.Touch(ctx, machineID, t.now()); err != nil {
		logger.ErrorContext(ctx, "failed to record authorization request", "error", err)
		return fmt.Errorf("record authorization request: %w", err)
	}
	if err := t.store.AddPending(ctx, machineID); err != nil {
		logger.ErrorContext(ctx, "failed to mark machine pending", "error", err)
		return fmt.Errorf("mark machine pending: %w", err)
	}
	machineEventsTotal.WithLabelValues("authorization_request").Inc()
	logger.InfoContext(ctx, "authorization requested")
	return nil
}

// OnAuthorizationDecision clears the pending mark once a decision has been
// sent to the machine.
func (t *Tracker) OnAuthorizationDecision(ctx context.Context, machineID int64, authorized bool) error {
	if err := t.store.RemovePending(ctx, machineID); err != nil {
		return fmt.Errorf("clear pending machine: %w", err)
	}
	t.loggerWith(ctx, "OnAuthorizationDecision", machineID).InfoContext(ctx, "authorization answered", "authorized", authorized)
	return nil
}

// LastSeen returns the last instant the machine was heard from.
func (t *Tracker) LastSeen(ctx context.Context, machineID int64) (time.Time, bool, error) {
	return t.store.LastSeen(ctx, machineID)
}

// Snapshot copies the whole last-seen table.
func (t *Tracker) Snapshot(ctx context.Context) (map[int64]time.Time, error) {
	return t.store.Snapshot(ctx)
}

// IsAlive reports whether the machine was heard from within staleAfter.
// A machine never heard from is not alive.
func (t *Tracker) IsAlive(ctx context.Context, machineID int64, staleAfter time.Duration) (bool, error) {
	seen, ok, err := t.store.LastSeen(ctx, machineID)
	if err != nil || !ok {
		return false, err
	}
	return t.now().Sub(seen) <= staleAfter, nil
}

// Pending lists machines with an unanswered authorization request, ascending.
func (t *Tracker) Pending(ctx context.Context) ([]int64, error) {
	return t.store.Pending(ctx)
}

// MachineStatus is one row of a liveness report.
type MachineStatus struct {
	MachineID int64
	LastSeen  time.Time
	Alive     bool
	Pending   bool
}

// Report lists every machine ever heard from, ordered by id, judged against
// staleAfter at the tracker's current time.
func (t *Tracker) Report(ctx context.Context, staleAfter time.Duration) ([]MachineStatus, error) {
	seen, err := t.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read liveness snapshot: %w", err)
	}
	pending, err := t.store.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending machines: %w", err)
	}
	waiting := make(map[int64]bool, len(pending))
	for _, id := range pending {
		waiting[id] = true
	}

	now := t.now()
	report := make([]MachineStatus, 0, len(seen))
	for id, at := range seen {
		report = append(report, MachineStatus{
			MachineID: id,
			LastSeen:  at,
			Alive:     now.Sub(at) <= staleAfter,
			Pending:   waiting[id],
		})
	}
	sort.Slice(report, func(i, j int) bool { return report[i].MachineID < report[j].MachineID })
	return report, nil
}
