package liveness

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Store keeps the last heartbeat instant of every machine and the set of
// machines waiting for an authorization answer.
type Store interface {
	// Touch records at as the machine's last sighting unless a later instant is
	// already stored.
	Touch(ctx context.Context, machineID int64, at time.Time) error
	LastSeen(ctx context.Context, machineID int64) (time.Time, bool, error)
	Snapshot(ctx context.Context) (map[int64]time.Time, error)

	AddPending(ctx context.Context, machineID int64) error
	RemovePending(ctx context.Context, machineID int64) error
	Pending(ctx context.Context) ([]int64, error)
}

// MemoryStore is a process-local Store. The zero value is not usable; call
// NewMemoryStore.
type MemoryStore struct {
	mu       sync.RWMutex
	lastSeen map[int64]time.Time
	pending  map[int64]struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lastSeen: make(map[int64]time.Time),
		pending:  make(map[int64]struct{}),
	}
}

func (s *MemoryStore) Touch(_ context.Context, machineID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.lastSeen[machineID]; !ok || at.After(current) {
		s.lastSeen[machineID] = at
	}
	return nil
}

func (s *MemoryStore) LastSeen(_ context.Context, machineID int64) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.lastSeen[machineID]
	return at, ok, nil
}

func (s *MemoryStore) Snapshot(context.Context) (map[int64]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.lastSeen), nil
}

func (s *MemoryStore) AddPending(_ context.Context, machineID int64) error {
	s.mu.Lock()
	s.pending[machineID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RemovePending(_ context.Context, machineID int64) error {
	s.mu.Lock()
	delete(s.pending, machineID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Pending(context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.pending)), nil
}
