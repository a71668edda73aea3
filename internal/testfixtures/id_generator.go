package testfixtures

import "sync"

// IDSequence hands out explicit entity ids for tests that want to pin ids
// instead of relying on automatic allocation.
type IDSequence struct {
	mu   sync.Mutex
	next int64
}

// NewIDSequence starts a sequence at first.
func NewIDSequence(first int64) *IDSequence {
	return &IDSequence{next: first}
}

// Next returns the next id in the sequence.
func (s *IDSequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id
}

// NextPtr returns the next id as a pointer, the shape optional id fields take.
func (s *IDSequence) NextPtr() *int64 {
	id := s.Next()
	return &id
}

// Reset rewinds the sequence to first.
func (s *IDSequence) Reset(first int64) {
	s.mu.Lock()
	s.next = first
	s.mu.Unlock()
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}
