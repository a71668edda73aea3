package testfixtures

import (
	"sync"
	"time"
)

// Clock is the time source handed to session and intervention services in
// tests. It only moves when told to.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowFunc returns Now for injection, or time.Now for a nil clock.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Span returns the bounds of a session lasting d that starts now, and leaves
// the clock at its end.
func (c *Clock) Span(d time.Duration) (start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start = c.now
	c.now = c.now.Add(d)
	return start, c.now
}

// At is an explicit request timestamp offset by d from now. The clock does
// not move.
func (c *Clock) At(d time.Duration) *time.Time {
	at := c.Now().Add(d)
	return &at
}
