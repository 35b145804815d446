package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock that only moves when told to.
//
// Implements clock.Clock. Expiry boundaries, sync deadlines and the daily
// spending window are tested by advancing it explicitly.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

// NewManualClock creates a clock fixed at start (converted to UTC,
// truncated to milliseconds).
func NewManualClock(start time.Time) *ManualClock {
	start = start.UTC().Truncate(time.Millisecond)
	return &ManualClock{start: start, now: start}
}

// Now returns the current fixed time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC().Truncate(time.Millisecond)
}

// Reset returns the clock to its starting time.
//
// Used for test reuse.
func (c *ManualClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
