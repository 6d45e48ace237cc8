package fixtures

import (
	"sync"
	"time"
)

// TestNow is the default instant a [Clock] starts at.
var TestNow = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

// Clock is a settable time source for components that take a Now func.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock reading start, or [TestNow] when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = TestNow
	}
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
