package generic

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Source of "now" for every timestamp the ledger writes
// =============================================================================

// Clock returns the current time. Records are stamped by the ledger, not by
// the store, so every backend produces identical documents.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock only moves when told to. Used by tests.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
	// Step is added after every Now call when non-zero.
	Step time.Duration
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.Step)
	return now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
