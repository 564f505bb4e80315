package monotonic

import (
	"sync"
	"time"
)

// Source is a clock that can also schedule callbacks.
type Source interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// Clock is the wall clock adjusted by an NTP offset.
type Clock struct {
	// offset is added to time.Now() to account for NTP synchronization.
	// Protected by mu.
	offset time.Duration
	mu     sync.RWMutex
}

// NewClock creates a new Clock with zero offset.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current time adjusted by any NTP offset. The returned
// time.Time retains Go's monotonic clock reading.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return time.Now().Add(offset)
}

// SetOffset updates the NTP time offset.
func (c *Clock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// Offset returns the current NTP time offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// AfterFunc runs f on its own goroutine after d. Offsets do not affect
// durations.
func (c *Clock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// IsExpiredAt reports whether something that started at start with the
// given lifetime has expired at now.
func IsExpiredAt(start time.Time, lifetime time.Duration, now time.Time) bool {
	return !now.Before(start.Add(lifetime))
}

var _ Source = (*Clock)(nil)
