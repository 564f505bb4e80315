package monotonic

import (
	"testing"
	"time"
)

// =============================================================================
// Clock Tests
// =============================================================================

// TestNewClock verifies a new Clock has zero offset.
func TestNewClock(t *testing.T) {
	c := NewClock()
	if c.Offset() != 0 {
		t.Errorf("expected zero offset, got %s", c.Offset())
	}
}

// TestClock_Now_WithOffset verifies Now() applies the configured offset.
func TestClock_Now_WithOffset(t *testing.T) {
	c := NewClock()
	c.SetOffset(5 * time.Second)

	before := time.Now().Add(5 * time.Second)
	now := c.Now()
	after := time.Now().Add(5 * time.Second)

	if now.Before(before.Add(-10*time.Millisecond)) || now.After(after.Add(10*time.Millisecond)) {
		t.Errorf("Clock.Now() with offset = %v, expected ~%v", now, before)
	}
}

// TestClock_AfterFunc verifies real timers fire and can be stopped.
func TestClock_AfterFunc(t *testing.T) {
	c := NewClock()
	fired := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	stopped := c.AfterFunc(time.Hour, func() { t.Error("stopped timer fired") })
	if !stopped.Stop() {
		t.Error("expected Stop to report a pending timer")
	}
}

// TestIsExpiredAt verifies the inclusive expiry boundary.
func TestIsExpiredAt(t *testing.T) {
	start := time.Unix(1000, 0)
	if IsExpiredAt(start, time.Minute, start.Add(59*time.Second)) {
		t.Error("expired too early")
	}
	if !IsExpiredAt(start, time.Minute, start.Add(time.Minute)) {
		t.Error("not expired at lifetime boundary")
	}
}

// =============================================================================
// ManualClock Tests
// =============================================================================

// TestManualClock_FiresInOrder verifies timers fire in deadline order and
// only once the clock reaches them.
func TestManualClock_FiresInOrder(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManualClock(start)
	var order []int
	m.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	m.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	m.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	m.Advance(1999 * time.Millisecond)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("after 1.999s got %v, want [1]", order)
	}
	m.Advance(10 * time.Second)
	if len(order) != 3 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", order)
	}
	if got := m.Now(); !got.Equal(start.Add(11999 * time.Millisecond)) {
		t.Errorf("Now() = %v", got)
	}
	if m.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", m.Pending())
	}
}

// TestManualClock_Stop verifies stopped timers never fire.
func TestManualClock_Stop(t *testing.T) {
	m := NewManualClock(time.Unix(0, 0))
	timer := m.AfterFunc(time.Second, func() { t.Error("stopped timer fired") })
	if !timer.Stop() {
		t.Error("Stop should report true for a pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}
	m.Advance(time.Minute)
}

// TestManualClock_NowInsideCallback verifies a callback observes its own
// deadline as the current time and may schedule follow-up timers.
func TestManualClock_NowInsideCallback(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManualClock(start)
	var seen []time.Time
	m.AfterFunc(time.Second, func() {
		seen = append(seen, m.Now())
		m.AfterFunc(time.Second, func() { seen = append(seen, m.Now()) })
	})
	m.Advance(5 * time.Second)
	if len(seen) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(seen))
	}
	if !seen[0].Equal(start.Add(time.Second)) || !seen[1].Equal(start.Add(2*time.Second)) {
		t.Errorf("callbacks saw %v", seen)
	}
}
