// Package monotonic provides the time source shared by the logic loop,
// path state machines and relay tables.
//
// Clock wraps time.Now() so durations keep Go's monotonic reading, and adds
// the offset learned from NTP so timestamps written into hop records agree
// with the rest of the network. ManualClock implements the same Source
// interface with time that only moves when told to, which lets timers such
// as the build timeout fire at an exact, reproducible instant.
//
// Usage:
//
//	clock := monotonic.NewClock()
//	timer := clock.AfterFunc(30*time.Second, func() {
//	    // build timed out
//	})
//	defer timer.Stop()
package monotonic
