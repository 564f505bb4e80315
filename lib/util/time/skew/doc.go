// Package skew validates timestamps received from other routers against the
// local clock.
//
// Relays check the start time carried in a hop record before accepting the
// hop, so a record replayed long after it was built, or stamped far in the
// future, is refused.
//
// Usage:
//
//	if err := skew.ValidateTimestampAt(record.Start, clock.Now(), skew.DefaultMaxSkew); err != nil {
//	    // reject the hop
//	}
package skew
