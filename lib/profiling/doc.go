// Package profiling keeps per-relay success and failure counters and uses
// them to steer hop selection away from relays that keep failing builds.
// Profiles can be persisted across restarts in a bbolt database.
package profiling
