// Package sntp keeps a monotonic.Clock's offset in line with NTP servers.
//
// A Timestamper asks several servers per round, drops responses that fail
// validation, and applies the median offset only when the samples agree.
package sntp
