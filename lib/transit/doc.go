// Package transit is the relay side of path construction: it opens the
// commit frame addressed to this router, installs a TransitHop when the
// record is acceptable, forwards the rest of the commit, threads the
// status chain back toward the originator and relays routing data for
// every hop it holds.
//
// All Relay methods run on the logic loop. The Table is additionally safe
// for concurrent readers.
package transit
