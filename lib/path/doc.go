// Package path is the originator side of path construction.
//
// A PathSet owns the paths built for one purpose and decides when to build
// more. Each build is a BuildJob driven by the Builder: it selects hops,
// seals the commit on a worker, sends it to the first hop and waits for
// the status chain under a single countdown. A Path moves only forward
// through Building, Established and one of Timeout or Expired.
//
// Everything in this package runs on the logic loop.
package path
