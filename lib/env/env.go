// Package env holds the explicit context object handed to every path and
// relay component at construction. Nothing in the module reaches for a
// global router; everything it needs is on a Context.
package env

import (
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/logic"
	"github.com/go-i2p/go-onionpath/lib/metrics"
	"github.com/go-i2p/go-onionpath/lib/profiling"
	"github.com/go-i2p/go-onionpath/lib/selector"
	"github.com/go-i2p/go-onionpath/lib/transport"
	"github.com/go-i2p/go-onionpath/lib/wire"
	"github.com/go-i2p/go-onionpath/lib/worker"
)

var log = logger.GetGoI2PLogger()

// Context bundles the collaborators of one router.
type Context struct {
	// Identity is the router's long-term X25519 keypair; its public half
	// is the RouterID.
	Identity crypto.KeyPair

	Logic     *logic.Logic
	Workers   *worker.Pool
	Transport transport.Transport
	Selector  selector.HopSelector
	Lookup    selector.Lookup

	// Metrics and Profiler may be nil.
	Metrics  *metrics.Metrics
	Profiler *profiling.Profiler
}

// RouterID returns the router's own id.
func (c *Context) RouterID() common.RouterID {
	return common.RouterID(c.Identity.Public)
}

// Now reads the logic loop's clock.
func (c *Context) Now() time.Time {
	return c.Logic.Now()
}

// Send encodes msg and hands it to the transport for to. It never blocks
// on the peer.
func (c *Context) Send(to common.RouterID, msg wire.LinkMessage) error {
	frame, err := wire.EncodeLinkMessage(msg)
	if err != nil {
		return oops.Wrapf(err, "encode %s message", msg.Kind())
	}
	if err := c.Transport.SendFrame(to, frame); err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Context) Send",
			"kind": string(msg.Kind()),
			"peer": to.Short(),
		}).WithError(err).Debug("send failed")
		if c.Profiler != nil {
			c.Profiler.MarkConnectTimeout(to)
		}
		return err
	}
	return nil
}
