package transit

import (
	"errors"
	"time"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/env"
	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/transport"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
	"github.com/go-i2p/go-onionpath/lib/util/time/skew"
	"github.com/go-i2p/go-onionpath/lib/wire"
	"github.com/go-i2p/go-onionpath/lib/worker"
)

const (
	// MinLifetime is the shortest hop lifetime a relay accepts (exclusive).
	MinLifetime = 10 * time.Second
	// MaxLifetime is the longest hop lifetime a relay accepts.
	MaxLifetime = 20 * time.Minute
	// DefaultExpireInterval is how often expired hops are swept.
	DefaultExpireInterval = 5 * time.Second
)

// DataHandler consumes a PathData payload that reached this relay as the
// terminal hop. A non-nil return value is sent back down the path.
type DataHandler func(hop *TransitHop, payload []byte) []byte

// Config tunes a Relay.
type Config struct {
	MaxHops          int
	MaxClockSkew     time.Duration
	CommitsPerMinute int
	CommitBurst      int
	ExpireInterval   time.Duration
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		MaxHops:          DefaultMaxHops,
		MaxClockSkew:     skew.DefaultMaxSkew,
		CommitsPerMinute: DefaultCommitsPerMinute,
		CommitBurst:      DefaultCommitBurst,
		ExpireInterval:   DefaultExpireInterval,
	}
}

// Relay runs the transit side of the path protocol for one router.
type Relay struct {
	ctx     *env.Context
	cfg     Config
	table   *Table
	limiter *SourceLimiter
	onData  DataHandler

	expireTimer monotonic.Timer
	stopped     bool
}

// NewRelay creates a relay bound to ctx.
func NewRelay(ctx *env.Context, cfg Config) *Relay {
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = skew.DefaultMaxSkew
	}
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = DefaultExpireInterval
	}
	return &Relay{
		ctx:     ctx,
		cfg:     cfg,
		table:   NewTable(cfg.MaxHops),
		limiter: NewSourceLimiter(cfg.CommitsPerMinute, cfg.CommitBurst, 0),
	}
}

// Table exposes the relay's transit table.
func (r *Relay) Table() *Table { return r.table }

// Limiter exposes the per-source commit limiter.
func (r *Relay) Limiter() *SourceLimiter { return r.limiter }

// SetDataHandler installs the consumer of data that terminates here.
func (r *Relay) SetDataHandler(h DataHandler) { r.onData = h }

// Start schedules the periodic expiry sweep. Call on the logic loop.
func (r *Relay) Start() {
	r.scheduleExpire()
}

// Stop cancels the expiry sweep. Call on the logic loop.
func (r *Relay) Stop() {
	r.stopped = true
	if r.expireTimer != nil {
		r.expireTimer.Stop()
	}
}

func (r *Relay) scheduleExpire() {
	if r.stopped {
		return
	}
	r.expireTimer = r.ctx.Logic.CallLater(r.cfg.ExpireInterval, func() {
		r.Tick(r.ctx.Now())
		r.scheduleExpire()
	})
}

// Tick removes expired hops and stale limiter entries.
func (r *Relay) Tick(now time.Time) {
	expired := r.table.Expire(now)
	r.limiter.Cleanup(now)
	if len(expired) > 0 {
		log.WithFields(logger.Fields{
			"at":        "(Relay) Tick",
			"expired":   len(expired),
			"remaining": r.table.Len(),
		}).Debug("expired transit hops")
	}
	r.ctx.Metrics.TransitHops(r.table.Len())
}

// RemoveNeighbour destroys every hop routed through id, for use when the
// link to id goes away.
func (r *Relay) RemoveNeighbour(id common.RouterID) int {
	removed := r.table.RemoveNeighbour(id)
	if len(removed) > 0 {
		log.WithFields(logger.Fields{
			"at":        "(Relay) RemoveNeighbour",
			"neighbour": id.Short(),
			"removed":   len(removed),
		}).Debug("link torn down, removed transit hops")
	}
	r.ctx.Metrics.TransitHops(r.table.Len())
	return len(removed)
}

// HandleCommit peels the commit on a worker and finishes on the loop.
func (r *Relay) HandleCommit(from common.RouterID, msg *wire.CommitMessage) {
	identity := r.ctx.Identity
	err := worker.Dispatch(r.ctx.Workers, r.ctx.Logic,
		func() (*onion.Peeled, error) { return onion.PeelCommit(msg, identity) },
		func(p *onion.Peeled, err error) { r.onPeeled(from, msg, p, err) },
	)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Relay) HandleCommit",
			"from":   from.Short(),
			"reason": "worker_unavailable",
		}).WithError(err).Warn("dropping commit")
		r.ctx.Metrics.CommitRejected("worker_unavailable")
	}
}

func (r *Relay) onPeeled(from common.RouterID, msg *wire.CommitMessage, p *onion.Peeled, err error) {
	if r.stopped {
		return
	}
	if err != nil {
		// Without our record there is no reply key and nowhere to answer.
		reason := wire.StatusFailMalformed
		if errors.Is(err, onion.ErrCryptoFailure) {
			reason = wire.StatusFailDecryptError
		}
		log.WithFields(logger.Fields{
			"at":     "(Relay) onPeeled",
			"from":   from.Short(),
			"reason": reason.String(),
		}).Warn("dropping unreadable commit")
		r.ctx.Metrics.CommitRejected(reason.String())
		return
	}

	now := r.ctx.Now()
	self := r.ctx.RouterID()
	hop := NewTransitHop(p, from, self)

	status := statusFor(p.Record, now, r.cfg.MaxClockSkew)
	if status.IsSuccess() && !r.limiter.Allow(from, now) {
		status = wire.StatusFailCongestion
	}
	if status.IsSuccess() && !hop.Terminal {
		status = r.checkNextHop(from, hop.Upstream)
	}
	if status.IsSuccess() {
		status = StatusOf(r.table.Insert(hop))
	}
	if !status.IsSuccess() {
		r.reject(hop, msg.Acks, status)
		return
	}

	log.WithFields(logger.Fields{
		"at":       "(Relay) onPeeled",
		"hop":      hop.String(),
		"terminal": hop.Terminal,
		"from":     from.Short(),
	}).Debug("installed transit hop")
	r.ctx.Metrics.TransitHops(r.table.Len())

	if hop.Terminal {
		r.sendStatus(hop, msg.Acks, wire.StatusSuccess, wire.StatusSuccess)
		return
	}
	if err := r.ctx.Send(hop.Upstream, p.Next); err != nil {
		r.table.Remove(hop)
		r.ctx.Metrics.TransitHops(r.table.Len())
		r.reject(hop, msg.Acks, wire.StatusFailCannotConnect)
	}
}

func (r *Relay) checkNextHop(from, next common.RouterID) wire.Status {
	if next == from {
		return wire.StatusFailDestInvalid
	}
	if r.ctx.Lookup != nil {
		if _, ok := r.ctx.Lookup.FindRouter(next); !ok {
			return wire.StatusFailDestUnknown
		}
	}
	return wire.StatusSuccess
}

func (r *Relay) reject(hop *TransitHop, acks [][]byte, status wire.Status) {
	log.WithFields(logger.Fields{
		"at":     "(Relay) reject",
		"hop":    hop.String(),
		"from":   hop.Downstream.Short(),
		"reason": status.String(),
	}).Debug("rejecting commit")
	r.ctx.Metrics.CommitRejected(status.String())
	r.sendStatus(hop, acks, status, status)
}

// sendStatus adds this hop's sealed frame to frames on a worker and sends
// the chain to the downstream neighbour. chain is the status carried in
// the message; own is the status sealed in this hop's frame.
func (r *Relay) sendStatus(hop *TransitHop, frames [][]byte, chain, own wire.Status) {
	reply := hop.Reply
	to := hop.Downstream
	id := hop.RxID
	err := worker.Dispatch(r.ctx.Workers, r.ctx.Logic,
		func() ([][]byte, error) { return onion.AddStatusFrame(frames, reply, own) },
		func(out [][]byte, err error) {
			if err != nil {
				log.WithError(err).WithField("at", "(Relay) sendStatus").Warn("could not seal status frame")
				return
			}
			_ = r.ctx.Send(to, &wire.StatusMessage{PathID: id, Status: chain, Frames: out})
		},
	)
	if err != nil {
		log.WithError(err).WithField("at", "(Relay) sendStatus").Warn("dropping status reply")
	}
}

// HandleStatus threads a status chain coming from upstream one hop
// further down. It reports whether the message belonged to a transit hop.
func (r *Relay) HandleStatus(from common.RouterID, msg *wire.StatusMessage) bool {
	hop, ok := r.table.LookupDownstream(msg.PathID)
	if !ok || hop.Terminal {
		return false
	}
	if hop.Upstream != from {
		log.WithFields(logger.Fields{
			"at":     "(Relay) HandleStatus",
			"hop":    hop.String(),
			"from":   from.Short(),
			"reason": "wrong_neighbour",
		}).Warn("dropping status")
		return true
	}
	if !msg.Status.IsSuccess() {
		r.table.Remove(hop)
		r.ctx.Metrics.TransitHops(r.table.Len())
	}
	r.sendStatus(hop, msg.Frames, msg.Status, wire.StatusSuccess)
	return true
}

// HandleUpstream relays data travelling away from the originator, or
// consumes it when this relay is the terminal hop.
func (r *Relay) HandleUpstream(from common.RouterID, msg *wire.RelayUpstream) bool {
	hop, ok := r.table.LookupUpstream(msg.PathID)
	if !ok {
		return false
	}
	if !r.usable(hop, from, hop.Downstream, "(Relay) HandleUpstream") {
		return true
	}
	nonce, err := hop.Layer.Apply(msg.Nonce, msg.Payload)
	if err != nil {
		r.ctx.Metrics.RoutingDropped("crypto")
		return true
	}
	if hop.Terminal {
		r.handleRouting(hop, msg.Payload)
		return true
	}
	_ = r.forward(hop, hop.Upstream, &wire.RelayUpstream{PathID: hop.TxID, Nonce: nonce, Payload: msg.Payload}, "(Relay) HandleUpstream")
	return true
}

// HandleDownstream relays data travelling toward the originator.
func (r *Relay) HandleDownstream(from common.RouterID, msg *wire.RelayDownstream) bool {
	hop, ok := r.table.LookupDownstream(msg.PathID)
	if !ok || hop.Terminal {
		return false
	}
	if !r.usable(hop, from, hop.Upstream, "(Relay) HandleDownstream") {
		return true
	}
	nonce, err := hop.Layer.Apply(msg.Nonce, msg.Payload)
	if err != nil {
		r.ctx.Metrics.RoutingDropped("crypto")
		return true
	}
	_ = r.forward(hop, hop.Downstream, &wire.RelayDownstream{PathID: hop.RxID, Nonce: nonce, Payload: msg.Payload}, "(Relay) HandleDownstream")
	return true
}

func (r *Relay) usable(hop *TransitHop, from, want common.RouterID, at string) bool {
	reason := ""
	switch {
	case from != want:
		reason = "wrong_neighbour"
	case hop.ExpiredAt(r.ctx.Now()):
		reason = "expired"
	}
	if reason == "" {
		return true
	}
	log.WithFields(logger.Fields{
		"at":     at,
		"hop":    hop.String(),
		"from":   from.Short(),
		"reason": reason,
	}).Debug("dropping routing message")
	r.ctx.Metrics.RoutingDropped(reason)
	return false
}

func (r *Relay) handleRouting(hop *TransitHop, plaintext []byte) {
	msg, err := wire.ParseRoutingMessage(plaintext)
	if err != nil {
		r.ctx.Metrics.RoutingDropped("malformed")
		return
	}
	if !hop.acceptUpstreamSeq(msg.SeqNo()) {
		log.WithFields(logger.Fields{
			"at":     "(Relay) handleRouting",
			"hop":    hop.String(),
			"seq":    msg.SeqNo(),
			"reason": "replay",
		}).Debug("dropping routing message")
		r.ctx.Metrics.RoutingDropped("replay")
		return
	}
	switch m := msg.(type) {
	case *wire.PathLatency:
		r.SendDownstream(hop, &wire.PathLatency{Token: m.Token, Seq: hop.nextDownstreamSeq()})
	case *wire.PathData:
		if r.onData == nil {
			return
		}
		if reply := r.onData(hop, m.Payload); reply != nil {
			r.SendDownstream(hop, &wire.PathData{Payload: reply, Seq: hop.nextDownstreamSeq()})
		}
	}
}

// SendDownstream sends a routing message from a terminal hop back to the
// originator. Seq must already be set.
func (r *Relay) SendDownstream(hop *TransitHop, msg wire.RoutingMessage) error {
	body, err := wire.EncodeRoutingMessage(msg)
	if err != nil {
		return err
	}
	nonce, err := crypto.RandomNonce()
	if err != nil {
		return err
	}
	next, err := hop.Layer.Apply(nonce, body)
	if err != nil {
		return err
	}
	return r.forward(hop, hop.Downstream, &wire.RelayDownstream{PathID: hop.RxID, Nonce: next, Payload: body}, "(Relay) SendDownstream")
}

// forward sends msg to one of hop's neighbours. When the link to that
// neighbour is gone the hop is destroyed.
func (r *Relay) forward(hop *TransitHop, to common.RouterID, msg wire.LinkMessage, at string) error {
	err := r.ctx.Send(to, msg)
	if err == nil || !linkGone(err) {
		return err
	}
	if r.table.Remove(hop) {
		log.WithFields(logger.Fields{
			"at":        at,
			"hop":       hop.String(),
			"neighbour": to.Short(),
		}).WithError(err).Debug("link gone, removed transit hop")
		r.ctx.Metrics.TransitHops(r.table.Len())
	}
	return err
}

func linkGone(err error) bool {
	return errors.Is(err, transport.ErrUnknownPeer) ||
		errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, transport.ErrNoTransportAvailable)
}
