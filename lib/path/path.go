package path

import (
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/env"
	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

var log = logger.GetGoI2PLogger()

// ExpireMargin is how long before the end of its lifetime an established
// path stops being used.
const ExpireMargin = 10 * time.Second

// DataHandler receives PathData payloads arriving on a path.
type DataHandler func(p *Path, payload []byte)

// Path is one circuit built by this router. Its hop list never changes.
type Path struct {
	ctx  *env.Context
	set  *PathSet
	hops []onion.HopConfig

	layers []onion.Layer
	state  State

	buildStarted time.Time
	established  time.Time
	latency      time.Duration

	txSeq uint64
	rxSeq uint64

	probeToken       uint64
	probeSent        time.Time
	probeOutstanding bool
	missedProbes     int

	onData DataHandler
}

func newPath(ctx *env.Context, set *PathSet, hops []onion.HopConfig, now time.Time) *Path {
	return &Path{
		ctx:          ctx,
		set:          set,
		hops:         hops,
		state:        Building,
		buildStarted: now,
	}
}

// ID is the path id the originator uses with the first hop.
func (p *Path) ID() common.PathID { return p.hops[0].RxID }

// FirstHop is the relay the originator talks to directly.
func (p *Path) FirstHop() common.RouterID { return p.hops[0].Relay.ID }

// Terminal is the last relay of the path.
func (p *Path) Terminal() common.RouterID { return p.hops[len(p.hops)-1].Relay.ID }

// HopCount returns the number of hops.
func (p *Path) HopCount() int { return len(p.hops) }

// Hops returns the relay ids in path order.
func (p *Path) Hops() []common.RouterID {
	out := make([]common.RouterID, len(p.hops))
	for i := range p.hops {
		out[i] = p.hops[i].Relay.ID
	}
	return out
}

// State returns the lifecycle state.
func (p *Path) State() State { return p.state }

// IsReady reports whether the path can carry traffic at now.
func (p *Path) IsReady(now time.Time) bool {
	return p.state == Established && !p.ExpiresSoon(now)
}

// Latency is the last measured probe round trip, zero until one returns.
func (p *Path) Latency() time.Duration { return p.latency }

// BuildStarted is when the build job was dispatched.
func (p *Path) BuildStarted() time.Time { return p.buildStarted }

// EstablishedAt is when the status chain was accepted.
func (p *Path) EstablishedAt() time.Time { return p.established }

// Expiry is when the path's signed lifetime ends.
func (p *Path) Expiry() time.Time { return p.hops[0].Expiry() }

// ExpiresSoon reports whether less than ExpireMargin of lifetime remains.
func (p *Path) ExpiresSoon(now time.Time) bool {
	return !now.Before(p.Expiry().Add(-ExpireMargin))
}

// SetDataHandler installs the consumer of PathData arriving on p.
func (p *Path) SetDataHandler(h DataHandler) { p.onData = h }

// Set returns the owning PathSet, or nil for a path built outside one.
func (p *Path) Set() *PathSet { return p.set }

func (p *Path) String() string {
	return "path " + p.ID().Short() + " via " + p.FirstHop().Short()
}

func (p *Path) setState(next State) bool {
	if !p.state.canMove(next) {
		return false
	}
	log.WithFields(logger.Fields{
		"at":   "(Path) setState",
		"path": p.String(),
		"from": p.state.String(),
		"to":   next.String(),
	}).Debug("path state change")
	p.state = next
	return true
}

func (p *Path) markEstablished(keys []onion.HopKeys, now time.Time) bool {
	if !p.setState(Established) {
		return false
	}
	p.layers = make([]onion.Layer, len(keys))
	for i, k := range keys {
		p.layers[i] = k.Layer
	}
	p.established = now
	return true
}

// Send layers payload for every hop and sends it toward the terminal hop
// as a PathData message.
func (p *Path) Send(payload []byte) error {
	return p.sendRouting(&wire.PathData{Payload: payload})
}

func (p *Path) sendRouting(msg wire.RoutingMessage) error {
	if p.state != Established {
		return ErrNotEstablished
	}
	p.txSeq++
	switch m := msg.(type) {
	case *wire.PathData:
		m.Seq = p.txSeq
	case *wire.PathLatency:
		m.Seq = p.txSeq
	}
	body, err := wire.EncodeRoutingMessage(msg)
	if err != nil {
		return err
	}
	nonce, layered, err := onion.WrapUpstream(body, p.layers)
	if err != nil {
		return err
	}
	return p.ctx.Send(p.FirstHop(), &wire.RelayUpstream{PathID: p.ID(), Nonce: nonce, Payload: layered})
}

// SendLatencyProbe sends a PathLatency probe and starts timing it.
func (p *Path) SendLatencyProbe(now time.Time) error {
	token := uint64(rand.Int63n(1<<62)) + 1
	if err := p.sendRouting(&wire.PathLatency{Token: token}); err != nil {
		return err
	}
	p.probeToken = token
	p.probeSent = now
	p.probeOutstanding = true
	return nil
}

// HandleDownstream removes every layer from a message arriving from the
// first hop and delivers it. Stale or repeated sequence numbers are
// dropped. It reports whether the message belonged to p.
func (p *Path) HandleDownstream(from common.RouterID, msg *wire.RelayDownstream) bool {
	if from != p.FirstHop() || msg.PathID != p.ID() {
		return false
	}
	if p.state != Established {
		return true
	}
	plain, err := onion.UnwrapDownstream(msg.Nonce, msg.Payload, p.layers)
	if err != nil {
		p.ctx.Metrics.RoutingDropped("crypto")
		return true
	}
	rm, err := wire.ParseRoutingMessage(plain)
	if err != nil {
		p.ctx.Metrics.RoutingDropped("malformed")
		return true
	}
	if rm.SeqNo() <= p.rxSeq {
		log.WithFields(logger.Fields{
			"at":     "(Path) HandleDownstream",
			"path":   p.String(),
			"seq":    rm.SeqNo(),
			"last":   p.rxSeq,
			"reason": "replay",
		}).Debug("dropping routing message")
		p.ctx.Metrics.RoutingDropped("replay")
		return true
	}
	p.rxSeq = rm.SeqNo()
	p.missedProbes = 0

	switch m := rm.(type) {
	case *wire.PathLatency:
		if p.probeOutstanding && m.Token == p.probeToken {
			p.probeOutstanding = false
			p.latency = p.ctx.Now().Sub(p.probeSent)
			p.ctx.Metrics.PathLatency(p.latency)
		}
	case *wire.PathData:
		if p.onData != nil {
			p.onData(p, m.Payload)
		} else if p.set != nil && p.set.onData != nil {
			p.set.onData(p, m.Payload)
		}
	}
	return true
}

// tick advances liveness and expiry for an established path.
func (p *Path) tick(now time.Time, cfg Config) {
	if p.state != Established {
		return
	}
	if p.ExpiresSoon(now) {
		p.setState(Expired)
		return
	}
	if now.Sub(p.probeSent) < cfg.LatencyInterval {
		return
	}
	if p.probeOutstanding {
		p.missedProbes++
		if p.missedProbes >= cfg.MaxMissedProbes {
			log.WithFields(logger.Fields{
				"at":     "(Path) tick",
				"path":   p.String(),
				"missed": p.missedProbes,
			}).Debug("path stopped answering probes")
			p.setState(Timeout)
			return
		}
	}
	if err := p.SendLatencyProbe(now); err != nil {
		log.WithError(err).WithField("path", p.String()).Debug("latency probe not sent")
	}
}
