package transit

import (
	"time"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
	"github.com/go-i2p/go-onionpath/lib/util/time/skew"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

// TransitHop is this relay's record of one hop of someone else's path.
type TransitHop struct {
	// RxID tags traffic exchanged with Downstream.
	RxID common.PathID
	// TxID tags traffic exchanged with Upstream.
	TxID common.PathID
	// Downstream is the neighbour the commit arrived from.
	Downstream common.RouterID
	// Upstream is the next hop, or this relay itself when Terminal.
	Upstream common.RouterID

	Layer    onion.Layer
	Reply    onion.ReplyKey
	Started  time.Time
	Lifetime time.Duration
	Terminal bool

	// Sequence state of the routing messages a terminal hop exchanges
	// with the originator.
	lastUpSeq   uint64
	lastDownSeq uint64
}

// NewTransitHop builds the hop described by a peeled commit received from
// downstream.
func NewTransitHop(p *onion.Peeled, downstream, self common.RouterID) *TransitHop {
	rec := p.Record
	return &TransitHop{
		RxID:       rec.RxID,
		TxID:       rec.TxID,
		Downstream: downstream,
		Upstream:   rec.NextHop,
		Layer:      p.Layer,
		Reply:      onion.ReplyOf(rec),
		Started:    rec.Start,
		Lifetime:   rec.Lifetime,
		Terminal:   rec.IsTerminal(self),
	}
}

// Expiry is when the hop's signed lifetime ends.
func (h *TransitHop) Expiry() time.Time {
	return h.Started.Add(h.Lifetime)
}

// ExpiredAt reports whether the lifetime has elapsed at now.
func (h *TransitHop) ExpiredAt(now time.Time) bool {
	return monotonic.IsExpiredAt(h.Started, h.Lifetime, now)
}

// acceptUpstreamSeq records seq if it is newer than everything seen so
// far from the originator.
func (h *TransitHop) acceptUpstreamSeq(seq uint64) bool {
	if seq <= h.lastUpSeq {
		return false
	}
	h.lastUpSeq = seq
	return true
}

func (h *TransitHop) nextDownstreamSeq() uint64 {
	h.lastDownSeq++
	return h.lastDownSeq
}

func (h *TransitHop) String() string {
	return "transit hop rx=" + h.RxID.Short() + " tx=" + h.TxID.Short()
}

// statusFor reports how a record that opened correctly fares against the
// relay's acceptance policy.
func statusFor(rec wire.HopRecord, now time.Time, maxSkew time.Duration) wire.Status {
	if rec.Lifetime <= MinLifetime || rec.Lifetime > MaxLifetime {
		return wire.StatusFailMalformed
	}
	if !skew.IsTimestampValidAt(rec.Start, now, maxSkew) {
		return wire.StatusFailDestInvalid
	}
	return wire.StatusSuccess
}
