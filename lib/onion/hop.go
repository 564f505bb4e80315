package onion

import (
	"fmt"
	"time"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

// HopConfig is everything the originator holds for one hop. It never
// leaves the originator; the relay sees only the HopRecord derived from it.
type HopConfig struct {
	Relay common.RelayDescriptor
	// NextHop is the following relay, or Relay.ID for the last hop.
	NextHop common.RouterID

	Nonce      crypto.Nonce
	TxID       common.PathID
	RxID       common.PathID
	ReplyKey   crypto.SymmetricKey
	ReplyNonce crypto.Nonce
	Start      time.Time
	Lifetime   time.Duration

	// Keys are filled in once the commit for this hop has been sealed.
	Keys HopKeys
}

// HopKeys is the key material derived while sealing a hop's frame.
type HopKeys struct {
	CommitKey crypto.PublicKey
	Layer     Layer
}

// NewHopConfigs draws fresh nonces, reply keys and path ids for a path
// over relays, chaining each hop's TxID to the next hop's RxID.
func NewHopConfigs(relays []common.RelayDescriptor, start time.Time, lifetime time.Duration) ([]HopConfig, error) {
	n := len(relays)
	if n < 1 || n > wire.MaxLen {
		return nil, fmt.Errorf("%w: %d", ErrHopCount, n)
	}
	start = time.UnixMilli(start.UnixMilli())
	hops := make([]HopConfig, n)
	for i := range hops {
		h := &hops[i]
		h.Relay = relays[i]
		h.Start = start
		h.Lifetime = lifetime

		var err error
		if h.Nonce, err = crypto.RandomNonce(); err != nil {
			return nil, err
		}
		if h.ReplyNonce, err = crypto.RandomNonce(); err != nil {
			return nil, err
		}
		if h.ReplyKey, err = crypto.RandomSymmetricKey(); err != nil {
			return nil, err
		}
		if h.TxID, err = common.RandomPathID(); err != nil {
			return nil, err
		}
		if h.RxID, err = common.RandomPathID(); err != nil {
			return nil, err
		}
	}
	for i := 0; i < n-1; i++ {
		hops[i].TxID = hops[i+1].RxID
		hops[i].NextHop = hops[i+1].Relay.ID
	}
	hops[n-1].NextHop = hops[n-1].Relay.ID
	return hops, nil
}

// Record returns the wire record for this hop. Keys must be set.
func (h *HopConfig) Record() wire.HopRecord {
	return wire.HopRecord{
		CommitKey:  h.Keys.CommitKey,
		NextHop:    h.NextHop,
		Nonce:      h.Nonce,
		TxID:       h.TxID,
		RxID:       h.RxID,
		ReplyKey:   h.ReplyKey,
		ReplyNonce: h.ReplyNonce,
		Start:      h.Start,
		Lifetime:   h.Lifetime,
	}
}

// RelayKey is the relay's long-term public key.
func (h *HopConfig) RelayKey() crypto.PublicKey {
	return crypto.PublicKey(h.Relay.ID)
}

// Expiry is when the hop's lifetime ends.
func (h *HopConfig) Expiry() time.Time {
	return h.Start.Add(h.Lifetime)
}
