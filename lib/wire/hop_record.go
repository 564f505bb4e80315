package wire

import (
	"time"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
)

// HopRecord is the part of a hop's configuration that the hop itself gets to
// read. Each record is sealed so that exactly one relay can open it.
type HopRecord struct {
	// CommitKey is the public half of the per-hop commit keypair; the
	// relay derives the path key from it.
	CommitKey crypto.PublicKey
	// NextHop names the relay to forward the remaining commit to. A record
	// whose NextHop equals the receiving relay's own id marks the last hop.
	NextHop common.RouterID
	// Nonce keys the path key derivation and seeds the commit onion layer.
	Nonce crypto.Nonce
	// TxID tags traffic this hop sends upstream and receives from upstream.
	TxID common.PathID
	// RxID tags traffic this hop receives from downstream and sends back down.
	RxID common.PathID
	// ReplyKey and ReplyNonce seal this hop's status frame for the originator.
	ReplyKey   crypto.SymmetricKey
	ReplyNonce crypto.Nonce
	// Start and Lifetime bound how long the relay keeps the hop.
	Start    time.Time
	Lifetime time.Duration
}

type hopRecordDict struct {
	CommitKey  []byte `bencode:"c"`
	NextHop    []byte `bencode:"i"`
	ReplyKey   []byte `bencode:"k"`
	Lifetime   int64  `bencode:"l"`
	Nonce      []byte `bencode:"n"`
	ReplyNonce []byte `bencode:"o"`
	RxID       []byte `bencode:"r"`
	Start      int64  `bencode:"s"`
	TxID       []byte `bencode:"t"`
	Version    int64  `bencode:"v"`
}

// IsTerminal reports whether the record addresses the relay self as the
// last hop.
func (r HopRecord) IsTerminal(self common.RouterID) bool {
	return r.NextHop == self
}

// Expiry is the instant the hop stops being valid.
func (r HopRecord) Expiry() time.Time {
	return r.Start.Add(r.Lifetime)
}

// EncodeHopRecord serializes r as a bencoded dictionary.
func EncodeHopRecord(r HopRecord) ([]byte, error) {
	return encode(hopRecordDict{
		CommitKey:  r.CommitKey[:],
		NextHop:    r.NextHop[:],
		ReplyKey:   r.ReplyKey[:],
		Lifetime:   r.Lifetime.Milliseconds(),
		Nonce:      r.Nonce[:],
		ReplyNonce: r.ReplyNonce[:],
		RxID:       r.RxID[:],
		Start:      r.Start.UnixMilli(),
		TxID:       r.TxID[:],
		Version:    ProtoVersion,
	})
}

// DecodeHopRecord parses a bencoded hop record. Any missing field, wrong
// length, zero path id or version mismatch is an error.
func DecodeHopRecord(b []byte) (HopRecord, error) {
	var d hopRecordDict
	if err := decode(b, &d); err != nil {
		return HopRecord{}, err
	}
	if err := checkVersion("hop record", d.Version); err != nil {
		return HopRecord{}, err
	}

	var r HopRecord
	for _, f := range []struct {
		name string
		dst  []byte
		src  []byte
	}{
		{"c", r.CommitKey[:], d.CommitKey},
		{"i", r.NextHop[:], d.NextHop},
		{"k", r.ReplyKey[:], d.ReplyKey},
		{"n", r.Nonce[:], d.Nonce},
		{"o", r.ReplyNonce[:], d.ReplyNonce},
		{"r", r.RxID[:], d.RxID},
		{"t", r.TxID[:], d.TxID},
	} {
		if err := copyFixed(f.dst, f.src, f.name); err != nil {
			return HopRecord{}, err
		}
	}
	if r.TxID.IsZero() || r.RxID.IsZero() {
		return HopRecord{}, malformed("zero path id")
	}
	if r.TxID == r.RxID {
		return HopRecord{}, malformed("tx and rx path ids are equal")
	}
	if d.Lifetime <= 0 || d.Start <= 0 {
		return HopRecord{}, malformed("missing lifetime")
	}
	r.Start = time.UnixMilli(d.Start)
	r.Lifetime = time.Duration(d.Lifetime) * time.Millisecond
	return r, nil
}
