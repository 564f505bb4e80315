package onion

import (
	"fmt"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

// Commit is the result of sealing a path: the message for the first hop and
// the key material derived for every hop, in hop order.
type Commit struct {
	Message *wire.CommitMessage
	Keys    []HopKeys
}

// EncryptCommit seals hops into a commit message. It does one X25519 pair
// per hop for the commit key and one for the frame, so callers run it off
// the logic loop. hops is not modified.
func EncryptCommit(hops []HopConfig) (*Commit, error) {
	n := len(hops)
	if n < 1 || n > wire.MaxLen {
		return nil, fmt.Errorf("%w: %d", ErrHopCount, n)
	}

	frames := make([][]byte, wire.MaxLen)
	for j := n; j < wire.MaxLen; j++ {
		f, err := wire.RandomFrame(wire.FrameSize)
		if err != nil {
			return nil, err
		}
		frames[j] = f
	}

	keys := make([]HopKeys, n)
	for i := n - 1; i >= 0; i-- {
		hop := hops[i]
		commitKP, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		pathKey, err := crypto.DHClient(commitKP, hop.RelayKey(), hop.Nonce)
		if err != nil {
			return nil, fmt.Errorf("%w: hop %d: %v", ErrCryptoFailure, i, err)
		}
		commitKP.Zero()

		hop.Keys = HopKeys{
			CommitKey: commitKP.Public,
			Layer:     Layer{PathKey: pathKey, NonceXOR: crypto.DeriveNonceXOR(pathKey)},
		}
		keys[i] = hop.Keys

		frame, err := SealHopFrame(hop.Record(), hop.RelayKey())
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		frames[i] = frame

		commitNonce := hop.Nonce.XOR(hop.Keys.Layer.NonceXOR)
		for j := i + 1; j < wire.MaxLen; j++ {
			if err := crypto.Onion(frames[j], pathKey, commitNonce); err != nil {
				return nil, err
			}
		}
	}

	acks := make([][]byte, wire.MaxLen)
	for j := range acks {
		a, err := wire.RandomFrame(wire.StatusFrameSize)
		if err != nil {
			return nil, err
		}
		acks[j] = a
	}

	return &Commit{
		Message: &wire.CommitMessage{Frames: frames, Acks: acks},
		Keys:    keys,
	}, nil
}

// SealHopFrame encrypts rec for the relay holding relayKey, under a one-time
// ephemeral key so frames of one path cannot be linked by key reuse.
func SealHopFrame(rec wire.HopRecord, relayKey crypto.PublicKey) ([]byte, error) {
	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer eph.Zero()
	nonce, err := crypto.RandomNonce()
	if err != nil {
		return nil, err
	}
	key, err := crypto.DHClient(eph, relayKey, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	body, err := wire.EncodeHopRecord(rec)
	if err != nil {
		return nil, err
	}
	ct, err := crypto.Seal(key, nonce, body)
	if err != nil {
		return nil, err
	}
	return wire.HopFrame{Ephemeral: eph.Public, Nonce: nonce, Ciphertext: ct}.Pack()
}

// OpenHopFrame is the relay-side half of the hop record codec: it opens a
// frame with the relay's long-term key and decodes the record inside.
// Decryption failures wrap ErrCryptoFailure; structural ones wrap
// wire.ErrMalformed or wire.ErrVersionMismatch.
func OpenHopFrame(frame []byte, relay crypto.KeyPair) (wire.HopRecord, error) {
	hf, err := wire.UnpackHopFrame(frame)
	if err != nil {
		// A frame sealed for someone else is noise to us.
		return wire.HopRecord{}, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	key, err := crypto.DHServer(relay, hf.Ephemeral, hf.Nonce)
	if err != nil {
		return wire.HopRecord{}, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	body, err := crypto.Open(key, hf.Nonce, hf.Ciphertext)
	if err != nil {
		return wire.HopRecord{}, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return wire.DecodeHopRecord(body)
}

// Peeled is what a relay learns from the commit addressed to it.
type Peeled struct {
	Record wire.HopRecord
	Layer  Layer
	// Next is the commit to forward to Record.NextHop. It is meaningless
	// when the relay is the last hop.
	Next *wire.CommitMessage
}

// PeelCommit opens frame 0 with the relay key, derives the hop's path key
// and strips one layer from the remaining frames. msg is not modified.
func PeelCommit(msg *wire.CommitMessage, relay crypto.KeyPair) (*Peeled, error) {
	if msg == nil || len(msg.Frames) != wire.MaxLen {
		return nil, fmt.Errorf("%w: commit without %d frames", wire.ErrMalformed, wire.MaxLen)
	}
	rec, err := OpenHopFrame(msg.Frames[0], relay)
	if err != nil {
		return nil, err
	}
	pathKey, err := crypto.DHServer(relay, rec.CommitKey, rec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: commit key: %v", ErrCryptoFailure, err)
	}
	layer := Layer{PathKey: pathKey, NonceXOR: crypto.DeriveNonceXOR(pathKey)}
	commitNonce := rec.Nonce.XOR(layer.NonceXOR)

	next := make([][]byte, wire.MaxLen)
	for j := 1; j < wire.MaxLen; j++ {
		f := append([]byte(nil), msg.Frames[j]...)
		if err := crypto.Onion(f, pathKey, commitNonce); err != nil {
			return nil, err
		}
		next[j-1] = f
	}
	pad, err := wire.RandomFrame(wire.FrameSize)
	if err != nil {
		return nil, err
	}
	next[wire.MaxLen-1] = pad

	return &Peeled{
		Record: rec,
		Layer:  layer,
		Next:   &wire.CommitMessage{Frames: next, Acks: msg.Acks},
	}, nil
}

// TerminalOf reports whether p addresses self as the last hop.
func (p *Peeled) TerminalOf(self common.RouterID) bool {
	return p.Record.IsTerminal(self)
}
