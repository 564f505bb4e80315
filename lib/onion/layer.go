package onion

import (
	"github.com/go-i2p/go-onionpath/lib/crypto"
)

// Layer is one hop's symmetric state for relayed data. It is derived once
// when the hop is committed and never re-derived.
type Layer struct {
	PathKey  crypto.SymmetricKey
	NonceXOR crypto.Nonce
}

// Apply adds or removes this hop's layer in place using the nonce the
// message arrived with, and returns the nonce to send onward.
func (l Layer) Apply(nonce crypto.Nonce, payload []byte) (crypto.Nonce, error) {
	if err := crypto.Onion(payload, l.PathKey, nonce); err != nil {
		return crypto.Nonce{}, err
	}
	return nonce.XOR(l.NonceXOR), nil
}

// WrapUpstream layers payload for every hop so that each relay peels one
// layer in order. It returns the nonce to send to the first hop and the
// layered copy of payload.
func WrapUpstream(payload []byte, layers []Layer) (crypto.Nonce, []byte, error) {
	first, err := crypto.RandomNonce()
	if err != nil {
		return crypto.Nonce{}, nil, err
	}
	out := append([]byte(nil), payload...)
	nonce := first
	for _, l := range layers {
		if nonce, err = l.Apply(nonce, out); err != nil {
			return crypto.Nonce{}, nil, err
		}
	}
	return first, out, nil
}

// UnwrapDownstream removes the layers every hop added to a message the
// originator received with nonce, returning the plaintext copy.
func UnwrapDownstream(nonce crypto.Nonce, payload []byte, layers []Layer) ([]byte, error) {
	out := append([]byte(nil), payload...)
	for _, l := range layers {
		nonce = nonce.XOR(l.NonceXOR)
		if err := crypto.Onion(out, l.PathKey, nonce); err != nil {
			return nil, err
		}
	}
	return out, nil
}
