package crypto

import (
	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

// NonceSize is the XChaCha20 nonce length.
const NonceSize = 24

// Nonce is a 24-byte XChaCha20 nonce. Relay layers walk the nonce along the
// path by XORing it with each hop's NonceXOR.
type Nonce [NonceSize]byte

// RandomNonce returns a uniformly random nonce.
func RandomNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, oops.Wrapf(err, "failed to generate nonce")
	}
	return n, nil
}

// NonceFromBytes copies b into a Nonce.
func NonceFromBytes(b []byte) (Nonce, error) {
	var n Nonce
	if len(b) != NonceSize {
		return n, oops.Errorf("invalid nonce length %d, want %d", len(b), NonceSize)
	}
	copy(n[:], b)
	return n, nil
}

// XOR returns n ^ other.
func (n Nonce) XOR(other Nonce) Nonce {
	var out Nonce
	for i := range n {
		out[i] = n[i] ^ other[i]
	}
	return out
}
