package crypto

import (
	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the size of X25519 public and private keys and of all
	// symmetric keys used by the path layer.
	KeySize = 32
)

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is an X25519 private scalar.
type PrivateKey [KeySize]byte

// SymmetricKey is a 32-byte XChaCha20 key.
type SymmetricKey [KeySize]byte

// KeyPair bundles an X25519 private key with its public key.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeyPair returns a fresh X25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, oops.Wrapf(err, "failed to read private key entropy")
	}
	clamp(&kp.Private)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "failed to derive public key")
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// KeyPairFromPrivate rebuilds a keypair from a stored private key.
func KeyPairFromPrivate(priv PrivateKey) (KeyPair, error) {
	clamp(&priv)
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "failed to derive public key")
	}
	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// RandomSymmetricKey returns a uniformly random symmetric key.
func RandomSymmetricKey() (SymmetricKey, error) {
	var k SymmetricKey
	if _, err := rand.Read(k[:]); err != nil {
		return SymmetricKey{}, oops.Wrapf(err, "failed to generate symmetric key")
	}
	return k, nil
}

// Zero overwrites the private half of the pair.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

func clamp(k *PrivateKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
