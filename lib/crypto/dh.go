package crypto

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

// ErrKeyAgreement is returned when X25519 yields the all-zero output, which
// happens for low-order peer points.
var ErrKeyAgreement = errors.New("key agreement failed")

// DHClient derives the shared key from the initiator side: X25519 between
// our private key and the server's public key, bound to both public keys
// and keyed with nonce.
func DHClient(kp KeyPair, server PublicKey, nonce Nonce) (SymmetricKey, error) {
	return deriveShared(kp.Private, server, kp.Public, server, nonce)
}

// DHServer derives the same key from the responder side.
func DHServer(kp KeyPair, client PublicKey, nonce Nonce) (SymmetricKey, error) {
	return deriveShared(kp.Private, client, client, kp.Public, nonce)
}

func deriveShared(priv PrivateKey, peer, clientPub, serverPub PublicKey, nonce Nonce) (SymmetricKey, error) {
	dh, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return SymmetricKey{}, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}
	h, err := blake2b.New256(nonce[:])
	if err != nil {
		return SymmetricKey{}, oops.Wrapf(err, "failed to key blake2b")
	}
	h.Write(dh)
	h.Write(clientPub[:])
	h.Write(serverPub[:])

	var shared SymmetricKey
	copy(shared[:], h.Sum(nil))
	return shared, nil
}

// DeriveNonceXOR returns the per-hop nonce mask derived from a path key.
func DeriveNonceXOR(pathKey SymmetricKey) Nonce {
	sum := blake2b.Sum256(pathKey[:])
	var n Nonce
	copy(n[:], sum[:NonceSize])
	return n
}
