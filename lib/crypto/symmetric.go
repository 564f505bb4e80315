package crypto

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// Overhead is the number of bytes Seal adds to a plaintext.
const Overhead = chacha20poly1305.Overhead

// ErrDecrypt is returned when an authenticated ciphertext does not open.
var ErrDecrypt = errors.New("authenticated decryption failed")

// Onion XORs buf in place with the XChaCha20 keystream for key and nonce.
// Applying it twice with the same inputs restores buf.
func Onion(buf []byte, key SymmetricKey, nonce Nonce) error {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return oops.Wrapf(err, "failed to create onion cipher")
	}
	c.XORKeyStream(buf, buf)
	return nil
}

// Seal encrypts and authenticates plaintext with XChaCha20-Poly1305.
func Seal(key SymmetricKey, nonce Nonce, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create aead")
	}
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Open authenticates and decrypts a ciphertext produced by Seal.
func Open(key SymmetricKey, nonce Nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create aead")
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
