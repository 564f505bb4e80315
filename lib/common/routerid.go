package common

import (
	"github.com/go-i2p/common/base32"
	"github.com/samber/oops"
)

// RouterIDSize is the length of a RouterID in bytes.
const RouterIDSize = 32

// RouterID is a relay's long-term X25519 public key. It doubles as the
// relay's address on the transport.
type RouterID [RouterIDSize]byte

// RouterIDFromBytes copies b into a RouterID.
func RouterIDFromBytes(b []byte) (RouterID, error) {
	var id RouterID
	if len(b) != RouterIDSize {
		return id, oops.Errorf("invalid router id length %d, want %d", len(b), RouterIDSize)
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether the id is unset.
func (id RouterID) IsZero() bool {
	return id == RouterID{}
}

// Bytes returns a copy of the id as a slice.
func (id RouterID) Bytes() []byte {
	b := make([]byte, RouterIDSize)
	copy(b, id[:])
	return b
}

// String returns the base32 form used in logs and the CLI.
func (id RouterID) String() string {
	return base32.EncodeToString(id[:])
}

// Short returns a 16 character prefix of String, for log fields.
func (id RouterID) Short() string {
	return id.String()[:16]
}
