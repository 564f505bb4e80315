package common

import (
	"encoding/hex"
	"errors"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

// PathIDSize is the length of a PathID in bytes.
const PathIDSize = 16

// ErrZeroPathID is returned when an all-zero PathID is decoded.
var ErrZeroPathID = errors.New("path id is zero")

// PathID identifies one direction of one hop-link of a path. A relay never
// holds two transit hops sharing a PathID.
type PathID [PathIDSize]byte

// RandomPathID returns a fresh non-zero PathID.
func RandomPathID() (PathID, error) {
	var id PathID
	for id.IsZero() {
		if _, err := rand.Read(id[:]); err != nil {
			return PathID{}, oops.Wrapf(err, "failed to generate path id")
		}
	}
	return id, nil
}

// PathIDFromBytes copies b into a PathID. It rejects wrong lengths and the
// zero id.
func PathIDFromBytes(b []byte) (PathID, error) {
	var id PathID
	if len(b) != PathIDSize {
		return id, oops.Errorf("invalid path id length %d, want %d", len(b), PathIDSize)
	}
	copy(id[:], b)
	if id.IsZero() {
		return id, ErrZeroPathID
	}
	return id, nil
}

// IsZero reports whether every byte of the id is zero.
func (id PathID) IsZero() bool {
	return id == PathID{}
}

// Bytes returns a copy of the id as a slice.
func (id PathID) Bytes() []byte {
	b := make([]byte, PathIDSize)
	copy(b, id[:])
	return b
}

func (id PathID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for log fields.
func (id PathID) Short() string {
	return id.String()[:8]
}
