package onion

import (
	"errors"
	"fmt"

	"github.com/go-i2p/go-onionpath/lib/wire"
)

var (
	// ErrCryptoFailure covers key agreement and authenticated decryption
	// failures. It never carries secret material.
	ErrCryptoFailure = errors.New("crypto failure")
	// ErrHopCount is returned for paths outside 1..MaxLen hops.
	ErrHopCount = errors.New("hop count out of range")
	// ErrOutOfOrder is returned when a status frame opens only under the
	// reply key of a different hop.
	ErrOutOfOrder = errors.New("status frame out of order")
	// ErrMalformedStatus is returned when a status frame opens under no
	// hop's reply key or does not decode.
	ErrMalformedStatus = errors.New("malformed status frame")
)

// HopRejectedError reports the first hop whose status frame is not SUCCESS.
type HopRejectedError struct {
	Hop    int
	Status wire.Status
}

func (e *HopRejectedError) Error() string {
	return fmt.Sprintf("hop %d rejected path: %s", e.Hop, e.Status)
}
