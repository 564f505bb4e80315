package wire

import (
	"errors"
	"fmt"
)

const (
	// ProtoVersion is the only wire version this package speaks.
	ProtoVersion = 1

	// MaxLen is the hard upper bound on hops in a path. Commit and status
	// messages always carry exactly MaxLen frames.
	MaxLen = 8
)

var (
	// ErrVersionMismatch is returned for a missing or unknown version field.
	ErrVersionMismatch = errors.New("protocol version mismatch")
	// ErrMalformed is returned for structurally invalid input.
	ErrMalformed = errors.New("malformed message")
)

func checkVersion(what string, v int64) error {
	if v != ProtoVersion {
		return fmt.Errorf("%w: %s has version %d, want %d", ErrVersionMismatch, what, v, ProtoVersion)
	}
	return nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
