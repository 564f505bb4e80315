package path

import (
	"errors"
	"fmt"

	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

// ErrNotEstablished is returned when sending on a path that cannot carry
// traffic.
var ErrNotEstablished = errors.New("path not established")

// ErrStopped is returned by a PathSet after Stop.
var ErrStopped = errors.New("path set stopped")

// FailureKind classifies a failed build.
type FailureKind int

const (
	// SelectionFailure means no eligible hop was found.
	SelectionFailure FailureKind = iota + 1
	// CryptoFailure means key agreement or sealing failed.
	CryptoFailure
	// ProtocolViolation covers malformed or out of order status chains and
	// hops answering with a protocol level reject.
	ProtocolViolation
	// TimeoutFailure means the status chain did not arrive in time.
	TimeoutFailure
	// CapacityExceeded means a hop was congested.
	CapacityExceeded
	// Cancelled means the job was cancelled before it finished.
	Cancelled
)

func (k FailureKind) String() string {
	switch k {
	case SelectionFailure:
		return "SelectionFailure"
	case CryptoFailure:
		return "CryptoFailure"
	case ProtocolViolation:
		return "ProtocolViolation"
	case TimeoutFailure:
		return "Timeout"
	case CapacityExceeded:
		return "CapacityExceeded"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// BuildError describes why a build failed. Hop is -1 unless a specific
// hop is to blame; Status is set when that hop answered with a reject.
type BuildError struct {
	Kind   FailureKind
	Hop    int
	Status wire.Status
	Err    error
}

func (e *BuildError) Error() string {
	msg := "path build failed: " + e.Kind.String()
	if e.Hop >= 0 {
		msg += fmt.Sprintf(" at hop %d", e.Hop)
	}
	if e.Status != 0 {
		msg += " (" + e.Status.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or zero if err is not a
// *BuildError.
func KindOf(err error) FailureKind {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

func buildError(kind FailureKind, err error) *BuildError {
	return &BuildError{Kind: kind, Hop: -1, Err: err}
}

// classifyChainError maps a status chain verification error.
func classifyChainError(err error) *BuildError {
	var rejected *onion.HopRejectedError
	if errors.As(err, &rejected) {
		return &BuildError{
			Kind:   kindForStatus(rejected.Status),
			Hop:    rejected.Hop,
			Status: rejected.Status,
			Err:    err,
		}
	}
	if errors.Is(err, onion.ErrCryptoFailure) {
		return buildError(CryptoFailure, err)
	}
	return buildError(ProtocolViolation, err)
}

func kindForStatus(s wire.Status) FailureKind {
	switch {
	case s.Has(wire.StatusFailCongestion):
		return CapacityExceeded
	case s.Has(wire.StatusFailTimeout):
		return TimeoutFailure
	case s.Has(wire.StatusFailDecryptError):
		return CryptoFailure
	case s.Has(wire.StatusFailDestUnknown), s.Has(wire.StatusFailCannotConnect):
		return SelectionFailure
	default:
		return ProtocolViolation
	}
}
