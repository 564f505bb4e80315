package onion

import (
	"fmt"

	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

// ReplyKey seals one hop's status frame.
type ReplyKey struct {
	Key   crypto.SymmetricKey
	Nonce crypto.Nonce
}

// Reply returns the hop's reply key.
func (h *HopConfig) Reply() ReplyKey {
	return ReplyKey{Key: h.ReplyKey, Nonce: h.ReplyNonce}
}

// ReplyOf returns the reply key carried in a relay's hop record.
func ReplyOf(rec wire.HopRecord) ReplyKey {
	return ReplyKey{Key: rec.ReplyKey, Nonce: rec.ReplyNonce}
}

// SealStatusFrame builds a StatusFrameSize frame holding status, readable
// only with rk.
func SealStatusFrame(rk ReplyKey, status wire.Status) ([]byte, error) {
	body, err := wire.EncodeStatusRecord(wire.StatusRecord{Status: status})
	if err != nil {
		return nil, err
	}
	ct, err := crypto.Seal(rk.Key, rk.Nonce, body)
	if err != nil {
		return nil, err
	}
	return wire.PackFrame(ct, wire.StatusFrameSize)
}

// OpenStatusFrame opens a frame sealed by SealStatusFrame.
func OpenStatusFrame(rk ReplyKey, frame []byte) (wire.Status, error) {
	if len(frame) != wire.StatusFrameSize {
		return 0, fmt.Errorf("%w: frame has %d bytes", ErrMalformedStatus, len(frame))
	}
	ct, err := wire.UnpackFrame(frame)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	body, err := crypto.Open(rk.Key, rk.Nonce, ct)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	rec, err := wire.DecodeStatusRecord(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	return rec.Status, nil
}

// AddStatusFrame shifts frames right by one, dropping the last, and puts a
// frame sealed with rk at index 0. frames is not modified.
func AddStatusFrame(frames [][]byte, rk ReplyKey, status wire.Status) ([][]byte, error) {
	if len(frames) != wire.MaxLen {
		return nil, fmt.Errorf("%w: chain of %d frames", ErrMalformedStatus, len(frames))
	}
	sealed, err := SealStatusFrame(rk, status)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, wire.MaxLen)
	out[0] = sealed
	copy(out[1:], frames[:wire.MaxLen-1])
	return out, nil
}

// VerifyStatusChain checks the reply chain for a path whose hops hold
// replies, in hop order. It returns nil only when every hop answered
// SUCCESS at its own index. The first non-success answer is reported as a
// *HopRejectedError; frames after it are never inspected.
func VerifyStatusChain(frames [][]byte, replies []ReplyKey) error {
	if len(frames) != wire.MaxLen {
		return fmt.Errorf("%w: chain of %d frames", ErrMalformedStatus, len(frames))
	}
	if len(replies) < 1 || len(replies) > wire.MaxLen {
		return fmt.Errorf("%w: %d", ErrHopCount, len(replies))
	}
	for i, rk := range replies {
		status, err := OpenStatusFrame(rk, frames[i])
		if err != nil {
			if owner := frameOwner(frames[i], replies, i); owner >= 0 {
				return fmt.Errorf("%w: index %d holds hop %d", ErrOutOfOrder, i, owner)
			}
			return fmt.Errorf("%w: index %d: %v", ErrMalformedStatus, i, err)
		}
		if !status.IsSuccess() {
			return &HopRejectedError{Hop: i, Status: status}
		}
	}
	return nil
}

func frameOwner(frame []byte, replies []ReplyKey, skip int) int {
	for j, rk := range replies {
		if j == skip {
			continue
		}
		if _, err := OpenStatusFrame(rk, frame); err == nil {
			return j
		}
	}
	return -1
}
