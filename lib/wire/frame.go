package wire

import (
	"encoding/binary"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"

	"github.com/go-i2p/go-onionpath/lib/crypto"
)

const (
	// FrameSize is the fixed size of one hop frame in a commit.
	FrameSize = 512
	// StatusFrameSize is the fixed size of one status frame.
	StatusFrameSize = 128

	frameLenPrefix = 2
)

// PackFrame places body behind a two-byte length prefix and fills the rest
// of a size-byte frame with random padding.
func PackFrame(body []byte, size int) ([]byte, error) {
	if len(body)+frameLenPrefix > size {
		return nil, oops.Errorf("frame body of %d bytes exceeds frame size %d", len(body), size)
	}
	frame := make([]byte, size)
	binary.BigEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[frameLenPrefix:], body)
	if _, err := rand.Read(frame[frameLenPrefix+len(body):]); err != nil {
		return nil, oops.Wrapf(err, "failed to pad frame")
	}
	return frame, nil
}

// UnpackFrame returns the body of a frame built by PackFrame.
func UnpackFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameLenPrefix {
		return nil, malformed("frame of %d bytes too short", len(frame))
	}
	n := int(binary.BigEndian.Uint16(frame))
	if n == 0 || n > len(frame)-frameLenPrefix {
		return nil, malformed("frame length %d out of range", n)
	}
	return frame[frameLenPrefix : frameLenPrefix+n], nil
}

// RandomFrame returns size random bytes. Random frames pad commits and
// status chains so their length does not reveal the hop count.
func RandomFrame(size int) ([]byte, error) {
	frame := make([]byte, size)
	if _, err := rand.Read(frame); err != nil {
		return nil, oops.Wrapf(err, "failed to generate random frame")
	}
	return frame, nil
}

// HopFrame is the sealed envelope around one HopRecord.
type HopFrame struct {
	// Ephemeral is the public half of the one-time key the frame was
	// sealed with.
	Ephemeral crypto.PublicKey
	// Nonce keys the frame's key agreement and its AEAD.
	Nonce crypto.Nonce
	// Ciphertext is the sealed bencoded HopRecord.
	Ciphertext []byte
}

type hopFrameDict struct {
	Ephemeral  []byte `bencode:"k"`
	Nonce      []byte `bencode:"n"`
	Version    int64  `bencode:"v"`
	Ciphertext []byte `bencode:"x"`
}

// Pack encodes f into a FrameSize frame.
func (f HopFrame) Pack() ([]byte, error) {
	body, err := encode(hopFrameDict{
		Ephemeral:  f.Ephemeral[:],
		Nonce:      f.Nonce[:],
		Version:    ProtoVersion,
		Ciphertext: f.Ciphertext,
	})
	if err != nil {
		return nil, err
	}
	return PackFrame(body, FrameSize)
}

// UnpackHopFrame parses a FrameSize frame into its envelope.
func UnpackHopFrame(frame []byte) (HopFrame, error) {
	if len(frame) != FrameSize {
		return HopFrame{}, malformed("hop frame has %d bytes, want %d", len(frame), FrameSize)
	}
	body, err := UnpackFrame(frame)
	if err != nil {
		return HopFrame{}, err
	}
	var d hopFrameDict
	if err := decode(body, &d); err != nil {
		return HopFrame{}, err
	}
	if err := checkVersion("hop frame", d.Version); err != nil {
		return HopFrame{}, err
	}
	var f HopFrame
	if err := copyFixed(f.Ephemeral[:], d.Ephemeral, "k"); err != nil {
		return HopFrame{}, err
	}
	if err := copyFixed(f.Nonce[:], d.Nonce, "n"); err != nil {
		return HopFrame{}, err
	}
	if len(d.Ciphertext) < crypto.Overhead {
		return HopFrame{}, malformed("hop frame ciphertext too short")
	}
	f.Ciphertext = d.Ciphertext
	return f, nil
}

// StatusRecord is the plaintext a relay seals into its status frame.
type StatusRecord struct {
	Status Status
}

type statusRecordDict struct {
	Status  int64 `bencode:"s"`
	Version int64 `bencode:"v"`
}

// EncodeStatusRecord serializes r.
func EncodeStatusRecord(r StatusRecord) ([]byte, error) {
	return encode(statusRecordDict{Status: int64(r.Status), Version: ProtoVersion})
}

// DecodeStatusRecord parses a bencoded status record.
func DecodeStatusRecord(b []byte) (StatusRecord, error) {
	var d statusRecordDict
	if err := decode(b, &d); err != nil {
		return StatusRecord{}, err
	}
	if err := checkVersion("status record", d.Version); err != nil {
		return StatusRecord{}, err
	}
	if d.Status <= 0 {
		return StatusRecord{}, malformed("status record without status")
	}
	return StatusRecord{Status: Status(d.Status)}, nil
}
