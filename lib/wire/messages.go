package wire

import (
	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
)

// MessageKind is the value of the "a" key selecting a link message type.
type MessageKind string

const (
	KindCommit     MessageKind = "c"
	KindStatus     MessageKind = "s"
	KindUpstream   MessageKind = "u"
	KindDownstream MessageKind = "d"
)

// LinkMessage is implemented only by the message types of this package.
type LinkMessage interface {
	Kind() MessageKind
	isLinkMessage()
}

// CommitMessage asks each relay on a path to install a transit hop.
type CommitMessage struct {
	// Frames holds MaxLen hop frames; frame 0 is for the receiving relay.
	Frames [][]byte
	// Acks holds MaxLen placeholder status frames used to seed the
	// status chain.
	Acks [][]byte
}

// StatusMessage carries the chain of sealed status frames back toward the
// originator.
type StatusMessage struct {
	PathID common.PathID
	// Status is the chain's overall status. Relays use it to decide whether
	// to keep their hop; the originator trusts only the sealed frames.
	Status Status
	Frames [][]byte
}

// RelayUpstream carries layered routing data away from the originator.
type RelayUpstream struct {
	PathID  common.PathID
	Nonce   crypto.Nonce
	Payload []byte
}

// RelayDownstream carries layered routing data toward the originator.
type RelayDownstream struct {
	PathID  common.PathID
	Nonce   crypto.Nonce
	Payload []byte
}

func (*CommitMessage) Kind() MessageKind   { return KindCommit }
func (*StatusMessage) Kind() MessageKind   { return KindStatus }
func (*RelayUpstream) Kind() MessageKind   { return KindUpstream }
func (*RelayDownstream) Kind() MessageKind { return KindDownstream }

func (*CommitMessage) isLinkMessage()   {}
func (*StatusMessage) isLinkMessage()   {}
func (*RelayUpstream) isLinkMessage()   {}
func (*RelayDownstream) isLinkMessage() {}

type linkHeader struct {
	Kind    string `bencode:"a"`
	Version int64  `bencode:"v"`
}

type commitDict struct {
	Kind    string   `bencode:"a"`
	Frames  [][]byte `bencode:"c"`
	Acks    [][]byte `bencode:"k"`
	Version int64    `bencode:"v"`
}

type statusDict struct {
	Kind    string   `bencode:"a"`
	Frames  [][]byte `bencode:"c"`
	PathID  []byte   `bencode:"p"`
	Status  int64    `bencode:"s"`
	Version int64    `bencode:"v"`
}

type relayDict struct {
	Kind    string `bencode:"a"`
	Nonce   []byte `bencode:"n"`
	PathID  []byte `bencode:"p"`
	Version int64  `bencode:"v"`
	Payload []byte `bencode:"x"`
}

// EncodeLinkMessage serializes any link message.
func EncodeLinkMessage(m LinkMessage) ([]byte, error) {
	switch msg := m.(type) {
	case *CommitMessage:
		if err := checkFrames("commit frames", msg.Frames, FrameSize); err != nil {
			return nil, err
		}
		if err := checkFrames("commit acks", msg.Acks, StatusFrameSize); err != nil {
			return nil, err
		}
		return encode(commitDict{Kind: string(KindCommit), Frames: msg.Frames, Acks: msg.Acks, Version: ProtoVersion})
	case *StatusMessage:
		if err := checkFrames("status frames", msg.Frames, StatusFrameSize); err != nil {
			return nil, err
		}
		return encode(statusDict{
			Kind:    string(KindStatus),
			Frames:  msg.Frames,
			PathID:  msg.PathID[:],
			Status:  int64(msg.Status),
			Version: ProtoVersion,
		})
	case *RelayUpstream:
		return encode(relayDict{Kind: string(KindUpstream), Nonce: msg.Nonce[:], PathID: msg.PathID[:], Version: ProtoVersion, Payload: msg.Payload})
	case *RelayDownstream:
		return encode(relayDict{Kind: string(KindDownstream), Nonce: msg.Nonce[:], PathID: msg.PathID[:], Version: ProtoVersion, Payload: msg.Payload})
	default:
		return nil, malformed("unknown link message %T", m)
	}
}

// ParseLinkMessage decodes b into one of the link message types.
func ParseLinkMessage(b []byte) (LinkMessage, error) {
	var h linkHeader
	if err := decode(b, &h); err != nil {
		return nil, err
	}
	if err := checkVersion("link message", h.Version); err != nil {
		return nil, err
	}
	switch MessageKind(h.Kind) {
	case KindCommit:
		return parseCommit(b)
	case KindStatus:
		return parseStatus(b)
	case KindUpstream:
		pathID, nonce, payload, err := parseRelay(b)
		if err != nil {
			return nil, err
		}
		return &RelayUpstream{PathID: pathID, Nonce: nonce, Payload: payload}, nil
	case KindDownstream:
		pathID, nonce, payload, err := parseRelay(b)
		if err != nil {
			return nil, err
		}
		return &RelayDownstream{PathID: pathID, Nonce: nonce, Payload: payload}, nil
	default:
		return nil, malformed("unknown link message kind %q", h.Kind)
	}
}

func parseCommit(b []byte) (*CommitMessage, error) {
	var d commitDict
	if err := decode(b, &d); err != nil {
		return nil, err
	}
	if err := checkFrames("commit frames", d.Frames, FrameSize); err != nil {
		return nil, err
	}
	if err := checkFrames("commit acks", d.Acks, StatusFrameSize); err != nil {
		return nil, err
	}
	return &CommitMessage{Frames: d.Frames, Acks: d.Acks}, nil
}

func parseStatus(b []byte) (*StatusMessage, error) {
	var d statusDict
	if err := decode(b, &d); err != nil {
		return nil, err
	}
	if err := checkFrames("status frames", d.Frames, StatusFrameSize); err != nil {
		return nil, err
	}
	pathID, err := common.PathIDFromBytes(d.PathID)
	if err != nil {
		return nil, malformed("status path id: %v", err)
	}
	if d.Status < 0 {
		return nil, malformed("negative status")
	}
	return &StatusMessage{PathID: pathID, Status: Status(d.Status), Frames: d.Frames}, nil
}

func parseRelay(b []byte) (common.PathID, crypto.Nonce, []byte, error) {
	var d relayDict
	if err := decode(b, &d); err != nil {
		return common.PathID{}, crypto.Nonce{}, nil, err
	}
	pathID, err := common.PathIDFromBytes(d.PathID)
	if err != nil {
		return common.PathID{}, crypto.Nonce{}, nil, malformed("relay path id: %v", err)
	}
	var nonce crypto.Nonce
	if err := copyFixed(nonce[:], d.Nonce, "n"); err != nil {
		return common.PathID{}, crypto.Nonce{}, nil, err
	}
	if len(d.Payload) == 0 {
		return common.PathID{}, crypto.Nonce{}, nil, malformed("empty relay payload")
	}
	return pathID, nonce, d.Payload, nil
}

func checkFrames(what string, frames [][]byte, size int) error {
	if len(frames) != MaxLen {
		return malformed("%s: got %d frames, want %d", what, len(frames), MaxLen)
	}
	for i, f := range frames {
		if len(f) != size {
			return malformed("%s: frame %d has %d bytes, want %d", what, i, len(f), size)
		}
	}
	return nil
}
