package wire

// RoutingKind is the value of the "A" key selecting a routing message type.
type RoutingKind string

const (
	RoutingLatency RoutingKind = "L"
	RoutingData    RoutingKind = "D"
)

// RoutingMessage is the plaintext exchanged between the originator and the
// terminal hop of an established path.
type RoutingMessage interface {
	RoutingKind() RoutingKind
	// SeqNo is the per-direction sequence number.
	SeqNo() uint64
	isRoutingMessage()
}

// PathLatency is a round-trip probe; the terminal hop echoes the token.
type PathLatency struct {
	Token uint64
	Seq   uint64
}

// PathData carries an application payload.
type PathData struct {
	Payload []byte
	Seq     uint64
}

func (*PathLatency) RoutingKind() RoutingKind { return RoutingLatency }
func (*PathData) RoutingKind() RoutingKind    { return RoutingData }

func (m *PathLatency) SeqNo() uint64 { return m.Seq }
func (m *PathData) SeqNo() uint64    { return m.Seq }

func (*PathLatency) isRoutingMessage() {}
func (*PathData) isRoutingMessage()    {}

type routingHeader struct {
	Kind    string `bencode:"A"`
	Version int64  `bencode:"V"`
}

type latencyDict struct {
	Kind    string `bencode:"A"`
	Token   int64  `bencode:"L"`
	Seq     int64  `bencode:"S"`
	Version int64  `bencode:"V"`
}

type dataDict struct {
	Kind    string `bencode:"A"`
	Payload []byte `bencode:"D"`
	Seq     int64  `bencode:"S"`
	Version int64  `bencode:"V"`
}

// EncodeRoutingMessage serializes a routing message.
func EncodeRoutingMessage(m RoutingMessage) ([]byte, error) {
	switch msg := m.(type) {
	case *PathLatency:
		return encode(latencyDict{Kind: string(RoutingLatency), Token: int64(msg.Token), Seq: int64(msg.Seq), Version: ProtoVersion})
	case *PathData:
		return encode(dataDict{Kind: string(RoutingData), Payload: msg.Payload, Seq: int64(msg.Seq), Version: ProtoVersion})
	default:
		return nil, malformed("unknown routing message %T", m)
	}
}

// ParseRoutingMessage decodes a routing message. Sequence number zero is
// never valid.
func ParseRoutingMessage(b []byte) (RoutingMessage, error) {
	var h routingHeader
	if err := decode(b, &h); err != nil {
		return nil, err
	}
	if err := checkVersion("routing message", h.Version); err != nil {
		return nil, err
	}
	var m RoutingMessage
	switch RoutingKind(h.Kind) {
	case RoutingLatency:
		var d latencyDict
		if err := decode(b, &d); err != nil {
			return nil, err
		}
		if d.Seq < 0 {
			return nil, malformed("negative sequence number")
		}
		m = &PathLatency{Token: uint64(d.Token), Seq: uint64(d.Seq)}
	case RoutingData:
		var d dataDict
		if err := decode(b, &d); err != nil {
			return nil, err
		}
		if d.Seq < 0 {
			return nil, malformed("negative sequence number")
		}
		m = &PathData{Payload: d.Payload, Seq: uint64(d.Seq)}
	default:
		return nil, malformed("unknown routing message kind %q", h.Kind)
	}
	if m.SeqNo() == 0 {
		return nil, malformed("routing message without sequence number")
	}
	return m, nil
}
