package domain

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// Direction of a transport.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool { return d == DirectionSend || d == DirectionRecv }

type TransportState int

const (
	TransportCreated TransportState = iota
	TransportConnecting
	TransportConnected
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportCreated:
		return "created"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s TransportState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Transport is the read-only view of one negotiated transport.
type Transport struct {
	ID        TransportID    `json:"id"`
	Direction Direction      `json:"direction"`
	State     TransportState `json:"state"`
}
