package domain

type FlowDirection string

const (
	FlowOutbound FlowDirection = "outbound"
	FlowInbound  FlowDirection = "inbound"
)

type FlowState int

const (
	FlowPending FlowState = iota
	FlowActive
	FlowClosed
)

func (s FlowState) String() string {
	switch s {
	case FlowPending:
		return "pending"
	case FlowActive:
		return "active"
	case FlowClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s FlowState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Flow is one negotiated media track. For inbound flows ID is the local
// consumer id and RemoteID the server producer id; Owner is a lookup key,
// never an owning reference.
type Flow struct {
	ID        FlowID        `json:"id"`
	RemoteID  FlowID        `json:"remoteId,omitempty"`
	Kind      MediaKind     `json:"kind"`
	Direction FlowDirection `json:"direction"`
	Owner     PeerID        `json:"owner,omitempty"`
	State     FlowState     `json:"state"`
	Paused    bool          `json:"paused,omitempty"`
}
