package domain

type (
	RoomID      string
	PeerID      string
	FlowID      string
	TransportID string
)

// Room is the local view of the room being joined.
type Room struct {
	ID          RoomID
	DisplayName string
}
