package app

import "github.com/dkeye/meet/internal/domain"

type BackpressureAction int

const (
	DropEvent BackpressureAction = iota
	Unsubscribe
)

type HandshakeAction int

const (
	RetryHandshake HandshakeAction = iota
	FailHandshake
)

type Policy interface {
	// OnBackPressure decides what happens to a subscriber whose queue is full.
	// dropped counts consecutive events already lost by that subscriber.
	OnBackPressure(room domain.RoomID, dropped int) BackpressureAction
	// OnHandshakeTimeout is asked after attempt timed out.
	OnHandshakeTimeout(step string, attempt int) HandshakeAction
}

// SimplePolicy retries a stalled handshake once and drops subscribers that
// lost more than MaxDropped events in a row (zero means never).
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackPressure(_ domain.RoomID, dropped int) BackpressureAction {
	if p.MaxDropped > 0 && dropped > p.MaxDropped {
		return Unsubscribe
	}
	return DropEvent
}

func (SimplePolicy) OnHandshakeTimeout(_ string, attempt int) HandshakeAction {
	if attempt < 2 {
		return RetryHandshake
	}
	return FailHandshake
}
