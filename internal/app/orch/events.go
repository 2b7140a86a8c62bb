package orch

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
)

// Event is a state change delivered to subscribers.
type Event interface {
	EventName() string
}

type PhaseChanged struct {
	From, To string
	// Err is set when To is the failed phase.
	Err error
}

type PeerAdded struct{ Peer domain.Peer }

type PeerUpdated struct{ Peer domain.Peer }

type PeerRemoved struct{ Peer domain.Peer }

// FlowAdded carries the engine handle so presentation can attach media
// right away. Exactly one of Producer and Consumer is set.
type FlowAdded struct {
	Flow     domain.Flow
	Producer core.Producer
	Consumer core.Consumer
}

type FlowRemoved struct{ Flow domain.Flow }

// LocalMediaReady fires once capture produced its tracks.
type LocalMediaReady struct{ Tracks core.LocalTracks }

type LocalMediaToggled struct {
	Kind    domain.MediaKind
	Enabled bool
}

type PinCleared struct{ Peer domain.PeerID }

type Warning struct {
	Reason  app.WarningReason
	Message string
}

func (PhaseChanged) EventName() string      { return "phase_changed" }
func (PeerAdded) EventName() string         { return "peer_added" }
func (PeerUpdated) EventName() string       { return "peer_updated" }
func (PeerRemoved) EventName() string       { return "peer_removed" }
func (FlowAdded) EventName() string         { return "flow_added" }
func (FlowRemoved) EventName() string       { return "flow_removed" }
func (LocalMediaReady) EventName() string   { return "local_media_ready" }
func (LocalMediaToggled) EventName() string { return "local_media_toggled" }
func (PinCleared) EventName() string        { return "pin_cleared" }
func (Warning) EventName() string           { return "warning" }

type subscriber struct {
	ch      chan Event
	dropped int
}

// hub fans events out to subscribers without ever blocking the loop.
type hub struct {
	mu     sync.Mutex
	room   domain.RoomID
	policy app.Policy
	buffer int
	subs   map[*subscriber]struct{}
	closed bool
	onDrop func()
}

func newHub(room domain.RoomID, policy app.Policy, buffer int, onDrop func()) *hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &hub{
		room:   room,
		policy: policy,
		buffer: buffer,
		subs:   make(map[*subscriber]struct{}),
		onDrop: onDrop,
	}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &subscriber{ch: make(chan Event, h.buffer)}
	if h.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	return s.ch, func() { h.remove(s) }
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

func (h *hub) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
			s.dropped = 0
			continue
		default:
		}
		s.dropped++
		if h.onDrop != nil {
			h.onDrop()
		}
		action := app.DropEvent
		if h.policy != nil {
			action = h.policy.OnBackPressure(h.room, s.dropped)
		}
		log.Warn().Str("module", "orch").
			Str("room", string(h.room)).
			Str("reason", string(app.WarnSlowSubscriber)).
			Str("event", ev.EventName()).
			Int("dropped", s.dropped).
			Msg("subscriber too slow")
		if action == app.Unsubscribe {
			delete(h.subs, s)
			close(s.ch)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	clear(h.subs)
}
