package orch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/flows"
	"github.com/dkeye/meet/internal/app/negotiate"
	"github.com/dkeye/meet/internal/app/transport"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

var _ core.SignalSink = (*Session)(nil)

// Deliver implements core.SignalSink. It is called from the adapter's read
// pump; decoding happens there and dispatch on the loop.
func (s *Session) Deliver(frame core.Frame) {
	msg, err := signaling.Decode(frame)
	if err != nil {
		s.post(func() { s.warn(app.WarnBadMessage, err.Error()) })
		return
	}
	s.post(func() { s.dispatch(msg) })
}

// OnSignalClosed implements core.SignalSink.
func (s *Session) OnSignalClosed(err error) {
	s.post(func() {
		if s.current() == PhaseLeaving || terminal(s.current()) {
			return
		}
		if err == nil {
			err = errors.New("closed by peer")
		}
		s.fail("signaling channel closed", err)
	})
}

func (s *Session) dispatch(msg signaling.Message) {
	if terminal(s.current()) || s.current() == PhaseLeaving {
		log.Debug().Str("module", "orch").Str("type", string(msg.Type())).Msg("message after leave ignored")
		return
	}
	if s.current() == PhaseIdle {
		s.holdEarly(msg)
		return
	}
	switch m := msg.(type) {
	case signaling.RouterCapabilities:
		s.onRouterCapabilities(m)
	case signaling.TransportCreated:
		s.onTransportCreated(m)
	case signaling.TransportConnected:
		if !s.transports.OnConnected(m) {
			s.warn(app.WarnStaleHandshake, fmt.Sprintf("transport-connected %s without pending connect", m.TransportID))
		}
	case signaling.Produced:
		if !s.transports.OnProduced(m) {
			s.warn(app.WarnDuplicateEvent, fmt.Sprintf("produced %s without pending produce", m.ID))
		}
	case signaling.Consumed:
		if s.flows.OnConsumed(m) == flows.Duplicate {
			s.warn(app.WarnDuplicateEvent, fmt.Sprintf("consumed %s already known", m.ID))
		}
	case signaling.ConsumerResumed:
		if !s.flows.OnResumed(m.ConsumerID) {
			s.warn(app.WarnUnknownFlow, fmt.Sprintf("consumer-resumed for unknown flow %s", m.ConsumerID))
		}
	case signaling.ExistingPeers:
		s.peers.Snapshot(m.Peers)
	case signaling.ExistingProducers:
		for _, p := range m.Producers {
			s.onProducerAnnounced(p)
		}
	case signaling.NewProducer:
		s.onProducerAnnounced(m.ProducerInfo)
	case signaling.PeerJoined:
		s.peers.Upsert(m.PeerID, m.DisplayName)
	case signaling.PeerLeft:
		s.peers.Remove(m.PeerID)
	case signaling.ConsumerClosed:
		if !s.flows.Close(m.ConsumerID) {
			log.Debug().Str("module", "orch").Str("flow_id", string(m.ConsumerID)).Msg("consumer-closed for a flow already gone")
		}
	case signaling.CannotConsume:
		s.flows.Forget(m.ProducerID)
		s.warn(app.WarnCannotConsume, fmt.Sprintf("server cannot consume %s: %s", m.ProducerID, m.Reason))
	case signaling.Error:
		if m.Recoverable {
			s.warn(app.WarnSignalError, m.Message)
			return
		}
		s.fail("server error", errors.New(m.Message))
	default:
		s.warn(app.WarnBadMessage, fmt.Sprintf("unexpected %s from server", msg.Type()))
	}
}

// holdEarly keeps a message that arrived before Join; it is dispatched
// right after the join request went out.
func (s *Session) holdEarly(msg signaling.Message) {
	if len(s.early) >= maxEarlyMessages {
		s.warn(app.WarnBadMessage, fmt.Sprintf("%s before join dropped, too many early messages", msg.Type()))
		return
	}
	s.early = append(s.early, msg)
	log.Debug().Str("module", "orch").Str("type", string(msg.Type())).Msg("message before join held")
}

func (s *Session) onRouterCapabilities(m signaling.RouterCapabilities) {
	if s.current() != PhaseJoining {
		s.warn(app.WarnDuplicateEvent, "router-capabilities after negotiation")
		return
	}
	if !s.advance(evNegotiate) {
		return
	}
	caps, err := negotiate.Negotiate(s.deps.Engine, m.RTPCapabilities)
	if err != nil {
		s.fail("capability negotiation failed", err)
		return
	}
	s.caps = caps
	if !s.advance(evCreateTransports) {
		return
	}
	for _, dir := range []domain.Direction{domain.DirectionSend, domain.DirectionRecv} {
		if err := s.transports.RequestCreate(dir); err != nil {
			s.fail("could not request transports", err)
			return
		}
	}
}

func (s *Session) onTransportCreated(m signaling.TransportCreated) {
	if s.caps == nil {
		s.warn(app.WarnBadMessage, "transport-created before negotiation")
		return
	}
	if err := s.transports.OnCreated(m); err != nil {
		if errors.Is(err, transport.ErrDuplicateTransport) {
			s.warn(app.WarnDuplicateEvent, err.Error())
			return
		}
		s.fail("could not create transport", err)
		return
	}
	if s.transports.BothExist() {
		s.startCapture()
	}
}

func (s *Session) onTransportConnected(domain.Direction) {
	if !s.transports.BothConnected() || s.current() != PhaseCreatingTransports {
		return
	}
	if !s.advance(evProduce) {
		return
	}
	if _, err := s.flows.Flush(); err != nil {
		s.fail("could not request queued flows", err)
		return
	}
	s.startProducing()
}

// onProducerAnnounced indexes the owner and asks to consume the flow.
func (s *Session) onProducerAnnounced(p signaling.ProducerInfo) {
	if p.PeerID != "" && s.peers.Departed(p.PeerID) {
		s.warn(app.WarnDepartedPeer, fmt.Sprintf("producer %s of departed peer %s", p.ProducerID, p.PeerID))
		return
	}
	if err := s.flows.RequestInbound(p.ProducerID, p.PeerID); err != nil {
		s.fail("could not request flow", err)
	}
}

// consumeTarget feeds consume requests. They wait until both transports
// connected at least once.
func (s *Session) consumeTarget() (domain.TransportID, signaling.RTPCapabilities, bool) {
	id, ok := s.transports.ID(domain.DirectionRecv)
	if !ok || s.caps == nil || !s.transports.BothConnected() {
		return "", signaling.RTPCapabilities{}, false
	}
	return id, s.caps.RTP, true
}
