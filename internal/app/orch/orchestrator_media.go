package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
)

// localMedia tracks capture and the produce handshakes of the local tracks.
type localMedia struct {
	started   bool
	captured  bool
	tracks    core.LocalTracks
	producing bool
	expected  int
	produced  int
}

func (m *localMedia) stop() {
	if m.captured {
		m.tracks.Stop()
	}
}

func (m *localMedia) track(kind domain.MediaKind) core.LocalTrack {
	switch kind {
	case domain.KindAudio:
		return m.tracks.Audio
	case domain.KindVideo:
		return m.tracks.Video
	}
	return nil
}

// startCapture acquires local media once both transports exist. Producing
// still waits for both to be connected.
func (s *Session) startCapture() {
	if s.media.started {
		return
	}
	s.media.started = true
	ctx, constraints := s.ctx, s.opts.Capture
	s.spawn(func() {
		tracks, err := s.deps.Capture.AcquireLocalTracks(ctx, constraints)
		if !s.post(func() { s.onCaptured(tracks, err) }) {
			tracks.Stop()
		}
	})
}

func (s *Session) onCaptured(tracks core.LocalTracks, err error) {
	if terminal(s.current()) || s.current() == PhaseLeaving {
		tracks.Stop()
		return
	}
	if err != nil {
		tracks.Stop()
		if errors.Is(err, core.ErrPermissionDenied) {
			s.fail("camera/microphone permission denied", err)
		} else {
			s.fail("media capture failed", err)
		}
		return
	}
	s.media.tracks = tracks
	s.media.captured = true
	log.Info().Str("module", "orch").
		Str("room", string(s.room.ID)).
		Bool("audio", tracks.Audio != nil).
		Bool("video", tracks.Video != nil).
		Msg("local media ready")
	s.hub.emit(LocalMediaReady{Tracks: tracks})
	s.startProducing()
}

// startProducing runs once capture finished and the session entered the
// producing phase, in whichever order those happen.
func (s *Session) startProducing() {
	if s.current() != PhaseProducing || !s.media.captured || s.media.producing {
		return
	}
	s.media.producing = true
	for _, t := range []core.LocalTrack{s.media.tracks.Audio, s.media.tracks.Video} {
		if t == nil {
			continue
		}
		if !s.caps.CanSend(t.Kind()) {
			log.Warn().Str("module", "orch").Str("kind", string(t.Kind())).Msg("router cannot receive this kind, not producing it")
			continue
		}
		track := t
		if err := s.transports.Produce(track, func(p core.Producer, err error) { s.onProduceDone(track, p, err) }); err != nil {
			s.fail("could not start producing", err)
			return
		}
		s.media.expected++
	}
	if s.media.expected == 0 {
		s.advance(evGoLive)
	}
}

func (s *Session) onProduceDone(track core.LocalTrack, p core.Producer, err error) {
	if terminal(s.current()) || s.current() == PhaseLeaving {
		if p != nil {
			p.Close()
		}
		return
	}
	if err != nil {
		s.fail(fmt.Sprintf("could not produce %s", track.Kind()), err)
		return
	}
	f, err := s.flows.RegisterOutbound(p)
	if err != nil {
		p.Close()
		s.warn(app.WarnDuplicateEvent, err.Error())
		return
	}
	if !track.Enabled() {
		f, _ = s.flows.SetOutboundPaused(track.Kind(), true)
	}
	s.deps.Metrics.FlowAdded(string(domain.FlowOutbound))
	s.hub.emit(FlowAdded{Flow: f, Producer: p})

	s.media.produced++
	if s.media.produced == s.media.expected && s.current() == PhaseProducing {
		s.advance(evGoLive)
	}
}

// onInboundActive attaches an activated inbound flow to its owner, creating
// a placeholder peer if the owner was not announced yet.
func (s *Session) onInboundActive(f domain.Flow, c core.Consumer) {
	s.deps.Metrics.FlowAdded(string(domain.FlowInbound))
	if _, ok := s.peers.Ensure(f.Owner); !ok {
		s.warn(app.WarnDepartedPeer, fmt.Sprintf("flow %s of departed peer %s", f.ID, f.Owner))
		s.flows.Close(f.ID)
		return
	}
	audio, video := s.flows.Presence(f.Owner)
	s.peers.SetPresence(f.Owner, audio, video)
	s.hub.emit(FlowAdded{Flow: f, Consumer: c})
}

func (s *Session) onFlowRemoved(f domain.Flow, wasActive bool) {
	if !wasActive {
		return
	}
	s.deps.Metrics.FlowRemoved(string(f.Direction))
	if f.Direction == domain.FlowInbound {
		audio, video := s.flows.Presence(f.Owner)
		s.peers.SetPresence(f.Owner, audio, video)
	}
	s.hub.emit(FlowRemoved{Flow: f})
}

// SetLocalEnabled mutes or unmutes a local track and pauses its outbound flow.
func (s *Session) SetLocalEnabled(ctx context.Context, kind domain.MediaKind, enabled bool) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown media kind %q", kind)
	}
	return s.call(ctx, func() error {
		t := s.media.track(kind)
		if t == nil {
			return ErrNoLocalTrack
		}
		if t.Enabled() == enabled {
			return nil
		}
		t.SetEnabled(enabled)
		s.flows.SetOutboundPaused(kind, !enabled)
		s.hub.emit(LocalMediaToggled{Kind: kind, Enabled: enabled})
		return nil
	})
}
