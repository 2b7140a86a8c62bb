package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// RTPWriter is where relayed packets go, e.g. a *webrtc.TrackLocalStaticRTP
// feeding a player or a recorder.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// RTPReader is the inbound side of a consumer.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// Sink is one attachment to a relay.
type Sink struct {
	W     RTPWriter
	state atomic.Int32 // Zero by default (SinkStateOk)
}

func NewSink(w RTPWriter) *Sink { return &Sink{W: w} }

func (s *Sink) State() SinkState { return SinkState(s.state.Load()) }
func (s *Sink) MarkOk()          { s.state.Store(int32(SinkStateOk)) }
func (s *Sink) MarkMuted()       { s.state.Store(int32(SinkStateMuted)) }
func (s *Sink) MarkDelete()      { s.state.Store(int32(SinkStateDelete)) }

// Relay reads RTP from one consumer and forwards it to every attached sink.
type Relay struct {
	src RTPReader

	mu    sync.RWMutex
	sinks map[string]*Sink

	done chan struct{}
}

func NewRelay(src RTPReader) *Relay {
	return &Relay{
		src:   src,
		sinks: make(map[string]*Sink),
		done:  make(chan struct{}),
	}
}

// Run forwards packets until ctx ends or the source fails.
func (r *Relay) Run(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done, marking all sinks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

// Done is closed when Run returned.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.sinks)
	r.mu.RUnlock()

	var dirty []string
	for id, s := range snapshot {
		switch s.State() {
		case SinkStateDelete:
			dirty = append(dirty, id)
		case SinkStateMuted:
		case SinkStateOk:
			if err := s.W.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("sink", id).Msg("relay write RTP error, dropping sink")
				s.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.sinks, id)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		s.MarkDelete()
	}
}

// Attach adds or replaces the sink registered under id.
func (r *Relay) Attach(id string, s *Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sinks[id]; ok {
		old.MarkDelete()
	}
	r.sinks[id] = s
}

func (r *Relay) Detach(id string) {
	r.mu.RLock()
	s, ok := r.sinks[id]
	r.mu.RUnlock()
	if ok {
		s.MarkDelete()
	}
}

func (r *Relay) Sinks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
