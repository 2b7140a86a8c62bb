package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app/handshake"
)

// FatalError is the terminal reason of a failed session.
type FatalError struct {
	Reason string
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Cause == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Cause.Error()
}

func (e *FatalError) Unwrap() error { return e.Cause }

// fail moves the session to failed and releases everything. Later calls
// and calls after leave completed are ignored.
func (s *Session) fail(reason string, cause error) {
	if terminal(s.current()) {
		return
	}
	fe := &FatalError{Reason: reason, Cause: cause}
	s.fatal.Store(fe)
	log.Error().Err(cause).Str("module", "orch").Str("room", string(s.room.ID)).Str("reason", reason).Msg("session failed")
	s.teardown()
	if err := fire(s.phase, evFail); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("fail transition refused")
	}
	s.finish()
}

func (s *Session) leave() {
	if terminal(s.current()) || s.current() == PhaseLeaving {
		return
	}
	if err := fire(s.phase, evLeave); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("leave transition refused")
	}
	s.teardown()
	if err := fire(s.phase, evClose); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("close transition refused")
	}
	s.finish()
}

// teardown stops capture, closes every flow, both transports and the
// signaling channel, and cancels handshakes still waiting.
func (s *Session) teardown() {
	s.media.stop()
	s.flows.CloseAll()
	s.transports.CloseAll()
	if n := s.table.CancelAll(handshake.ErrCancelled); n > 0 {
		log.Debug().Str("module", "orch").Int("handshakes", n).Msg("cancelled pending handshakes")
	}
	if s.signal != nil {
		s.signal.Close()
	}
	s.peers.Clear()
}

// finish records the final snapshot and stops the loop.
func (s *Session) finish() {
	d := s.snapshot()
	s.final.Store(&d)
	s.deps.Metrics.SessionEnded()
	s.hub.close()
	s.cancel()
}
