package orch

import (
	"context"
	"errors"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/domain"
)

var _ app.SessionHandle = (*Session)(nil)

// Pin selects the peer presentation should focus on; an empty id clears it.
// The pin is dropped automatically when that peer leaves.
func (s *Session) Pin(ctx context.Context, peer domain.PeerID) error {
	return s.call(ctx, func() error { return s.peers.Pin(peer) })
}

func (s *Session) Peers(ctx context.Context) ([]domain.Peer, error) {
	var out []domain.Peer
	err := s.call(ctx, func() error {
		out = s.peers.Peers()
		return nil
	})
	return out, err
}

// Diagnostics returns the current ProducerToPeer index, peers, flows and
// transports. After the session ended it returns the final snapshot.
func (s *Session) Diagnostics(ctx context.Context) (app.Diagnostics, error) {
	var d app.Diagnostics
	err := s.call(ctx, func() error {
		d = s.snapshot()
		return nil
	})
	if errors.Is(err, ErrSessionEnded) {
		if final := s.final.Load(); final != nil {
			return *final, nil
		}
	}
	return d, err
}

func (s *Session) snapshot() app.Diagnostics {
	d := app.Diagnostics{
		Room:        s.room.ID,
		DisplayName: s.room.DisplayName,
		Phase:       s.current(),
		Transports:  s.transports.Snapshot(),
		Peers:       s.peers.Peers(),
		Flows:       s.flows.Flows(),
		Owners:      s.flows.Owners(),
		Parked:      s.flows.Parked(),
		Pinned:      s.peers.Pinned(),
		Warnings:    s.warnings,
	}
	if err := s.Err(); err != nil {
		d.Error = err.Error()
	}
	return d
}
