package app

import (
	"context"

	"github.com/dkeye/meet/internal/domain"
)

type SessionID string

// Diagnostics is a point-in-time view of one session's state.
type Diagnostics struct {
	Room        domain.RoomID                   `json:"room"`
	DisplayName string                          `json:"displayName"`
	Phase       string                          `json:"phase"`
	Error       string                          `json:"error,omitempty"`
	Transports  []domain.Transport              `json:"transports"`
	Peers       []domain.Peer                   `json:"peers"`
	Flows       []domain.Flow                   `json:"flows"`
	Owners      map[domain.FlowID]domain.PeerID `json:"producerToPeer"`
	Parked      []domain.FlowID                 `json:"parked,omitempty"`
	Pinned      domain.PeerID                   `json:"pinned,omitempty"`
	Warnings    int                             `json:"warnings"`
}

// SessionHandle is what the registry and the HTTP layer need from a running session.
type SessionHandle interface {
	Room() domain.RoomID
	Phase() string
	Done() <-chan struct{}
	Diagnostics(ctx context.Context) (Diagnostics, error)
	Leave(ctx context.Context) error
	Pin(ctx context.Context, peer domain.PeerID) error
	SetLocalEnabled(ctx context.Context, kind domain.MediaKind, enabled bool) error
}
