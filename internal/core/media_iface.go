package core

import (
	"context"
	"errors"

	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

var (
	ErrPermissionDenied = errors.New("media capture permission denied")
	ErrTransportClosed  = errors.New("transport closed")
)

// ConnectHook sends the local DTLS parameters and returns once the server
// confirmed the connection.
type ConnectHook func(ctx context.Context, params signaling.DTLSParameters) error

// ProduceHook announces a new outbound track and returns the server-assigned flow id.
type ProduceHook func(ctx context.Context, kind domain.MediaKind, params signaling.RTPParameters) (domain.FlowID, error)

// TransportOptions are the server parameters of a created transport.
type TransportOptions struct {
	ID             domain.TransportID
	ICEParameters  signaling.ICEParameters
	ICECandidates  []signaling.ICECandidate
	DTLSParameters signaling.DTLSParameters
}

type ConsumeOptions struct {
	ID            domain.FlowID
	ProducerID    domain.FlowID
	Kind          domain.MediaKind
	RTPParameters signaling.RTPParameters
}

// MediaEngine is the local media stack (device).
type MediaEngine interface {
	// LoadCapabilities returns the subset of router capabilities the engine can handle.
	LoadCapabilities(router signaling.RTPCapabilities) (signaling.RTPCapabilities, error)
	CreateSendTransport(opts TransportOptions) (MediaTransport, error)
	CreateRecvTransport(opts TransportOptions) (MediaTransport, error)
}

// MediaTransport is one engine-side transport. Creation must not invoke hooks;
// Connect, Produce and Consume may block and are never called from the session loop.
type MediaTransport interface {
	ID() domain.TransportID
	OnConnect(ConnectHook)
	OnProduce(ProduceHook)
	// Connect gathers local parameters, invokes the connect hook and
	// returns once the media path is up.
	Connect(ctx context.Context) error
	Produce(ctx context.Context, track LocalTrack) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	Close()
}

type Producer interface {
	ID() domain.FlowID
	Kind() domain.MediaKind
	Pause()
	Resume()
	Close()
}

type Consumer interface {
	ID() domain.FlowID
	ProducerID() domain.FlowID
	Kind() domain.MediaKind
	Close()
}
