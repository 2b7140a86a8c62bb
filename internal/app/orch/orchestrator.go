// Package orch runs one media session: it joins a room over the signaling
// channel and turns the server's events into live send and receive flows.
//
// All session state is owned by a single event loop. Signaling frames,
// engine completions and API calls are posted onto it as closures, so the
// components it drives (transports, flows, peers) need no locks.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/flows"
	"github.com/dkeye/meet/internal/app/handshake"
	"github.com/dkeye/meet/internal/app/negotiate"
	"github.com/dkeye/meet/internal/app/peers"
	"github.com/dkeye/meet/internal/app/transport"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/metrics"
	"github.com/dkeye/meet/internal/signaling"
)

var (
	ErrSessionEnded = errors.New("session ended")
	ErrNotJoined    = errors.New("session not joined")
	ErrNoLocalTrack = errors.New("no local track of that kind")
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultOrphanTimeout    = 10 * time.Second

	// messages held while the connection is dialed but not yet joined
	maxEarlyMessages = 64
)

type Options struct {
	Room        domain.RoomID
	DisplayName string
	// HandshakeTimeout bounds each connect/produce attempt; negative disables it.
	HandshakeTimeout time.Duration
	OrphanTimeout    time.Duration
	EventBuffer      int
	Capture          core.CaptureConstraints
}

type Deps struct {
	Engine  core.MediaEngine
	Capture core.CaptureProvider
	Policy  app.Policy
	Metrics *metrics.Metrics
}

// Session is one joined room. Create it with NewSession, attach a signaling
// connection with Join and stop it with Leave.
type Session struct {
	opts Options
	deps Deps
	room *domain.Room

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	done   chan struct{}
	wg     sync.WaitGroup

	phaseName atomic.Value
	fatal     atomic.Pointer[FatalError]
	final     atomic.Pointer[app.Diagnostics]
	hub       *hub

	// loop-owned
	phase      *fsm.FSM
	signal     core.SignalConnection
	caps       *negotiate.Capabilities
	table      *handshake.Table
	transports *transport.Manager
	flows      *flows.Registry
	peers      *peers.Directory
	media      localMedia
	warnings   int
	early      []signaling.Message
}

func NewSession(opts Options, deps Deps) (*Session, error) {
	room, err := domain.NewRoom(opts.Room, opts.DisplayName)
	if err != nil {
		return nil, err
	}
	if deps.Engine == nil || deps.Capture == nil {
		return nil, errors.New("session needs a media engine and a capture provider")
	}
	if deps.Policy == nil {
		deps.Policy = app.SimplePolicy{}
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.OrphanTimeout <= 0 {
		opts.OrphanTimeout = defaultOrphanTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:   opts,
		deps:   deps,
		room:   room,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan func(), 256),
		done:   make(chan struct{}),
		table:  handshake.NewTable(),
	}
	s.phaseName.Store(PhaseIdle)
	s.hub = newHub(room.ID, deps.Policy, opts.EventBuffer, func() {
		s.warnings++
		deps.Metrics.Warning(string(app.WarnSlowSubscriber))
		deps.Metrics.EventDropped()
	})
	s.phase = newPhaseMachine(s.onPhase)

	timeout := opts.HandshakeTimeout
	if timeout < 0 {
		timeout = 0
	}
	waiter := &handshake.Waiter{
		Table:   s.table,
		Post:    s.post,
		Done:    ctx.Done(),
		Timeout: timeout,
		Retry: func(step handshake.Step, attempt int) bool {
			return deps.Policy.OnHandshakeTimeout(string(step), attempt) == app.RetryHandshake
		},
		OnRetry: func(key handshake.Key, attempt int) {
			s.post(func() {
				s.warn(app.WarnHandshakeRetry, fmt.Sprintf("%s %s timed out (attempt %d), retrying", key.Step, key.ID, attempt))
			})
		},
		Observe: func(step handshake.Step, d time.Duration, err error) {
			deps.Metrics.Handshake(string(step), d, err)
		},
	}

	s.transports = transport.NewManager(transport.Deps{
		Ctx:    ctx,
		Engine: deps.Engine,
		Send:   s.send,
		Waiter: waiter,
		Post:   s.post,
		Go:     s.spawn,
	}, transport.Callbacks{
		Connected: s.onTransportConnected,
		Failed: func(dir domain.Direction, err error) {
			s.fail(fmt.Sprintf("%s transport could not connect", dir), err)
		},
	})
	s.flows = flows.NewRegistry(flows.Deps{
		Send:          s.send,
		Consume:       s.transports.Consume,
		Target:        s.consumeTarget,
		Departed:      func(p domain.PeerID) bool { return s.peers.Departed(p) },
		Post:          s.post,
		OrphanTimeout: opts.OrphanTimeout,
	}, flows.Callbacks{
		Activated: s.onInboundActive,
		Removed:   s.onFlowRemoved,
		Warn: func(reason app.WarningReason, id domain.FlowID, msg string) {
			s.warn(reason, fmt.Sprintf("flow %s: %s", id, msg))
		},
	})
	s.peers = peers.NewDirectory(s.flows, peers.Callbacks{
		Added:      func(p domain.Peer) { s.hub.emit(PeerAdded{Peer: p}) },
		Updated:    func(p domain.Peer) { s.hub.emit(PeerUpdated{Peer: p}) },
		Removed:    func(p domain.Peer) { s.hub.emit(PeerRemoved{Peer: p}) },
		PinCleared: func(id domain.PeerID) { s.hub.emit(PinCleared{Peer: id}) },
	})

	deps.Metrics.SessionStarted()
	go s.run()
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.ctx.Done():
			s.wg.Wait()
			s.drain()
			return
		}
	}
}

// drain runs completions that were posted while the loop was stopping so
// that engine handles they carry get released.
func (s *Session) drain() {
	for {
		select {
		case fn := <-s.events:
			fn()
		default:
			return
		}
	}
}

// post schedules fn on the loop. It reports false once the session ended.
func (s *Session) post(fn func()) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// spawn runs fn off the loop; the loop waits for it before exiting.
func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !s.post(func() { res <- fn() }) {
		return ErrSessionEnded
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrSessionEnded
		}
	}
}

// send encodes and writes msg. Loop only.
func (s *Session) send(msg signaling.Message) error {
	if s.signal == nil {
		return ErrNotJoined
	}
	frame, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.signal.TrySend(frame); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

// Join attaches the signaling connection and asks to enter the room.
func (s *Session) Join(ctx context.Context, conn core.SignalConnection) error {
	return s.call(ctx, func() error {
		if s.current() != PhaseIdle {
			return fmt.Errorf("join from phase %s", s.current())
		}
		s.signal = conn
		if err := fire(s.phase, evJoin); err != nil {
			return err
		}
		err := s.send(signaling.JoinRoom{RoomID: s.room.ID, DisplayName: s.room.DisplayName})
		if err != nil {
			s.fail("could not send join request", err)
			return err
		}
		early := s.early
		s.early = nil
		for _, msg := range early {
			s.dispatch(msg)
		}
		return nil
	})
}

// Leave tears the session down and waits until the loop stopped.
func (s *Session) Leave(ctx context.Context) error {
	err := s.call(ctx, func() error {
		s.leave()
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionEnded) {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Subscribe() (<-chan Event, func()) { return s.hub.subscribe() }

func (s *Session) Room() domain.RoomID { return s.room.ID }

func (s *Session) Phase() string { return s.phaseName.Load().(string) }

func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fatal error once the session failed.
func (s *Session) Err() error {
	if fe := s.fatal.Load(); fe != nil {
		return fe
	}
	return nil
}

func (s *Session) current() string { return s.phase.Current() }

func (s *Session) onPhase(from, to string) {
	s.phaseName.Store(to)
	s.deps.Metrics.PhaseEntered(to)
	log.Info().Str("module", "orch").Str("room", string(s.room.ID)).Str("from", from).Str("to", to).Msg("phase")
	ev := PhaseChanged{From: from, To: to}
	if to == PhaseFailed {
		ev.Err = s.Err()
	}
	s.hub.emit(ev)
}

// advance fires event and fails the session if the machine refuses it.
func (s *Session) advance(event string) bool {
	if err := fire(s.phase, event); err != nil {
		s.fail("invalid lifecycle transition", err)
		return false
	}
	return true
}

func (s *Session) warn(reason app.WarningReason, msg string) {
	s.warnings++
	s.deps.Metrics.Warning(string(reason))
	log.Warn().Str("module", "orch").Str("room", string(s.room.ID)).Str("reason", string(reason)).Msg(msg)
	s.hub.emit(Warning{Reason: reason, Message: msg})
}
