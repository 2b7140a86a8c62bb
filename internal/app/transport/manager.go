// Package transport owns the send and receive transports of one session.
//
// Every exported method runs on the session loop. Engine calls that block
// (connect, produce, consume) run on spawned goroutines and report back
// through Post.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app/handshake"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

var (
	ErrDuplicateTransport = errors.New("transport already exists for direction")
	ErrNotConnected       = errors.New("transport not connected")
	ErrNoTransport        = errors.New("no transport for direction")
)

type Deps struct {
	Ctx    context.Context
	Engine core.MediaEngine
	// Send writes one message to the signaling channel. Loop only.
	Send   func(signaling.Message) error
	Waiter *handshake.Waiter
	Post   func(func()) bool
	// Go runs fn off the loop.
	Go func(fn func())
}

// Callbacks run on the loop.
type Callbacks struct {
	// Connected fires the first time a transport reaches connected.
	Connected func(dir domain.Direction)
	// Failed fires when a connect handshake cannot complete.
	Failed func(dir domain.Direction, err error)
}

type transport struct {
	view     domain.Transport
	media    core.MediaTransport
	everConn bool
}

type Manager struct {
	deps      Deps
	cb        Callbacks
	byDir     map[domain.Direction]*transport
	requested map[domain.Direction]bool
	produced  map[domain.FlowID]struct{}
}

func NewManager(deps Deps, cb Callbacks) *Manager {
	return &Manager{
		deps:      deps,
		cb:        cb,
		byDir:     make(map[domain.Direction]*transport, 2),
		requested: make(map[domain.Direction]bool, 2),
		produced:  make(map[domain.FlowID]struct{}),
	}
}

// RequestCreate asks the server for a transport. Repeated requests for a
// direction already requested or created are ignored.
func (m *Manager) RequestCreate(dir domain.Direction) error {
	if m.requested[dir] || m.byDir[dir] != nil {
		return nil
	}
	if err := m.deps.Send(signaling.CreateTransport{Direction: dir}); err != nil {
		return fmt.Errorf("request %s transport: %w", dir, err)
	}
	m.requested[dir] = true
	return nil
}

// OnCreated builds the engine transport for msg, installs the handshake
// hooks and starts connecting it.
func (m *Manager) OnCreated(msg signaling.TransportCreated) error {
	if t := m.byDir[msg.Direction]; t != nil {
		return fmt.Errorf("%w: %s (have %s, got %s)", ErrDuplicateTransport, msg.Direction, t.view.ID, msg.ID)
	}
	opts := core.TransportOptions{
		ID:             msg.ID,
		ICEParameters:  msg.ICEParameters,
		ICECandidates:  msg.ICECandidates,
		DTLSParameters: msg.DTLSParameters,
	}
	var (
		mt  core.MediaTransport
		err error
	)
	if msg.Direction == domain.DirectionSend {
		mt, err = m.deps.Engine.CreateSendTransport(opts)
	} else {
		mt, err = m.deps.Engine.CreateRecvTransport(opts)
	}
	if err != nil {
		return fmt.Errorf("create %s transport %s: %w", msg.Direction, msg.ID, err)
	}

	t := &transport{
		view:  domain.Transport{ID: msg.ID, Direction: msg.Direction, State: domain.TransportCreated},
		media: mt,
	}
	m.byDir[msg.Direction] = t
	mt.OnConnect(m.connectHook(msg.Direction, msg.ID))
	if msg.Direction == domain.DirectionSend {
		mt.OnProduce(m.produceHook(msg.ID))
	}
	log.Info().Str("module", "transport").
		Str("transport_id", string(msg.ID)).
		Str("direction", string(msg.Direction)).
		Msg("transport created")

	ctx := m.deps.Ctx
	m.deps.Go(func() {
		err := mt.Connect(ctx)
		m.deps.Post(func() { m.connectDone(msg.Direction, msg.ID, err) })
	})
	return nil
}

// connectHook runs on the engine's goroutine.
func (m *Manager) connectHook(dir domain.Direction, id domain.TransportID) core.ConnectHook {
	return func(ctx context.Context, params signaling.DTLSParameters) error {
		m.deps.Post(func() {
			if t := m.lookup(dir, id); t != nil && t.view.State == domain.TransportCreated {
				t.view.State = domain.TransportConnecting
			}
		})
		_, err := m.deps.Waiter.Await(ctx, handshake.Key{Step: handshake.StepConnect, ID: string(id)}, func() error {
			return m.deps.Send(signaling.ConnectTransport{TransportID: id, DTLSParameters: params})
		})
		return err
	}
}

// produceHook runs on the engine's goroutine.
func (m *Manager) produceHook(id domain.TransportID) core.ProduceHook {
	return func(ctx context.Context, kind domain.MediaKind, params signaling.RTPParameters) (domain.FlowID, error) {
		reqID := uuid.NewString()
		v, err := m.deps.Waiter.Await(ctx, handshake.Key{Step: handshake.StepProduce, ID: reqID}, func() error {
			return m.deps.Send(signaling.Produce{
				RequestID:     reqID,
				TransportID:   id,
				Kind:          kind,
				RTPParameters: params,
			})
		})
		if err != nil {
			return "", err
		}
		return v.(domain.FlowID), nil
	}
}

func (m *Manager) connectDone(dir domain.Direction, id domain.TransportID, err error) {
	t := m.lookup(dir, id)
	if t == nil || t.view.State == domain.TransportClosed {
		log.Debug().Str("module", "transport").Str("transport_id", string(id)).Msg("connect finished for a closed transport")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Str("transport_id", string(id)).Msg("connect failed")
		if m.cb.Failed != nil {
			m.cb.Failed(dir, err)
		}
		return
	}
	t.view.State = domain.TransportConnected
	first := !t.everConn
	t.everConn = true
	log.Info().Str("module", "transport").Str("transport_id", string(id)).Str("direction", string(dir)).Msg("transport connected")
	if first && m.cb.Connected != nil {
		m.cb.Connected(dir)
	}
}

// OnConnected resolves the connect handshake of msg.TransportID. It reports
// false for confirmations nobody waits for (duplicates, late arrivals).
func (m *Manager) OnConnected(msg signaling.TransportConnected) bool {
	return m.deps.Waiter.Table.Resolve(handshake.Key{Step: handshake.StepConnect, ID: string(msg.TransportID)}, nil)
}

// OnProduced resolves the produce handshake named by msg.RequestID, or the
// oldest outstanding one when the server does not echo it. False means the
// confirmation was a duplicate or had no waiter.
func (m *Manager) OnProduced(msg signaling.Produced) bool {
	if _, dup := m.produced[msg.ID]; dup {
		return false
	}
	var ok bool
	if msg.RequestID != "" {
		ok = m.deps.Waiter.Table.Resolve(handshake.Key{Step: handshake.StepProduce, ID: msg.RequestID}, msg.ID)
	} else {
		_, ok = m.deps.Waiter.Table.ResolveOldest(handshake.StepProduce, msg.ID)
	}
	if ok {
		m.produced[msg.ID] = struct{}{}
	}
	return ok
}

// Produce sends track over the send transport. done runs on the loop.
func (m *Manager) Produce(track core.LocalTrack, done func(core.Producer, error)) error {
	t := m.byDir[domain.DirectionSend]
	if t == nil {
		return ErrNoTransport
	}
	if t.view.State != domain.TransportConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, t.view.ID)
	}
	ctx, mt := m.deps.Ctx, t.media
	m.deps.Go(func() {
		p, err := mt.Produce(ctx, track)
		if !m.deps.Post(func() { done(p, err) }) && p != nil {
			p.Close()
		}
	})
	return nil
}

// Consume creates the engine consumer on the receive transport. done runs on the loop.
func (m *Manager) Consume(opts core.ConsumeOptions, done func(core.Consumer, error)) error {
	t := m.byDir[domain.DirectionRecv]
	if t == nil {
		return ErrNoTransport
	}
	if t.view.State != domain.TransportConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, t.view.ID)
	}
	ctx, mt := m.deps.Ctx, t.media
	m.deps.Go(func() {
		c, err := mt.Consume(ctx, opts)
		if !m.deps.Post(func() { done(c, err) }) && c != nil {
			c.Close()
		}
	})
	return nil
}

func (m *Manager) ID(dir domain.Direction) (domain.TransportID, bool) {
	t := m.byDir[dir]
	if t == nil {
		return "", false
	}
	return t.view.ID, true
}

func (m *Manager) BothExist() bool {
	return m.byDir[domain.DirectionSend] != nil && m.byDir[domain.DirectionRecv] != nil
}

// BothConnected reports whether each direction has been connected at least once.
func (m *Manager) BothConnected() bool {
	s, r := m.byDir[domain.DirectionSend], m.byDir[domain.DirectionRecv]
	return s != nil && r != nil && s.everConn && r.everConn
}

func (m *Manager) Connected(dir domain.Direction) bool {
	t := m.byDir[dir]
	return t != nil && t.view.State == domain.TransportConnected
}

// CloseAll closes both transports. Closed transports stay visible in Snapshot.
func (m *Manager) CloseAll() {
	for _, t := range m.byDir {
		if t.view.State == domain.TransportClosed {
			continue
		}
		t.view.State = domain.TransportClosed
		t.media.Close()
		log.Debug().Str("module", "transport").Str("transport_id", string(t.view.ID)).Msg("transport closed")
	}
}

func (m *Manager) Snapshot() []domain.Transport {
	out := make([]domain.Transport, 0, len(m.byDir))
	for _, t := range m.byDir {
		out = append(out, t.view)
	}
	// send before recv
	sort.Slice(out, func(i, j int) bool { return out[i].Direction > out[j].Direction })
	return out
}

func (m *Manager) lookup(dir domain.Direction, id domain.TransportID) *transport {
	t := m.byDir[dir]
	if t == nil || t.view.ID != id {
		return nil
	}
	return t
}
