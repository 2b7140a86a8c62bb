package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/negotiate"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

// fakeConn records what the session sends.
type fakeConn struct {
	mu     sync.Mutex
	sent   []signaling.Message
	closed bool
	err    error
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	msg, err := signaling.Decode(f)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) of(typ signaling.MessageType) []signaling.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signaling.Message
	for _, m := range c.sent {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeTrack struct {
	mu      sync.Mutex
	kind    domain.MediaKind
	enabled bool
	stopped bool
}

func newTrack(kind domain.MediaKind) *fakeTrack { return &fakeTrack{kind: kind, enabled: true} }

func (t *fakeTrack) ID() string             { return "local-" + string(t.kind) }
func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeCapture struct {
	tracks core.LocalTracks
	err    error
}

func (c *fakeCapture) AcquireLocalTracks(context.Context, core.CaptureConstraints) (core.LocalTracks, error) {
	return c.tracks, c.err
}

type fakeProducer struct {
	mu     sync.Mutex
	id     domain.FlowID
	kind   domain.MediaKind
	paused bool
	closed bool
}

func (p *fakeProducer) ID() domain.FlowID      { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }

func (p *fakeProducer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *fakeProducer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakeProducer) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

type fakeConsumer struct {
	mu     sync.Mutex
	opts   core.ConsumeOptions
	closed bool
}

func (c *fakeConsumer) ID() domain.FlowID         { return c.opts.ID }
func (c *fakeConsumer) ProducerID() domain.FlowID { return c.opts.ProducerID }
func (c *fakeConsumer) Kind() domain.MediaKind    { return c.opts.Kind }

func (c *fakeConsumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	eng     *fakeEngine
	id      domain.TransportID
	connect core.ConnectHook
	produce core.ProduceHook
}

func (t *fakeTransport) ID() domain.TransportID       { return t.id }
func (t *fakeTransport) OnConnect(h core.ConnectHook) { t.connect = h }
func (t *fakeTransport) OnProduce(h core.ProduceHook) { t.produce = h }

func (t *fakeTransport) Connect(ctx context.Context) error {
	return t.connect(ctx, signaling.DTLSParameters{
		Role:         "client",
		Fingerprints: []signaling.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
	})
}

func (t *fakeTransport) Produce(ctx context.Context, track core.LocalTrack) (core.Producer, error) {
	id, err := t.produce(ctx, track.Kind(), signaling.RTPParameters{
		Codecs: []signaling.CodecParameters{{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000}},
	})
	if err != nil {
		return nil, err
	}
	p := &fakeProducer{id: id, kind: track.Kind()}
	t.eng.mu.Lock()
	t.eng.producers[id] = p
	t.eng.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(_ context.Context, o core.ConsumeOptions) (core.Consumer, error) {
	c := &fakeConsumer{opts: o}
	t.eng.mu.Lock()
	t.eng.consumers[o.ID] = c
	t.eng.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Close() {
	t.eng.mu.Lock()
	t.eng.closed[t.id] = true
	t.eng.mu.Unlock()
}

type fakeEngine struct {
	mu        sync.Mutex
	producers map[domain.FlowID]*fakeProducer
	consumers map[domain.FlowID]*fakeConsumer
	closed    map[domain.TransportID]bool
}

func newEngine() *fakeEngine {
	return &fakeEngine{
		producers: map[domain.FlowID]*fakeProducer{},
		consumers: map[domain.FlowID]*fakeConsumer{},
		closed:    map[domain.TransportID]bool{},
	}
}

func (e *fakeEngine) LoadCapabilities(r signaling.RTPCapabilities) (signaling.RTPCapabilities, error) {
	return negotiate.Intersect(r, negotiate.DefaultSupported()), nil
}

func (e *fakeEngine) CreateSendTransport(o core.TransportOptions) (core.MediaTransport, error) {
	return &fakeTransport{eng: e, id: o.ID}, nil
}

func (e *fakeEngine) CreateRecvTransport(o core.TransportOptions) (core.MediaTransport, error) {
	return &fakeTransport{eng: e, id: o.ID}, nil
}

func (e *fakeEngine) producer(id domain.FlowID) *fakeProducer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producers[id]
}

func (e *fakeEngine) consumer(id domain.FlowID) *fakeConsumer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumers[id]
}

func (e *fakeEngine) transportClosed(id domain.TransportID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed[id]
}

// env wires a Session to fakes and plays the server side.
type env struct {
	t       *testing.T
	s       *Session
	conn    *fakeConn
	eng     *fakeEngine
	capture *fakeCapture
	events  <-chan Event
}

func newEnv(t *testing.T, tracks core.LocalTracks, tweak func(*Options)) *env {
	t.Helper()
	opts := Options{
		Room:             "r1",
		DisplayName:      "Ann",
		HandshakeTimeout: 2 * time.Second,
		OrphanTimeout:    time.Second,
		EventBuffer:      256,
		Capture:          core.CaptureConstraints{Audio: true, Video: true},
	}
	if tweak != nil {
		tweak(&opts)
	}
	e := &env{t: t, conn: &fakeConn{}, eng: newEngine(), capture: &fakeCapture{tracks: tracks}}
	s, err := NewSession(opts, Deps{Engine: e.eng, Capture: e.capture, Policy: app.SimplePolicy{}})
	require.NoError(t, err)
	e.s = s
	e.events, _ = s.Subscribe()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Leave(ctx)
	})
	return e
}

func (e *env) deliver(msg signaling.Message) {
	e.t.Helper()
	frame, err := signaling.Encode(msg)
	require.NoError(e.t, err)
	e.s.Deliver(frame)
}

func (e *env) waitSent(typ signaling.MessageType, n int) []signaling.Message {
	e.t.Helper()
	require.Eventually(e.t, func() bool { return len(e.conn.of(typ)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %s", n, typ)
	return e.conn.of(typ)
}

func (e *env) waitPhase(phase string) {
	e.t.Helper()
	require.Eventually(e.t, func() bool { return e.s.Phase() == phase }, 2*time.Second, 5*time.Millisecond,
		"waiting for phase %s, at %s", phase, e.s.Phase())
}

func (e *env) diag() app.Diagnostics {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := e.s.Diagnostics(ctx)
	require.NoError(e.t, err)
	return d
}

// settle waits until every frame delivered so far has been dispatched.
func (e *env) settle() {
	e.t.Helper()
	e.diag()
}

func routerCaps() signaling.RTPCapabilities {
	return signaling.RTPCapabilities{Codecs: []signaling.CodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000},
	}}
}

// toTransports drives the session up to both transports created.
func (e *env) toTransports() {
	e.t.Helper()
	require.NoError(e.t, e.s.Join(context.Background(), e.conn))
	e.waitSent(signaling.TypeJoinRoom, 1)
	e.deliver(signaling.ExistingPeers{})
	e.deliver(signaling.RouterCapabilities{RTPCapabilities: routerCaps()})
	e.waitSent(signaling.TypeCreateTransport, 2)
	e.deliver(signaling.TransportCreated{ID: "send-1", Direction: domain.DirectionSend})
	e.deliver(signaling.TransportCreated{ID: "recv-1", Direction: domain.DirectionRecv})
	e.waitSent(signaling.TypeConnectTransport, 2)
}

// toLive drives the session to live, confirming every produce request.
func (e *env) toLive(produces int) {
	e.t.Helper()
	e.toTransports()
	e.deliver(signaling.TransportConnected{TransportID: "send-1"})
	e.deliver(signaling.TransportConnected{TransportID: "recv-1"})
	if produces > 0 {
		for _, m := range e.waitSent(signaling.TypeProduce, produces) {
			p := m.(signaling.Produce)
			e.deliver(signaling.Produced{ID: domain.FlowID("prod-" + string(p.Kind)), RequestID: p.RequestID})
		}
	}
	e.waitPhase(PhaseLive)
}

// collect drains events seen so far.
func (e *env) collect() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

var errBoom = errors.New("boom")
