package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meet/internal/app/handshake"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

type fakeTransport struct {
	id         domain.TransportID
	connect    core.ConnectHook
	produce    core.ProduceHook
	connectErr error
	closed     bool
}

func (f *fakeTransport) ID() domain.TransportID       { return f.id }
func (f *fakeTransport) OnConnect(h core.ConnectHook) { f.connect = h }
func (f *fakeTransport) OnProduce(h core.ProduceHook) { f.produce = h }
func (f *fakeTransport) Close()                       { f.closed = true }

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	return f.connect(ctx, signaling.DTLSParameters{Role: "client"})
}

func (f *fakeTransport) Produce(ctx context.Context, track core.LocalTrack) (core.Producer, error) {
	id, err := f.produce(ctx, track.Kind(), signaling.RTPParameters{})
	if err != nil {
		return nil, err
	}
	return &fakeProducer{id: id, kind: track.Kind()}, nil
}

func (f *fakeTransport) Consume(_ context.Context, o core.ConsumeOptions) (core.Consumer, error) {
	return nil, errors.New("not used")
}

type fakeProducer struct {
	id   domain.FlowID
	kind domain.MediaKind
}

func (p *fakeProducer) ID() domain.FlowID      { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Pause()                 {}
func (p *fakeProducer) Resume()                {}
func (p *fakeProducer) Close()                 {}

type fakeTrack struct{ kind domain.MediaKind }

func (t fakeTrack) ID() string             { return string(t.kind) }
func (t fakeTrack) Kind() domain.MediaKind { return t.kind }
func (t fakeTrack) SetEnabled(bool)        {}
func (t fakeTrack) Enabled() bool          { return true }
func (t fakeTrack) Stop()                  {}

type fakeEngine struct {
	made       map[domain.TransportID]*fakeTransport
	connectErr error
}

func (e *fakeEngine) LoadCapabilities(r signaling.RTPCapabilities) (signaling.RTPCapabilities, error) {
	return r, nil
}

func (e *fakeEngine) CreateSendTransport(o core.TransportOptions) (core.MediaTransport, error) {
	return e.make(o), nil
}

func (e *fakeEngine) CreateRecvTransport(o core.TransportOptions) (core.MediaTransport, error) {
	return e.make(o), nil
}

func (e *fakeEngine) make(o core.TransportOptions) *fakeTransport {
	t := &fakeTransport{id: o.ID, connectErr: e.connectErr}
	e.made[o.ID] = t
	return t
}

// harness runs the manager on a private serial loop and records what it sends.
type harness struct {
	t       *testing.T
	fns     chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	m       *Manager
	eng     *fakeEngine
	mu      sync.Mutex
	sent    []signaling.Message
	conns   []domain.Direction
	failErr error
}

func newHarness(t *testing.T) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, fns: make(chan func(), 64), ctx: ctx, cancel: cancel, eng: &fakeEngine{made: map[domain.TransportID]*fakeTransport{}}}
	go func() {
		for {
			select {
			case fn := <-h.fns:
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()
	waiter := &handshake.Waiter{Table: handshake.NewTable(), Post: h.post, Done: ctx.Done(), Timeout: time.Second}
	h.m = NewManager(Deps{
		Ctx:    ctx,
		Engine: h.eng,
		Send: func(msg signaling.Message) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sent = append(h.sent, msg)
			return nil
		},
		Waiter: waiter,
		Post:   h.post,
		Go:     func(fn func()) { go fn() },
	}, Callbacks{
		Connected: func(dir domain.Direction) { h.conns = append(h.conns, dir) },
		Failed:    func(_ domain.Direction, err error) { h.failErr = err },
	})
	t.Cleanup(cancel)
	return h
}

func (h *harness) post(fn func()) bool {
	select {
	case <-h.ctx.Done():
		return false
	case h.fns <- fn:
		return true
	}
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func()) {
	done := make(chan struct{})
	require.True(h.t, h.post(func() { fn(); close(done) }))
	<-done
}

func (h *harness) sentOf(typ signaling.MessageType) []signaling.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []signaling.Message
	for _, m := range h.sent {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (h *harness) waitSent(typ signaling.MessageType, n int) []signaling.Message {
	require.Eventually(h.t, func() bool { return len(h.sentOf(typ)) >= n }, time.Second, 5*time.Millisecond)
	return h.sentOf(typ)
}

func created(id string, dir domain.Direction) signaling.TransportCreated {
	return signaling.TransportCreated{ID: domain.TransportID(id), Direction: dir}
}

func TestManager_RequestCreateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.do(func() {
		require.NoError(t, h.m.RequestCreate(domain.DirectionSend))
		require.NoError(t, h.m.RequestCreate(domain.DirectionSend))
		require.NoError(t, h.m.RequestCreate(domain.DirectionRecv))
	})
	assert.Len(t, h.sentOf(signaling.TypeCreateTransport), 2)
}

func TestManager_ConnectConfirmationsResolveTheirOwnTransport(t *testing.T) {
	h := newHarness(t)
	h.do(func() {
		require.NoError(t, h.m.OnCreated(created("send-1", domain.DirectionSend)))
		require.NoError(t, h.m.OnCreated(created("recv-1", domain.DirectionRecv)))
	})
	h.waitSent(signaling.TypeConnectTransport, 2)

	// recv confirmation first; only recv may become connected
	h.do(func() { require.True(t, h.m.OnConnected(signaling.TransportConnected{TransportID: "recv-1"})) })
	require.Eventually(t, func() bool {
		var ok bool
		h.do(func() { ok = h.m.Connected(domain.DirectionRecv) })
		return ok
	}, time.Second, 5*time.Millisecond)
	h.do(func() {
		assert.False(t, h.m.Connected(domain.DirectionSend))
		assert.False(t, h.m.BothConnected())
		assert.True(t, h.m.BothExist())
	})

	h.do(func() {
		require.True(t, h.m.OnConnected(signaling.TransportConnected{TransportID: "send-1"}))
		// duplicate
		assert.False(t, h.m.OnConnected(signaling.TransportConnected{TransportID: "send-1"}))
	})
	require.Eventually(t, func() bool {
		var ok bool
		h.do(func() { ok = h.m.BothConnected() })
		return ok
	}, time.Second, 5*time.Millisecond)
	h.do(func() { assert.ElementsMatch(t, []domain.Direction{domain.DirectionRecv, domain.DirectionSend}, h.conns) })
}

func TestManager_DuplicateTransportCreated(t *testing.T) {
	h := newHarness(t)
	h.do(func() {
		require.NoError(t, h.m.OnCreated(created("send-1", domain.DirectionSend)))
		err := h.m.OnCreated(created("send-2", domain.DirectionSend))
		assert.ErrorIs(t, err, ErrDuplicateTransport)
	})
}

func TestManager_ConnectFailureReported(t *testing.T) {
	h := newHarness(t)
	h.eng.connectErr = errors.New("ice failed")
	h.do(func() { require.NoError(t, h.m.OnCreated(created("send-1", domain.DirectionSend))) })
	require.Eventually(t, func() bool {
		var err error
		h.do(func() { err = h.failErr })
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func connectBoth(t *testing.T, h *harness) {
	h.do(func() {
		require.NoError(t, h.m.OnCreated(created("send-1", domain.DirectionSend)))
		require.NoError(t, h.m.OnCreated(created("recv-1", domain.DirectionRecv)))
	})
	h.waitSent(signaling.TypeConnectTransport, 2)
	h.do(func() {
		h.m.OnConnected(signaling.TransportConnected{TransportID: "send-1"})
		h.m.OnConnected(signaling.TransportConnected{TransportID: "recv-1"})
	})
	require.Eventually(t, func() bool {
		var ok bool
		h.do(func() { ok = h.m.BothConnected() })
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ProduceBeforeConnectRejected(t *testing.T) {
	h := newHarness(t)
	h.do(func() {
		require.NoError(t, h.m.OnCreated(created("send-1", domain.DirectionSend)))
		err := h.m.Produce(fakeTrack{domain.KindAudio}, func(core.Producer, error) {})
		assert.ErrorIs(t, err, ErrNotConnected)
	})
}

func TestManager_ProducedMatchedByRequestID(t *testing.T) {
	h := newHarness(t)
	connectBoth(t, h)

	type result struct {
		p   core.Producer
		err error
	}
	results := make(chan result, 2)
	h.do(func() {
		for _, k := range []domain.MediaKind{domain.KindAudio, domain.KindVideo} {
			require.NoError(t, h.m.Produce(fakeTrack{k}, func(p core.Producer, err error) { results <- result{p, err} }))
		}
	})
	reqs := h.waitSent(signaling.TypeProduce, 2)

	byKind := map[domain.MediaKind]string{}
	for _, r := range reqs {
		p := r.(signaling.Produce)
		byKind[p.Kind] = p.RequestID
	}
	h.do(func() {
		require.True(t, h.m.OnProduced(signaling.Produced{ID: "p-video", RequestID: byKind[domain.KindVideo]}))
		require.True(t, h.m.OnProduced(signaling.Produced{ID: "p-audio", RequestID: byKind[domain.KindAudio]}))
		assert.False(t, h.m.OnProduced(signaling.Produced{ID: "p-audio", RequestID: byKind[domain.KindAudio]}))
	})

	got := map[domain.MediaKind]domain.FlowID{}
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		got[r.p.Kind()] = r.p.ID()
	}
	assert.Equal(t, domain.FlowID("p-audio"), got[domain.KindAudio])
	assert.Equal(t, domain.FlowID("p-video"), got[domain.KindVideo])
}

func TestManager_ProducedWithoutRequestIDResolvesOldest(t *testing.T) {
	h := newHarness(t)
	connectBoth(t, h)

	results := make(chan core.Producer, 1)
	h.do(func() {
		require.NoError(t, h.m.Produce(fakeTrack{domain.KindAudio}, func(p core.Producer, err error) { results <- p }))
	})
	h.waitSent(signaling.TypeProduce, 1)
	h.do(func() { require.True(t, h.m.OnProduced(signaling.Produced{ID: "p-1"})) })
	assert.Equal(t, domain.FlowID("p-1"), (<-results).ID())
	h.do(func() { assert.False(t, h.m.OnProduced(signaling.Produced{ID: "p-2"})) })
}

func TestManager_CloseAllKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.do(func() {
		require.NoError(t, h.m.OnCreated(created("recv-1", domain.DirectionRecv)))
		require.NoError(t, h.m.OnCreated(created("send-1", domain.DirectionSend)))
	})
	h.waitSent(signaling.TypeConnectTransport, 2)
	h.do(func() {
		h.m.CloseAll()
		h.m.CloseAll()
		snap := h.m.Snapshot()
		require.Len(t, snap, 2)
		assert.Equal(t, domain.DirectionSend, snap[0].Direction)
		for _, tr := range snap {
			assert.Equal(t, domain.TransportClosed, tr.State)
		}
	})
	assert.True(t, h.eng.made["send-1"].closed)
}
