package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
)

// TrackSource is a local track pion can send.
type TrackSource interface {
	core.LocalTrack
	TrackLocal() webrtc.TrackLocal
}

// Transport is one ORTC stack: ICE gatherer, ICE transport and DTLS transport.
type Transport struct {
	id  domain.TransportID
	dir domain.Direction
	api *webrtc.API

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	remoteICE        webrtc.ICEParameters
	remoteCandidates []webrtc.ICECandidate
	remoteDTLS       webrtc.DTLSParameters
	onConsumer       func(*Consumer)

	mu        sync.Mutex
	connect   core.ConnectHook
	produce   core.ProduceHook
	closed    bool
	producers []*Producer
	consumers []*Consumer
}

var _ core.MediaTransport = (*Transport)(nil)

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) OnConnect(h core.ConnectHook) {
	t.mu.Lock()
	t.connect = h
	t.mu.Unlock()
}

func (t *Transport) OnProduce(h core.ProduceHook) {
	t.mu.Lock()
	t.produce = h
	t.mu.Unlock()
}

// Connect gathers local candidates, hands the local DTLS parameters to the
// connect hook and then brings ICE and DTLS up. Cancelling ctx closes the transport.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	hook, closed := t.connect, t.closed
	t.mu.Unlock()
	if closed {
		return core.ErrTransportClosed
	}
	if hook == nil {
		return errors.New("no connect hook installed")
	}
	stop := context.AfterFunc(ctx, t.Close)
	defer stop()

	gathered := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	local, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local dtls parameters: %w", err)
	}
	if err := hook(ctx, localDTLS(local)); err != nil {
		return err
	}

	if err := t.ice.SetRemoteCandidates(t.remoteCandidates); err != nil {
		return fmt.Errorf("remote candidates: %w", err)
	}
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(nil, t.remoteICE, &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(t.remoteDTLS); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	log.Info().Str("module", "rtc").Str("transport_id", string(t.id)).Msg("transport connected")
	return nil
}

// Produce starts an RTP sender for track. The server learns the sender's
// parameters through the produce hook before any packet leaves.
func (t *Transport) Produce(ctx context.Context, track core.LocalTrack) (core.Producer, error) {
	src, ok := track.(TrackSource)
	if !ok {
		return nil, fmt.Errorf("track %s cannot be sent by this engine", track.ID())
	}
	t.mu.Lock()
	hook, closed := t.produce, t.closed
	t.mu.Unlock()
	if closed {
		return nil, core.ErrTransportClosed
	}
	if hook == nil {
		return nil, errors.New("no produce hook installed")
	}

	local := src.TrackLocal()
	sender, err := t.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	params := sender.GetParameters()
	id, err := hook(ctx, track.Kind(), sendParameters(params, track.Kind(), local.StreamID()))
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}
	if err := sender.Send(params); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtp send: %w", err)
	}
	go drainRTCP(sender)

	p := &Producer{id: id, kind: track.Kind(), sender: sender, track: local}
	if !t.add(func() { t.producers = append(t.producers, p) }) {
		p.Close()
		return nil, core.ErrTransportClosed
	}
	log.Info().Str("module", "rtc").Str("transport_id", string(t.id)).Str("flow_id", string(id)).Msg("producing")
	return p, nil
}

// Consume starts an RTP receiver for the server's consumer and relays its
// packets to the sinks attached through Options.OnConsumer.
func (t *Transport) Consume(_ context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	params, err := receiveParameters(opts.RTPParameters)
	if err != nil {
		return nil, fmt.Errorf("consumer %s: %w", opts.ID, err)
	}
	receiver, err := t.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	if err := receiver.Receive(params); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: %w", err)
	}

	logger := log.With().Str("module", "rtc").Str("flow_id", string(opts.ID)).Logger()
	c := newConsumer(opts, receiver, trackReader{receiver.Track()})
	if !t.add(func() { t.consumers = append(t.consumers, c) }) {
		c.Close()
		return nil, core.ErrTransportClosed
	}
	if t.onConsumer != nil {
		t.onConsumer(c)
	}
	c.start(&logger)
	logger.Info().Str("producer_id", string(opts.ProducerID)).Msg("consuming")
	return c, nil
}

func (t *Transport) add(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	fn()
	return true
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.producers, t.consumers = nil, nil
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	if err := t.dtls.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport_id", string(t.id)).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport_id", string(t.id)).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport_id", string(t.id)).Msg("gatherer close")
	}
	log.Info().Str("module", "rtc").Str("transport_id", string(t.id)).Msg("transport closed")
}

// drainRTCP keeps interceptors fed; pion needs RTCP read from every sender.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type Producer struct {
	id     domain.FlowID
	kind   domain.MediaKind
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal

	mu     sync.Mutex
	paused bool
	closed bool
}

func (p *Producer) ID() domain.FlowID      { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

// Pause detaches the track from the sender; nothing is sent until Resume.
func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.closed {
		return
	}
	if err := p.sender.ReplaceTrack(nil); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("flow_id", string(p.id)).Msg("pause")
		return
	}
	p.paused = true
}

func (p *Producer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused || p.closed {
		return
	}
	if err := p.sender.ReplaceTrack(p.track); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("flow_id", string(p.id)).Msg("resume")
		return
	}
	p.paused = false
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if err := p.sender.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("flow_id", string(p.id)).Msg("sender stop")
	}
}

type trackReader struct{ t *webrtc.TrackRemote }

func (r trackReader) ReadRTP() (*rtp.Packet, error) {
	if r.t == nil {
		return nil, errors.New("receiver has no track")
	}
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}

// Consumer is one inbound flow. Sinks may be attached at any time.
type Consumer struct {
	opts     core.ConsumeOptions
	receiver interface{ Stop() error }
	relay    *Relay
	cancel   context.CancelFunc
	once     sync.Once
}

func newConsumer(opts core.ConsumeOptions, receiver interface{ Stop() error }, src RTPReader) *Consumer {
	return &Consumer{opts: opts, receiver: receiver, relay: NewRelay(src), cancel: func() {}}
}

func (c *Consumer) start(logger *zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.relay.Run(ctx, logger)
}

func (c *Consumer) ID() domain.FlowID         { return c.opts.ID }
func (c *Consumer) ProducerID() domain.FlowID { return c.opts.ProducerID }
func (c *Consumer) Kind() domain.MediaKind    { return c.opts.Kind }

// Attach forwards the consumer's packets to w under id.
func (c *Consumer) Attach(id string, w RTPWriter) { c.relay.Attach(id, NewSink(w)) }

func (c *Consumer) Detach(id string) { c.relay.Detach(id) }

// Done is closed once the consumer stopped relaying.
func (c *Consumer) Done() <-chan struct{} { return c.relay.Done() }

func (c *Consumer) Close() {
	c.once.Do(func() {
		c.cancel()
		if err := c.receiver.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("flow_id", string(c.opts.ID)).Msg("receiver stop")
		}
	})
}
