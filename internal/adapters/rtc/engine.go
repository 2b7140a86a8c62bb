// Package rtc is the pion-based media engine: ORTC transports towards the
// SFU, RTP senders for local tracks and RTP receivers relayed to sinks.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app/negotiate"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

var ErrNotLoaded = errors.New("media engine capabilities not loaded")

type Options struct {
	ICEServers []string
	// Supported defaults to negotiate.DefaultSupported().
	Supported *signaling.RTPCapabilities
	// OnConsumer runs for every started consumer, e.g. to attach sinks.
	OnConsumer func(*Consumer)
}

// Engine implements core.MediaEngine. One Engine serves one session.
type Engine struct {
	opts Options

	mu     sync.RWMutex
	api    *webrtc.API
	loaded signaling.RTPCapabilities
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(opts Options) *Engine {
	if opts.Supported == nil {
		s := negotiate.DefaultSupported()
		opts.Supported = &s
	}
	return &Engine{opts: opts}
}

// LoadCapabilities keeps the router codecs this engine supports and
// registers them, with the router's payload types, in a pion MediaEngine.
func (e *Engine) LoadCapabilities(router signaling.RTPCapabilities) (signaling.RTPCapabilities, error) {
	local := negotiate.Intersect(router, *e.opts.Supported)

	m := &webrtc.MediaEngine{}
	for _, c := range local.Codecs {
		if err := m.RegisterCodec(codecParameters(c), codecType(c.Kind)); err != nil {
			return signaling.RTPCapabilities{}, fmt.Errorf("register codec %s/%d: %w", c.MimeType, c.PreferredPayloadType, err)
		}
	}
	for _, h := range local.HeaderExtensions {
		kinds := []domain.MediaKind{h.Kind}
		if h.Kind == "" {
			kinds = []domain.MediaKind{domain.KindAudio, domain.KindVideo}
		}
		for _, k := range kinds {
			if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: h.URI}, codecType(k)); err != nil {
				return signaling.RTPCapabilities{}, fmt.Errorf("register header extension %s: %w", h.URI, err)
			}
		}
	}

	e.mu.Lock()
	e.api = webrtc.NewAPI(webrtc.WithMediaEngine(m))
	e.loaded = local
	e.mu.Unlock()

	log.Debug().Str("module", "rtc").Int("codecs", len(local.Codecs)).Msg("capabilities loaded")
	return local, nil
}

func (e *Engine) CreateSendTransport(opts core.TransportOptions) (core.MediaTransport, error) {
	return e.createTransport(opts, domain.DirectionSend)
}

func (e *Engine) CreateRecvTransport(opts core.TransportOptions) (core.MediaTransport, error) {
	return e.createTransport(opts, domain.DirectionRecv)
}

func (e *Engine) createTransport(opts core.TransportOptions, dir domain.Direction) (*Transport, error) {
	e.mu.RLock()
	api := e.api
	e.mu.RUnlock()
	if api == nil {
		return nil, ErrNotLoaded
	}

	candidates, err := iceCandidates(opts.ICECandidates)
	if err != nil {
		return nil, err
	}
	var servers []webrtc.ICEServer
	if len(e.opts.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: e.opts.ICEServers}}
	}
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	log.Info().Str("module", "rtc").
		Str("transport_id", string(opts.ID)).
		Str("direction", string(dir)).
		Int("candidates", len(candidates)).
		Msg("transport created")
	return &Transport{
		id:               opts.ID,
		dir:              dir,
		api:              api,
		gatherer:         gatherer,
		ice:              ice,
		dtls:             dtls,
		remoteICE:        iceParameters(opts.ICEParameters),
		remoteCandidates: candidates,
		remoteDTLS:       remoteDTLS(opts.DTLSParameters),
		onConsumer:       e.opts.OnConsumer,
	}, nil
}
