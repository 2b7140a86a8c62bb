// Package capture provides local media from disk: an Ogg/Opus file or
// generated silence for audio and an IVF file for video.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
)

type Options struct {
	// AudioFile is an Ogg/Opus file; empty sends silence.
	AudioFile string
	// VideoFile is an IVF (VP8) file; empty means no video.
	VideoFile string
}

type Provider struct {
	opts Options
	open func(name string) (io.ReadSeekCloser, error)
}

var _ core.CaptureProvider = (*Provider)(nil)

func NewProvider(opts Options) *Provider {
	return &Provider{
		opts: opts,
		open: func(name string) (io.ReadSeekCloser, error) { return os.Open(name) },
	}
}

// AcquireLocalTracks starts the requested tracks. A missing file leaves that
// track out; an unreadable one is a denied permission.
func (p *Provider) AcquireLocalTracks(ctx context.Context, c core.CaptureConstraints) (core.LocalTracks, error) {
	var out core.LocalTracks
	streamID := uuid.NewString()

	if c.Audio {
		src, err := p.audioSource()
		if err != nil {
			return out, err
		}
		if src != nil {
			t, err := newTrack(domain.KindAudio, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, streamID, src)
			if err != nil {
				_ = src.Close()
				return out, err
			}
			out.Audio = t
		}
	}
	if c.Video && p.opts.VideoFile != "" {
		src, err := p.videoSource()
		if err != nil {
			out.Stop()
			return core.LocalTracks{}, err
		}
		if src != nil {
			t, err := newTrack(domain.KindVideo, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, streamID, src)
			if err != nil {
				_ = src.Close()
				out.Stop()
				return core.LocalTracks{}, err
			}
			out.Video = t
		}
	}
	if err := ctx.Err(); err != nil {
		out.Stop()
		return core.LocalTracks{}, err
	}
	log.Info().Str("module", "capture").
		Bool("audio", out.Audio != nil).
		Bool("video", out.Video != nil).
		Msg("local tracks acquired")
	return out, nil
}

func (p *Provider) openFile(name string) (io.ReadSeekCloser, error) {
	f, err := p.open(name)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %v", core.ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("module", "capture").Str("file", name).Msg("media file missing, track left out")
		return nil, nil
	default:
		return nil, err
	}
}

func (p *Provider) audioSource() (source, error) {
	if p.opts.AudioFile == "" {
		return silence{}, nil
	}
	f, err := p.openFile(p.opts.AudioFile)
	if f == nil || err != nil {
		return nil, err
	}
	s, err := newOggSource(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (p *Provider) videoSource() (source, error) {
	f, err := p.openFile(p.opts.VideoFile)
	if f == nil || err != nil {
		return nil, err
	}
	s, err := newIVFSource(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if s.fourCC != "VP80" {
		_ = s.Close()
		return nil, fmt.Errorf("ivf: unsupported codec %q", s.fourCC)
	}
	return s, nil
}

// Track is a local track fed from a source at the source's pace.
type Track struct {
	kind    domain.MediaKind
	local   *webrtc.TrackLocalStaticSample
	src     source
	enabled atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newTrack(kind domain.MediaKind, codec webrtc.RTPCodecCapability, streamID string, src source) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), streamID)
	if err != nil {
		return nil, fmt.Errorf("%s track: %w", kind, err)
	}
	t := &Track{
		kind:  kind,
		local: local,
		src:   src,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func (t *Track) pump() {
	defer close(t.done)
	ticker := time.NewTicker(t.src.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
		sample, err := t.src.Next()
		if err != nil {
			log.Error().Err(err).Str("module", "capture").Str("kind", string(t.kind)).Msg("source failed, track stopped")
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.local.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("module", "capture").Str("kind", string(t.kind)).Msg("write sample")
		}
	}
}

func (t *Track) ID() string                    { return t.local.ID() + "-" + t.local.StreamID() }
func (t *Track) Kind() domain.MediaKind        { return t.kind }
func (t *Track) SetEnabled(v bool)             { t.enabled.Store(v) }
func (t *Track) Enabled() bool                 { return t.enabled.Load() }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

// Stop ends the pump and releases the source. Safe to call twice.
func (t *Track) Stop() {
	t.once.Do(func() {
		close(t.stop)
		<-t.done
		if err := t.src.Close(); err != nil {
			log.Debug().Err(err).Str("module", "capture").Msg("close source")
		}
	})
}
