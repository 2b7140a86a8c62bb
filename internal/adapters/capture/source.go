package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusFrame = 20 * time.Millisecond

// opusSilence is one 20 ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// source yields the samples of one local track, one per interval.
type source interface {
	Next() (media.Sample, error)
	Interval() time.Duration
	Close() error
}

type silence struct{}

func (silence) Next() (media.Sample, error) {
	return media.Sample{Data: opusSilence, Duration: opusFrame}, nil
}
func (silence) Interval() time.Duration { return opusFrame }
func (silence) Close() error            { return nil }

// oggSource replays an Ogg/Opus file in a loop.
type oggSource struct {
	f           io.ReadSeekCloser
	r           *oggreader.OggReader
	lastGranule uint64
}

func newOggSource(f io.ReadSeekCloser) (*oggSource, error) {
	s := &oggSource{f: f}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return fmt.Errorf("ogg: %w", err)
	}
	s.r, s.lastGranule = r, 0
	return nil
}

func (s *oggSource) Next() (media.Sample, error) {
	for attempt := 0; attempt < 4; attempt++ {
		page, hdr, err := s.r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if err := s.rewind(); err != nil {
				return media.Sample{}, err
			}
			continue
		}
		if err != nil {
			return media.Sample{}, fmt.Errorf("ogg page: %w", err)
		}
		// OpusTags and other header pages carry no audio
		if hdr.GranulePosition == 0 {
			continue
		}
		samples := hdr.GranulePosition - s.lastGranule
		s.lastGranule = hdr.GranulePosition
		return media.Sample{Data: page, Duration: time.Duration(samples) * time.Second / 48000}, nil
	}
	return media.Sample{}, errors.New("ogg: no audio pages")
}

func (s *oggSource) Interval() time.Duration { return opusFrame }
func (s *oggSource) Close() error            { return s.f.Close() }

// ivfSource replays an IVF file in a loop.
type ivfSource struct {
	f        io.ReadSeekCloser
	r        *ivfreader.IVFReader
	fourCC   string
	interval time.Duration
}

func newIVFSource(f io.ReadSeekCloser) (*ivfSource, error) {
	s := &ivfSource{f: f}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, hdr, err := ivfreader.NewWith(s.f)
	if err != nil {
		return fmt.Errorf("ivf: %w", err)
	}
	s.r, s.fourCC = r, hdr.FourCC
	s.interval = 33 * time.Millisecond
	if hdr.TimebaseDenominator > 0 && hdr.TimebaseNumerator > 0 {
		s.interval = time.Duration(hdr.TimebaseNumerator) * time.Second / time.Duration(hdr.TimebaseDenominator)
	}
	return nil
}

func (s *ivfSource) Next() (media.Sample, error) {
	frame, _, err := s.r.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		if err := s.rewind(); err != nil {
			return media.Sample{}, err
		}
		frame, _, err = s.r.ParseNextFrame()
	}
	if err != nil {
		return media.Sample{}, fmt.Errorf("ivf frame: %w", err)
	}
	return media.Sample{Data: frame, Duration: s.interval}, nil
}

func (s *ivfSource) Interval() time.Duration { return s.interval }
func (s *ivfSource) Close() error            { return s.f.Close() }
