// Package negotiate matches router capabilities against what the local
// media engine can handle.
package negotiate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

var (
	ErrMalformedCapabilities = errors.New("malformed router capabilities")
	ErrUnsupportedCodecs     = errors.New("no codec in common with the router")
)

// Loader is the part of the media engine the negotiator needs.
type Loader interface {
	LoadCapabilities(router signaling.RTPCapabilities) (signaling.RTPCapabilities, error)
}

// Capabilities is the negotiated local capability set kept by the session
// and sent with every consume request.
type Capabilities struct {
	RTP   signaling.RTPCapabilities
	Audio bool
	Video bool
}

func (c *Capabilities) CanSend(kind domain.MediaKind) bool {
	if c == nil {
		return false
	}
	switch kind {
	case domain.KindAudio:
		return c.Audio
	case domain.KindVideo:
		return c.Video
	}
	return false
}

// Negotiate validates router and loads it into the engine. Any error is fatal
// for the session.
func Negotiate(l Loader, router signaling.RTPCapabilities) (*Capabilities, error) {
	if err := Validate(router); err != nil {
		return nil, err
	}
	local, err := l.LoadCapabilities(router)
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	caps := &Capabilities{RTP: local}
	for _, c := range local.Codecs {
		if isRTX(c) {
			continue
		}
		switch c.Kind {
		case domain.KindAudio:
			caps.Audio = true
		case domain.KindVideo:
			caps.Video = true
		}
	}
	if !caps.Audio && !caps.Video {
		return nil, ErrUnsupportedCodecs
	}
	log.Debug().Str("module", "negotiate").
		Int("codecs", len(local.Codecs)).
		Bool("audio", caps.Audio).
		Bool("video", caps.Video).
		Msg("capabilities negotiated")
	return caps, nil
}

// Validate rejects router capabilities the engine could never load.
func Validate(router signaling.RTPCapabilities) error {
	if len(router.Codecs) == 0 {
		return fmt.Errorf("%w: no codecs", ErrMalformedCapabilities)
	}
	for i, c := range router.Codecs {
		if !c.Kind.Valid() {
			return fmt.Errorf("%w: codec %d kind=%q", ErrMalformedCapabilities, i, c.Kind)
		}
		prefix, name, ok := strings.Cut(c.MimeType, "/")
		if !ok || name == "" || !strings.EqualFold(prefix, string(c.Kind)) {
			return fmt.Errorf("%w: codec %d mimeType=%q", ErrMalformedCapabilities, i, c.MimeType)
		}
		if c.ClockRate == 0 {
			return fmt.Errorf("%w: codec %d has no clock rate", ErrMalformedCapabilities, i)
		}
	}
	return nil
}

// Intersect keeps the router codecs that some supported codec matches.
// Router payload types and parameters win. RTX entries survive only if
// their apt points at a kept codec.
func Intersect(router, supported signaling.RTPCapabilities) signaling.RTPCapabilities {
	var out signaling.RTPCapabilities
	kept := make(map[uint8]struct{})
	for _, rc := range router.Codecs {
		if isRTX(rc) {
			continue
		}
		for _, sc := range supported.Codecs {
			if codecMatches(rc, sc) {
				out.Codecs = append(out.Codecs, rc)
				kept[rc.PreferredPayloadType] = struct{}{}
				break
			}
		}
	}
	for _, rc := range router.Codecs {
		if !isRTX(rc) {
			continue
		}
		apt, ok := aptOf(rc)
		if !ok {
			continue
		}
		if _, ok := kept[apt]; ok {
			out.Codecs = append(out.Codecs, rc)
		}
	}

	uris := make(map[string]struct{}, len(supported.HeaderExtensions))
	for _, h := range supported.HeaderExtensions {
		uris[h.URI] = struct{}{}
	}
	for _, h := range router.HeaderExtensions {
		if _, ok := uris[h.URI]; ok {
			out.HeaderExtensions = append(out.HeaderExtensions, h)
		}
	}
	return out
}

func codecMatches(a, b signaling.CodecCapability) bool {
	if a.Kind != b.Kind || !strings.EqualFold(a.MimeType, b.MimeType) || a.ClockRate != b.ClockRate {
		return false
	}
	if a.Kind == domain.KindAudio && channels(a) != channels(b) {
		return false
	}
	return true
}

func channels(c signaling.CodecCapability) uint16 {
	if c.Channels == 0 {
		return 1
	}
	return c.Channels
}

func isRTX(c signaling.CodecCapability) bool {
	_, name, _ := strings.Cut(c.MimeType, "/")
	return strings.EqualFold(name, "rtx")
}

// aptOf reads the associated payload type; JSON numbers decode as float64.
func aptOf(c signaling.CodecCapability) (uint8, bool) {
	switch v := c.Parameters["apt"].(type) {
	case float64:
		return uint8(v), true
	case int:
		return uint8(v), true
	case uint8:
		return v, true
	case string:
		n, err := strconv.ParseUint(v, 10, 8)
		return uint8(n), err == nil
	}
	return 0, false
}
