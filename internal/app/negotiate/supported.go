package negotiate

import (
	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

// DefaultSupported is what the bundled engine can encode and decode.
func DefaultSupported() signaling.RTPCapabilities {
	return signaling.RTPCapabilities{
		Codecs: []signaling.CodecCapability{
			{
				Kind:      domain.KindAudio,
				MimeType:  "audio/opus",
				ClockRate: 48000,
				Channels:  2,
			},
			{
				Kind:      domain.KindVideo,
				MimeType:  "video/VP8",
				ClockRate: 90000,
				RTCPFeedback: []signaling.RTCPFeedback{
					{Type: "nack"},
					{Type: "nack", Parameter: "pli"},
					{Type: "goog-remb"},
				},
			},
			{
				Kind:      domain.KindVideo,
				MimeType:  "video/H264",
				ClockRate: 90000,
			},
		},
		HeaderExtensions: []signaling.HeaderExtension{
			{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: domain.KindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
			{Kind: domain.KindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4},
		},
	}
}
