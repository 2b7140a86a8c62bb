package rtc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meet/internal/domain"
	"github.com/dkeye/meet/internal/signaling"
)

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func iceParameters(p signaling.ICEParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func iceCandidates(in []signaling.ICECandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))
	for _, c := range in {
		proto, err := webrtc.NewICEProtocol(strings.ToLower(c.Protocol))
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
		})
	}
	return out, nil
}

// remoteDTLS returns the server side parameters pion starts DTLS with. The
// client always takes the DTLS client role, so an auto server becomes server.
func remoteDTLS(p signaling.DTLSParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: webrtc.DTLSRoleServer}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func localDTLS(p webrtc.DTLSParameters) signaling.DTLSParameters {
	out := signaling.DTLSParameters{Role: "client"}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, signaling.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

// fmtpLine renders codec parameters the way SDP carries them.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := params[k].(type) {
		case float64:
			parts = append(parts, k+"="+strconv.FormatFloat(v, 'f', -1, 64))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, ";")
}

func parseFmtp(line string) map[string]any {
	if line == "" {
		return nil
	}
	out := map[string]any{}
	for _, part := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
		} else {
			out[k] = v
		}
	}
	return out
}

func feedbackTo(in []signaling.RTCPFeedback) []webrtc.RTCPFeedback {
	var out []webrtc.RTCPFeedback
	for _, f := range in {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

func feedbackFrom(in []webrtc.RTCPFeedback) []signaling.RTCPFeedback {
	var out []signaling.RTCPFeedback
	for _, f := range in {
		out = append(out, signaling.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

func codecParameters(c signaling.CodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: feedbackTo(c.RTCPFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// sendParameters describes what an RTPSender will emit, for the produce request.
func sendParameters(p webrtc.RTPSendParameters, kind domain.MediaKind, cname string) signaling.RTPParameters {
	out := signaling.RTPParameters{RTCP: signaling.RTCPParameters{CNAME: cname, ReducedSize: true}}
	for _, c := range p.Codecs {
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(kind)+"/") {
			continue
		}
		out.Codecs = append(out.Codecs, signaling.CodecParameters{
			MimeType:     c.MimeType,
			PayloadType:  uint8(c.PayloadType),
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			Parameters:   parseFmtp(c.SDPFmtpLine),
			RTCPFeedback: feedbackFrom(c.RTCPFeedback),
		})
	}
	for _, e := range p.Encodings {
		out.Encodings = append(out.Encodings, signaling.Encoding{SSRC: uint32(e.SSRC), RID: e.RID})
	}
	return out
}

// receiveParameters picks the SSRC and payload type the server assigned to a consumer.
func receiveParameters(p signaling.RTPParameters) (webrtc.RTPReceiveParameters, error) {
	if len(p.Encodings) == 0 || p.Encodings[0].SSRC == 0 {
		return webrtc.RTPReceiveParameters{}, fmt.Errorf("consumer parameters carry no ssrc")
	}
	if len(p.Codecs) == 0 {
		return webrtc.RTPReceiveParameters{}, fmt.Errorf("consumer parameters carry no codec")
	}
	return webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(p.Encodings[0].SSRC),
				PayloadType: webrtc.PayloadType(p.Codecs[0].PayloadType),
			},
		}},
	}, nil
}
