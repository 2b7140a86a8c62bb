package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meet/internal/domain"
)

func TestDecode_TransportCreated(t *testing.T) {
	raw := []byte(`{
		"type":"transport-created",
		"data":{
			"id":"t-1",
			"direction":"send",
			"iceParameters":{"usernameFragment":"uf","password":"pw","iceLite":true},
			"iceCandidates":[{"foundation":"udpcandidate","priority":1076302079,"ip":"10.0.0.1","protocol":"udp","port":40000,"type":"host"}],
			"dtlsParameters":{"role":"auto","fingerprints":[{"algorithm":"sha-256","value":"AB:CD"}]}
		}
	}`)

	msg, err := Decode(raw)
	require.NoError(t, err)
	tc, ok := msg.(TransportCreated)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, domain.TransportID("t-1"), tc.ID)
	assert.Equal(t, domain.DirectionSend, tc.Direction)
	assert.True(t, tc.ICEParameters.ICELite)
	require.Len(t, tc.ICECandidates, 1)
	assert.Equal(t, uint16(40000), tc.ICECandidates[0].Port)
	assert.Equal(t, "sha-256", tc.DTLSParameters.Fingerprints[0].Algorithm)
}

func TestDecode_ExistingPeersIsBareArray(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"existing-peers","data":[{"id":"a","displayName":"Ann"},{"id":"b","displayName":"Bob"}]}`))
	require.NoError(t, err)
	peers := msg.(ExistingPeers).Peers
	require.Len(t, peers, 2)
	assert.Equal(t, "Bob", peers[1].DisplayName)
}

func TestDecode_NewProducerPromotesFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"new-producer","data":{"peerId":"b","producerId":"p-9","kind":"video"}}`))
	require.NoError(t, err)
	np := msg.(NewProducer)
	assert.Equal(t, domain.PeerID("b"), np.PeerID)
	assert.Equal(t, domain.FlowID("p-9"), np.ProducerID)
	assert.Equal(t, domain.KindVideo, np.Kind)
}

func TestDecode_ErrorDefaultsToFatal(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"error","data":{"message":"room is full"}}`))
	require.NoError(t, err)
	e := msg.(Error)
	assert.Equal(t, "room is full", e.Message)
	assert.False(t, e.Recoverable)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown type":    `{"type":"bogus","data":{}}`,
		"not json":        `{"type":`,
		"missing data":    `{"type":"peer-left"}`,
		"missing peer id": `{"type":"peer-left","data":{}}`,
		"bad kind":        `{"type":"consumed","data":{"id":"c","producerId":"p","kind":"text"}}`,
		"bad direction":   `{"type":"transport-created","data":{"id":"t","direction":"both"}}`,
		"producer no id":  `{"type":"existing-producers","data":[{"peerId":"a"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
		})
	}
	_, err := Decode([]byte(`{"type":"bogus","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = Decode([]byte(`{"type":"peer-left","data":{}}`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEncode_ExistingProducersEmptyIsArray(t *testing.T) {
	b, err := Encode(ExistingProducers{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"existing-producers","data":[]}`, string(b))
}

func TestEncode_ValidatesBeforeMarshal(t *testing.T) {
	_, err := Encode(Produce{TransportID: "t", Kind: "text"})
	assert.ErrorIs(t, err, ErrInvalid)

	b, err := Encode(ResumeConsumer{ConsumerID: "c-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"resume-consumer","data":{"consumerId":"c-1"}}`, string(b))
}

func TestEncodeDecode_ConsumeCarriesCapabilities(t *testing.T) {
	in := Consume{
		TransportID: "recv-1",
		ProducerID:  "p-1",
		RTPCapabilities: RTPCapabilities{Codecs: []CodecCapability{
			{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		}},
	}
	b, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
