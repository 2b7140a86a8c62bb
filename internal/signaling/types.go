package signaling

import "github.com/dkeye/meet/internal/domain"

type MessageType string

const (
	TypeJoinRoom           MessageType = "join-room"
	TypeRouterCapabilities MessageType = "router-capabilities"
	TypeCreateTransport    MessageType = "create-transport"
	TypeTransportCreated   MessageType = "transport-created"
	TypeConnectTransport   MessageType = "connect-transport"
	TypeTransportConnected MessageType = "transport-connected"
	TypeProduce            MessageType = "produce"
	TypeProduced           MessageType = "produced"
	TypeConsume            MessageType = "consume"
	TypeConsumed           MessageType = "consumed"
	TypeResumeConsumer     MessageType = "resume-consumer"
	TypeConsumerResumed    MessageType = "consumer-resumed"
	TypeExistingPeers      MessageType = "existing-peers"
	TypeExistingProducers  MessageType = "existing-producers"
	TypeNewProducer        MessageType = "new-producer"
	TypePeerJoined         MessageType = "peer-joined"
	TypePeerLeft           MessageType = "peer-left"
	TypeConsumerClosed     MessageType = "consumer-closed"
	TypeCannotConsume      MessageType = "cannot-consume"
	TypeError              MessageType = "error"
)

// Message is any typed payload of the catalogue.
type Message interface {
	Type() MessageType
	validate() error
}

// RTPCapabilities is the codec/extension set advertised by the router or
// loaded by the local engine.
type RTPCapabilities struct {
	Codecs           []CodecCapability `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions,omitempty"`
}

type CodecCapability struct {
	Kind                 domain.MediaKind `json:"kind"`
	MimeType             string           `json:"mimeType"`
	PreferredPayloadType uint8            `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32           `json:"clockRate"`
	Channels             uint16           `json:"channels,omitempty"`
	Parameters           map[string]any   `json:"parameters,omitempty"`
	RTCPFeedback         []RTCPFeedback   `json:"rtcpFeedback,omitempty"`
}

type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type HeaderExtension struct {
	Kind        domain.MediaKind `json:"kind,omitempty"`
	URI         string           `json:"uri"`
	PreferredID int              `json:"preferredId"`
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

type CodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RTCPFeedback []RTCPFeedback `json:"rtcpFeedback,omitempty"`
}

type Encoding struct {
	SSRC uint32 `json:"ssrc,omitempty"`
	RID  string `json:"rid,omitempty"`
}

type RTCPParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RTPParameters struct {
	MID       string            `json:"mid,omitempty"`
	Codecs    []CodecParameters `json:"codecs"`
	Encodings []Encoding        `json:"encodings,omitempty"`
	RTCP      RTCPParameters    `json:"rtcp,omitempty"`
}

// --- client → server

type JoinRoom struct {
	RoomID      domain.RoomID `json:"roomId"`
	DisplayName string        `json:"displayName"`
}

type CreateTransport struct {
	Direction domain.Direction `json:"direction"`
}

type ConnectTransport struct {
	TransportID    domain.TransportID `json:"transportId"`
	DTLSParameters DTLSParameters     `json:"dtlsParameters"`
}

type Produce struct {
	RequestID     string             `json:"requestId,omitempty"`
	TransportID   domain.TransportID `json:"transportId"`
	Kind          domain.MediaKind   `json:"kind"`
	RTPParameters RTPParameters      `json:"rtpParameters"`
}

type Consume struct {
	TransportID     domain.TransportID `json:"transportId"`
	ProducerID      domain.FlowID      `json:"producerId"`
	RTPCapabilities RTPCapabilities    `json:"rtpCapabilities"`
}

type ResumeConsumer struct {
	ConsumerID domain.FlowID `json:"consumerId"`
}

// --- server → client

type RouterCapabilities struct {
	RTPCapabilities
}

type TransportCreated struct {
	ID             domain.TransportID `json:"id"`
	Direction      domain.Direction   `json:"direction"`
	ICEParameters  ICEParameters      `json:"iceParameters"`
	ICECandidates  []ICECandidate     `json:"iceCandidates"`
	DTLSParameters DTLSParameters     `json:"dtlsParameters"`
}

type TransportConnected struct {
	TransportID domain.TransportID `json:"transportId"`
}

type Produced struct {
	ID        domain.FlowID `json:"id"`
	RequestID string        `json:"requestId,omitempty"`
}

type Consumed struct {
	ID            domain.FlowID    `json:"id"`
	ProducerID    domain.FlowID    `json:"producerId"`
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters RTPParameters    `json:"rtpParameters"`
	PeerID        domain.PeerID    `json:"peerId,omitempty"`
}

type ConsumerResumed struct {
	ConsumerID domain.FlowID `json:"consumerId"`
}

type PeerInfo struct {
	ID          domain.PeerID `json:"id"`
	DisplayName string        `json:"displayName"`
}

type ProducerInfo struct {
	PeerID     domain.PeerID    `json:"peerId"`
	ProducerID domain.FlowID    `json:"producerId"`
	Kind       domain.MediaKind `json:"kind,omitempty"`
}

// ExistingPeers and ExistingProducers travel as bare JSON arrays.
type ExistingPeers struct {
	Peers []PeerInfo
}

type ExistingProducers struct {
	Producers []ProducerInfo
}

type NewProducer struct {
	ProducerInfo
}

type PeerJoined struct {
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
}

type PeerLeft struct {
	PeerID domain.PeerID `json:"peerId"`
}

type ConsumerClosed struct {
	ConsumerID domain.FlowID `json:"consumerId"`
}

type CannotConsume struct {
	ProducerID domain.FlowID `json:"producerId"`
	Reason     string        `json:"reason,omitempty"`
}

// Error is fatal unless Recoverable is set.
type Error struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

func (JoinRoom) Type() MessageType           { return TypeJoinRoom }
func (RouterCapabilities) Type() MessageType { return TypeRouterCapabilities }
func (CreateTransport) Type() MessageType    { return TypeCreateTransport }
func (TransportCreated) Type() MessageType   { return TypeTransportCreated }
func (ConnectTransport) Type() MessageType   { return TypeConnectTransport }
func (TransportConnected) Type() MessageType { return TypeTransportConnected }
func (Produce) Type() MessageType            { return TypeProduce }
func (Produced) Type() MessageType           { return TypeProduced }
func (Consume) Type() MessageType            { return TypeConsume }
func (Consumed) Type() MessageType           { return TypeConsumed }
func (ResumeConsumer) Type() MessageType     { return TypeResumeConsumer }
func (ConsumerResumed) Type() MessageType    { return TypeConsumerResumed }
func (ExistingPeers) Type() MessageType      { return TypeExistingPeers }
func (ExistingProducers) Type() MessageType  { return TypeExistingProducers }
func (NewProducer) Type() MessageType        { return TypeNewProducer }
func (PeerJoined) Type() MessageType         { return TypePeerJoined }
func (PeerLeft) Type() MessageType           { return TypePeerLeft }
func (ConsumerClosed) Type() MessageType     { return TypeConsumerClosed }
func (CannotConsume) Type() MessageType      { return TypeCannotConsume }
func (Error) Type() MessageType              { return TypeError }
