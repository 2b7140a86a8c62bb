package signaling

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var (
	ErrUnknownType = errors.New("signaling: unknown message type")
	ErrInvalid     = errors.New("signaling: invalid message")
)

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode validates msg and wraps it into the wire envelope.
func Encode(msg Message) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	var (
		data []byte
		err  error
	)
	switch m := msg.(type) {
	case ExistingPeers:
		data, err = json.Marshal(nonNil(m.Peers))
	case ExistingProducers:
		data, err = json.Marshal(nonNil(m.Producers))
	default:
		data, err = json.Marshal(msg)
	}
	if err != nil {
		return nil, fmt.Errorf("signaling: marshal %s: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Data: data})
}

// Decode parses one wire frame into its typed message.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msg, err := decodeData(env.Type, env.Data)
	if err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeData(t MessageType, data json.RawMessage) (Message, error) {
	switch t {
	case TypeJoinRoom:
		return unmarshalInto[JoinRoom](t, data)
	case TypeRouterCapabilities:
		return unmarshalInto[RouterCapabilities](t, data)
	case TypeCreateTransport:
		return unmarshalInto[CreateTransport](t, data)
	case TypeTransportCreated:
		return unmarshalInto[TransportCreated](t, data)
	case TypeConnectTransport:
		return unmarshalInto[ConnectTransport](t, data)
	case TypeTransportConnected:
		return unmarshalInto[TransportConnected](t, data)
	case TypeProduce:
		return unmarshalInto[Produce](t, data)
	case TypeProduced:
		return unmarshalInto[Produced](t, data)
	case TypeConsume:
		return unmarshalInto[Consume](t, data)
	case TypeConsumed:
		return unmarshalInto[Consumed](t, data)
	case TypeResumeConsumer:
		return unmarshalInto[ResumeConsumer](t, data)
	case TypeConsumerResumed:
		return unmarshalInto[ConsumerResumed](t, data)
	case TypeExistingPeers:
		var peers []PeerInfo
		if err := unmarshalRaw(t, data, &peers); err != nil {
			return nil, err
		}
		return ExistingPeers{Peers: peers}, nil
	case TypeExistingProducers:
		var producers []ProducerInfo
		if err := unmarshalRaw(t, data, &producers); err != nil {
			return nil, err
		}
		return ExistingProducers{Producers: producers}, nil
	case TypeNewProducer:
		return unmarshalInto[NewProducer](t, data)
	case TypePeerJoined:
		return unmarshalInto[PeerJoined](t, data)
	case TypePeerLeft:
		return unmarshalInto[PeerLeft](t, data)
	case TypeConsumerClosed:
		return unmarshalInto[ConsumerClosed](t, data)
	case TypeCannotConsume:
		return unmarshalInto[CannotConsume](t, data)
	case TypeError:
		return unmarshalInto[Error](t, data)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, t)
	}
}

func unmarshalInto[T Message](t MessageType, data json.RawMessage) (Message, error) {
	var v T
	if err := unmarshalRaw(t, data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalRaw(t MessageType, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s missing data", ErrInvalid, t)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, t, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
