package signaling

import "fmt"

func invalid(t MessageType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, t, fmt.Sprintf(format, args...))
}

func (m JoinRoom) validate() error {
	if m.RoomID == "" {
		return invalid(m.Type(), "missing roomId")
	}
	return nil
}

func (m RouterCapabilities) validate() error { return nil }

func (m CreateTransport) validate() error {
	if !m.Direction.Valid() {
		return invalid(m.Type(), "direction=%q", m.Direction)
	}
	return nil
}

func (m TransportCreated) validate() error {
	if m.ID == "" {
		return invalid(m.Type(), "missing id")
	}
	if !m.Direction.Valid() {
		return invalid(m.Type(), "direction=%q", m.Direction)
	}
	return nil
}

func (m ConnectTransport) validate() error {
	if m.TransportID == "" {
		return invalid(m.Type(), "missing transportId")
	}
	return nil
}

func (m TransportConnected) validate() error {
	if m.TransportID == "" {
		return invalid(m.Type(), "missing transportId")
	}
	return nil
}

func (m Produce) validate() error {
	if m.TransportID == "" {
		return invalid(m.Type(), "missing transportId")
	}
	if !m.Kind.Valid() {
		return invalid(m.Type(), "kind=%q", m.Kind)
	}
	return nil
}

func (m Produced) validate() error {
	if m.ID == "" {
		return invalid(m.Type(), "missing id")
	}
	return nil
}

func (m Consume) validate() error {
	if m.TransportID == "" || m.ProducerID == "" {
		return invalid(m.Type(), "missing transportId/producerId")
	}
	return nil
}

func (m Consumed) validate() error {
	if m.ID == "" || m.ProducerID == "" {
		return invalid(m.Type(), "missing id/producerId")
	}
	if !m.Kind.Valid() {
		return invalid(m.Type(), "kind=%q", m.Kind)
	}
	return nil
}

func (m ResumeConsumer) validate() error {
	if m.ConsumerID == "" {
		return invalid(m.Type(), "missing consumerId")
	}
	return nil
}

func (m ConsumerResumed) validate() error {
	if m.ConsumerID == "" {
		return invalid(m.Type(), "missing consumerId")
	}
	return nil
}

func (m ExistingPeers) validate() error {
	for i, p := range m.Peers {
		if p.ID == "" {
			return invalid(m.Type(), "peer %d missing id", i)
		}
	}
	return nil
}

func (m ExistingProducers) validate() error {
	for i, p := range m.Producers {
		if p.ProducerID == "" {
			return invalid(m.Type(), "producer %d missing producerId", i)
		}
	}
	return nil
}

func (m NewProducer) validate() error {
	if m.ProducerID == "" {
		return invalid(m.Type(), "missing producerId")
	}
	return nil
}

func (m PeerJoined) validate() error {
	if m.PeerID == "" {
		return invalid(m.Type(), "missing peerId")
	}
	return nil
}

func (m PeerLeft) validate() error {
	if m.PeerID == "" {
		return invalid(m.Type(), "missing peerId")
	}
	return nil
}

func (m ConsumerClosed) validate() error {
	if m.ConsumerID == "" {
		return invalid(m.Type(), "missing consumerId")
	}
	return nil
}

func (m CannotConsume) validate() error {
	if m.ProducerID == "" {
		return invalid(m.Type(), "missing producerId")
	}
	return nil
}

func (m Error) validate() error { return nil }
