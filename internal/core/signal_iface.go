package core

import "errors"

// Frame is one raw signaling message.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts the signaling transport.
// Owned by the adapter; the session only writes to it and closes it on teardown.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalSink receives inbound frames from an adapter's read pump.
type SignalSink interface {
	Deliver(Frame)
	// OnSignalClosed is called once when the channel is gone for good.
	OnSignalClosed(err error)
}
