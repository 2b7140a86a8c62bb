package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// StatsSink counts what a relay forwarded.
type StatsSink struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
	lost    atomic.Uint64
	started atomic.Bool
}

func (s *StatsSink) WriteRTP(pkt *rtp.Packet) error {
	seq := uint32(pkt.SequenceNumber)
	if s.started.Swap(true) {
		if gap := uint16(pkt.SequenceNumber - uint16(s.lastSeq.Load())); gap > 1 && gap < 1<<15 {
			s.lost.Add(uint64(gap - 1))
		}
	}
	s.lastSeq.Store(seq)
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	return nil
}

func (s *StatsSink) Packets() uint64 { return s.packets.Load() }
func (s *StatsSink) Bytes() uint64   { return s.bytes.Load() }
func (s *StatsSink) Lost() uint64    { return s.lost.Load() }
