package mpegts

import (
	"sync"

	"github.com/Comcast/gots/v2/packet"
)

// Stats accumulates per-PID continuity-counter bookkeeping for a tuner's
// incoming TS stream, for the STAT/INFO diagnostic pages. Continuity
// counter access is grounded on the teacher's checkContinuityCounter
// (broadcastproto/mpegts); the segment-writing half of that file has no
// counterpart here (a SAT>IP client has no segmenter) and was dropped, not
// adapted (see DESIGN.md).
type Stats struct {
	mu sync.Mutex

	PacketsReceived uint64
	BytesReceived   uint64
	ErrorsCC        uint64
	ErrorsCCByPid   map[int]uint64

	continuityMap map[int]uint8
}

func NewStats() *Stats {
	return &Stats{
		ErrorsCCByPid: make(map[int]uint64),
		continuityMap: make(map[int]uint8),
	}
}

// Observe walks a contiguous run of TS packets (len(buf) a multiple of
// PacketSize), updating receive counters and continuity-counter error
// tracking per PID.
func (s *Stats) Observe(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for off := 0; off+PacketSize <= len(buf); off += PacketSize {
		var pkt packet.Packet
		copy(pkt[:], buf[off:off+PacketSize])

		s.PacketsReceived++
		s.BytesReceived += PacketSize

		if !pkt.HasPayload() || pkt.IsNull() {
			continue
		}
		pid := pkt.PID()
		cc := uint8(pkt.ContinuityCounter())
		lastCC, exists := s.continuityMap[pid]
		s.continuityMap[pid] = cc
		if exists && cc != (lastCC+1)%16 {
			s.ErrorsCC++
			s.ErrorsCCByPid[pid]++
		}
	}
}

// Snapshot returns a copy safe to render without holding the stats lock.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := Stats{
		PacketsReceived: s.PacketsReceived,
		BytesReceived:   s.BytesReceived,
		ErrorsCC:        s.ErrorsCC,
		ErrorsCCByPid:   make(map[int]uint64, len(s.ErrorsCCByPid)),
	}
	for k, v := range s.ErrorsCCByPid {
		cp.ErrorsCCByPid[k] = v
	}
	return cp
}
