// Package sectionfilter implements the per-tuner section filter hub from
// spec.md §4.9: up to N open filters keyed by (pid, tid, mask), each
// reassembling DVB sections from the bulk TS stream and matching on the
// table id. Section reassembly across TS payload boundaries is grounded
// on other_examples/kento1218-go-tsparser's Table/Data() shape, generalized
// from PAT/PMT-specific parsing to a generic sink. PID/continuity-counter
// access uses github.com/Comcast/gots/v2/packet, as the teacher's
// broadcastproto/mpegts package does.
package sectionfilter

import (
	"fmt"
	"sync"

	"github.com/Comcast/gots/v2/packet"

	"github.com/satipgo/satip-client/internal/logging"
)

var log = logging.Get("sectionfilter")

// DefaultMaxFilters bounds the number of concurrently open filters per hub.
const DefaultMaxFilters = 32

// Sink receives a complete, matched DVB section (table id byte onward,
// excluding the pointer field and any stuffing).
type Sink func(section []byte)

// Filter is one open (pid, tid, mask) subscription.
type Filter struct {
	handle int
	pid    int
	tid    byte
	mask   byte
	sink   Sink
}

type reassembly struct {
	buf     []byte
	wantLen int
	lastCC  uint8
	haveCC  bool
}

// Hub demultiplexes DVB sections from a tuner's bulk TS stream. Opening a
// filter does not itself enable its PID on the tuner. The owning Tuner
// consults PidUsers so that SetPid(pid, false) does not queue a PID for
// removal while an open filter still watches it.
type Hub struct {
	mu        sync.Mutex
	nextHandle int
	filters   map[int]*Filter      // handle -> filter
	byPid     map[int][]*Filter    // pid -> filters watching it
	reasm     map[int]*reassembly  // pid -> in-progress section
	maxFilters int
}

func NewHub(maxFilters int) *Hub {
	if maxFilters <= 0 {
		maxFilters = DefaultMaxFilters
	}
	return &Hub{
		filters:    make(map[int]*Filter),
		byPid:      make(map[int][]*Filter),
		reasm:      make(map[int]*reassembly),
		maxFilters: maxFilters,
	}
}

// Open registers a new filter. Returns an opaque handle for Close.
func (h *Hub) Open(pid int, tid, mask byte, sink Sink) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.filters) >= h.maxFilters {
		return 0, fmt.Errorf("section filter hub full (max %d)", h.maxFilters)
	}
	h.nextHandle++
	f := &Filter{handle: h.nextHandle, pid: pid, tid: tid, mask: mask, sink: sink}
	h.filters[f.handle] = f
	h.byPid[pid] = append(h.byPid[pid], f)
	return f.handle, nil
}

// Close unregisters a filter by handle. Returns the filter's PID and whether
// any other open filter still watches it; an unknown handle returns (0, true).
func (h *Hub) Close(handle int) (pid int, otherUsers bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, ok := h.filters[handle]
	if !ok {
		return 0, true
	}
	delete(h.filters, handle)
	remaining := h.byPid[f.pid][:0]
	for _, other := range h.byPid[f.pid] {
		if other.handle != handle {
			remaining = append(remaining, other)
		}
	}
	if len(remaining) == 0 {
		delete(h.byPid, f.pid)
		delete(h.reasm, f.pid)
	} else {
		h.byPid[f.pid] = remaining
	}
	return f.pid, len(remaining) > 0
}

// PidUsers reports how many open filters are watching pid.
func (h *Hub) PidUsers(pid int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byPid[pid])
}

// Feed walks a contiguous run of TS packets and reassembles/dispatches
// sections for any PID with open filters.
func (h *Hub) Feed(buf []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for off := 0; off+188 <= len(buf); off += 188 {
		var pkt packet.Packet
		copy(pkt[:], buf[off:off+188])
		pid := pkt.PID()

		filters := h.byPid[pid]
		if len(filters) == 0 {
			continue
		}
		payload, err := pkt.Payload()
		if err != nil || len(payload) == 0 {
			continue
		}
		h.feedPacket(pid, pkt, payload, filters)
	}
}

func (h *Hub) feedPacket(pid int, pkt packet.Packet, payload []byte, filters []*Filter) {
	r, ok := h.reasm[pid]
	pusi := pkt.PayloadUnitStartIndicator()
	cc := uint8(pkt.ContinuityCounter())

	if pusi {
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			return
		}
		// Finish whatever a prior packet was assembling with the bytes
		// before the pointed-to new section start, but only if that
		// packet's continuity counter picks up where the last one left
		// off. A gap means the in-progress section is missing data and
		// must be discarded rather than spliced with garbage.
		if ok && len(r.buf) > 0 && pointer > 0 && r.continuous(cc) {
			r.buf = append(r.buf, payload[1:1+pointer]...)
			h.tryDeliver(pid, r, filters)
		}
		r = &reassembly{lastCC: cc, haveCC: true}
		h.reasm[pid] = r
		payload = payload[1+pointer:]
	} else {
		if !ok {
			return
		}
		if !r.continuous(cc) {
			delete(h.reasm, pid)
			return
		}
		r.lastCC, r.haveCC = cc, true
	}

	r.buf = append(r.buf, payload...)
	h.tryDeliver(pid, r, filters)
}

// continuous reports whether cc is the next expected continuity counter
// value after this reassembly's last-seen packet (RFC: increments mod 16
// per TS packet carrying a payload on this PID).
func (r *reassembly) continuous(cc uint8) bool {
	if !r.haveCC {
		return true
	}
	return cc == (r.lastCC+1)&0x0f
}

// tryDeliver matches and dispatches a section once enough bytes have
// arrived, per the (tid & mask) rule from spec.md §4.9.
func (h *Hub) tryDeliver(pid int, r *reassembly, filters []*Filter) {
	if len(r.buf) < 3 {
		return
	}
	if r.wantLen == 0 {
		sectionLen := int(r.buf[1]&0x0f)<<8 | int(r.buf[2])
		r.wantLen = 3 + sectionLen
	}
	if len(r.buf) < r.wantLen {
		return
	}
	section := r.buf[:r.wantLen]
	tid := section[0]

	for _, f := range filters {
		if tid&f.mask == f.tid&f.mask {
			f.sink(append([]byte(nil), section...))
		}
	}

	rest := append([]byte(nil), r.buf[r.wantLen:]...)
	r.buf = rest
	r.wantLen = 0
	if len(rest) > 0 {
		h.tryDeliver(pid, r, filters)
	}
}
