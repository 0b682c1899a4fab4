// Package mpegts implements the TS ring buffer and packet bookkeeping from
// spec.md §3/§4.9: a bounded byte buffer aligned to the 188-byte TS packet
// size feeding the host's bulk getData/skipData API, plus per-PID
// continuity-counter statistics for the STAT/INFO diagnostic pages. PID and
// continuity-counter access is grounded on the teacher's
// broadcastproto/mpegts package (github.com/Comcast/gots/v2/packet).
package mpegts

import (
	"bytes"
	"sync"

	"go.uber.org/atomic"

	"github.com/satipgo/satip-client/internal/logging"
)

var log = logging.Get("mpegts")

// PacketSize is the fixed MPEG-TS packet size; all ring-buffer alignment is
// in multiples of it.
const PacketSize = 188

// SyncByte is the 0x47 marker every TS packet starts with.
const SyncByte = 0x47

// RingBuffer is a bounded, 188-byte-aligned circular byte buffer. The RTP
// receiver is its only producer; the host's getData/skipData API is its
// only consumer. Overflow never blocks the producer: bytes that don't fit
// are dropped and counted (spec.md §3's TS ring buffer overflow policy).
type RingBuffer struct {
	mu   sync.Mutex
	data []byte
	head int
	tail int

	capacity int
	dropped  atomic.Uint64
}

// NewRingBuffer allocates a buffer of approximately capacityBytes, rounded
// down to a whole number of TS packets.
func NewRingBuffer(capacityBytes int) *RingBuffer {
	capacity := (capacityBytes / PacketSize) * PacketSize
	if capacity < PacketSize {
		capacity = PacketSize
	}
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends producer bytes (MPEG-TS payload extracted from RTP
// packets). Returns the number of bytes actually stored; the remainder, if
// any, is dropped and added to the overflow counter.
func (rb *RingBuffer) Write(payload []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	avail := rb.capacity - (rb.tail - rb.head)
	if avail <= 0 {
		rb.dropped.Add(uint64(len(payload)))
		return 0
	}
	n := len(payload)
	if n > avail {
		rb.dropped.Add(uint64(n - avail))
		n = avail
	}
	if rb.tail+n > rb.capacity {
		rb.compact()
	}
	copy(rb.data[rb.tail:rb.tail+n], payload[:n])
	rb.tail += n
	return n
}

// compact shifts the unread region to the start of the backing array. Must
// be called with mu held.
func (rb *RingBuffer) compact() {
	n := copy(rb.data, rb.data[rb.head:rb.tail])
	rb.tail = n
	rb.head = 0
}

// GetData returns a contiguous run of buffered bytes starting at a TS sync
// byte (0x47), length a multiple of PacketSize, or nil if fewer than
// checkMin aligned bytes are available. Any leading garbage before the
// next sync byte is silently dropped (re-sync on misalignment, per
// spec.md §6). The returned slice aliases internal storage and is only
// valid until the next Write/SkipData call.
func (rb *RingBuffer) GetData(checkMin int) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.head >= rb.tail {
		return nil
	}
	idx := bytes.IndexByte(rb.data[rb.head:rb.tail], SyncByte)
	if idx < 0 {
		rb.head = rb.tail
		return nil
	}
	if idx > 0 {
		log.Debug("ts ring buffer resync", "skipped", idx)
		rb.head += idx
	}
	avail := rb.tail - rb.head
	aligned := (avail / PacketSize) * PacketSize
	if aligned == 0 || aligned < checkMin {
		return nil
	}
	return rb.data[rb.head : rb.head+aligned]
}

// SkipData advances the consumer past n bytes previously returned by
// GetData.
func (rb *RingBuffer) SkipData(n int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head += n
	if rb.head > rb.tail {
		rb.head = rb.tail
	}
	if rb.head == rb.tail {
		rb.head, rb.tail = 0, 0
	}
}

// BytesDropped returns the cumulative overflow count.
func (rb *RingBuffer) BytesDropped() uint64 { return rb.dropped.Load() }

// Len reports the number of unread bytes currently buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.tail - rb.head
}
