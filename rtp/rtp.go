// Package rtp implements the RTP receive path from spec.md §4.2: header
// parsing, sequence-gap counting, and MPEG-TS payload extraction, whether
// fed by a UDP socket (unicast/multicast) or demultiplexed from an
// RTSP/TCP interleaved connection. Header parsing is ported almost
// verbatim from the teacher's broadcastproto/transport RTP code (field
// names, the ErrShortRTP sentinel, the CSRC/extension arithmetic).
package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"reflect"
	"time"

	"go.uber.org/atomic"

	"github.com/satipgo/satip-client/internal/logging"
)

var log = logging.Get("rtp")

// ErrShortRTP is returned when a buffer is too small to hold even a base
// RTP header.
var ErrShortRTP = errors.New("RTP packet too short")

// Header is a parsed RTP header (RFC 3550 §5.1). CSRC identifiers
// themselves are not retained; SAT>IP never uses them.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	CSRCCount      uint8
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32

	ExtensionByteCount int // bytes of extension header+payload, if present
}

// ByteLength returns the total header length including CSRC list and
// extension, i.e. the offset of the payload within the packet.
func (h *Header) ByteLength() int {
	length := 12
	if h.CSRCCount > 0 {
		length += int(h.CSRCCount) * 4
	}
	if h.Extension {
		length += h.ExtensionByteCount
	}
	return length
}

// ParseHeader parses an RTP header from the front of data.
func ParseHeader(data []byte) (*Header, error) {
	const baseHeaderSize = 12
	if len(data) < baseHeaderSize {
		return nil, ErrShortRTP
	}

	b0, b1 := data[0], data[1]
	h := &Header{
		Version:        b0 >> 6,
		Padding:        (b0>>5)&0x01 == 1,
		Extension:      (b0>>4)&0x01 == 1,
		CSRCCount:      b0 & 0x0F,
		Marker:         (b1>>7)&0x01 == 1,
		PayloadType:    b1 & 0x7F,
		SequenceNumber: binary.BigEndian.Uint16(data[2:4]),
		Timestamp:      binary.BigEndian.Uint32(data[4:8]),
		SSRC:           binary.BigEndian.Uint32(data[8:12]),
	}
	if h.Version != 2 {
		return nil, fmt.Errorf("unsupported RTP version: %d", h.Version)
	}
	lenCSRC := 4 * int(h.CSRCCount)
	if len(data) < baseHeaderSize+lenCSRC {
		return nil, fmt.Errorf("RTP packet too short for CSRCs: want %d, got %d", baseHeaderSize+lenCSRC, len(data))
	}
	if h.Extension {
		extLenOff := baseHeaderSize + lenCSRC + 2
		if len(data) < extLenOff+2 {
			return nil, fmt.Errorf("RTP packet too short for extension header")
		}
		extLen := binary.BigEndian.Uint16(data[extLenOff : extLenOff+2])
		h.ExtensionByteCount = int(extLen)*4 + 4
		if len(data) < baseHeaderSize+lenCSRC+h.ExtensionByteCount {
			return nil, fmt.Errorf("RTP packet too short for extension: want %d, got %d",
				baseHeaderSize+lenCSRC+h.ExtensionByteCount, len(data))
		}
	}
	return h, nil
}

// Sink receives extracted MPEG-TS payload bytes from a RTP packet.
type Sink func(payload []byte)

// Receiver owns one RTP socket (or, in interleaved mode, no socket at
// all — packets arrive via HandlePacket from the RTSP client's framed
// reader). It tracks sequence-number gaps but never reorders, per
// spec.md §4.2 ("SAT>IP transports MPEG-TS and the host's demux is
// tolerant").
type Receiver struct {
	conn *net.UDPConn
	sink Sink

	buf []byte

	haveSeq bool
	lastSeq uint16
	lost    atomic.Uint64
	packets atomic.Uint64
	decodeErrs atomic.Uint64
}

// NewReceiver wraps an already-bound UDP socket (unicast or multicast) for
// the poller. sink is called synchronously with each packet's MPEG-TS
// payload, in arrival order.
func NewReceiver(conn *net.UDPConn, sink Sink) *Receiver {
	return &Receiver{
		conn: conn,
		sink: sink,
		buf:  make([]byte, 65535),
	}
}

// NewInterleavedReceiver returns a socket-less Receiver for RTP-over-TCP
// mode; the owner feeds it via HandlePacket as it demuxes the RTSP
// connection's interleaved frames.
func NewInterleavedReceiver(sink Sink) *Receiver {
	return &Receiver{sink: sink}
}

// Port reports the locally bound UDP port, or 0 in interleaved mode.
func (r *Receiver) Port() int {
	if r.conn == nil {
		return 0
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Id implements poller.Handle.
func (r *Receiver) Id() uintptr {
	if r.conn == nil {
		return 0
	}
	return reflect.ValueOf(r.conn).Pointer()
}

// ReadOnce implements poller.Handle: reads at most one datagram.
func (r *Receiver) ReadOnce(budget time.Duration) error {
	if r.conn == nil {
		return nil
	}
	_ = r.conn.SetReadDeadline(time.Now().Add(budget))
	n, err := r.conn.Read(r.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	r.HandlePacket(r.buf[:n])
	return nil
}

// HandlePacket parses one RTP packet and forwards its MPEG-TS payload to
// the sink. Decode failures are counted and dropped, never fatal, per
// spec.md §7's RtpDecode propagation policy.
func (r *Receiver) HandlePacket(data []byte) {
	r.packets.Inc()
	h, err := ParseHeader(data)
	if err != nil {
		r.decodeErrs.Inc()
		log.Debug("rtp decode error", "err", err)
		return
	}
	r.trackSequence(h.SequenceNumber)

	off := h.ByteLength()
	if off > len(data) {
		r.decodeErrs.Inc()
		return
	}
	payload := data[off:]
	if len(payload) > 0 && r.sink != nil {
		r.sink(payload)
	}
}

// trackSequence detects gaps per spec.md invariant 7: a jump of k emits
// k-1 into the lost-packet counter.
func (r *Receiver) trackSequence(seq uint16) {
	if !r.haveSeq {
		r.haveSeq = true
		r.lastSeq = seq
		return
	}
	expected := r.lastSeq + 1
	if seq != expected {
		gap := int(seq - expected) // wraps correctly via uint16 arithmetic
		if gap > 0 && gap < 1<<15 {
			r.lost.Add(uint64(gap))
			log.Debug("rtp sequence gap", "expected", expected, "got", seq, "lost", gap)
		}
	}
	r.lastSeq = seq
}

func (r *Receiver) LostPackets() uint64  { return r.lost.Load() }
func (r *Receiver) PacketsReceived() uint64 { return r.packets.Load() }
func (r *Receiver) DecodeErrors() uint64 { return r.decodeErrs.Load() }

func (r *Receiver) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
