package transport

import (
	"bufio"
	"fmt"
)

// InterleavedFrame is one RFC 2326 §10.12 frame: '$' + 1-byte channel id +
// 16-bit big-endian length + that many bytes of payload, used by the
// RtpOverTcp transport mode (spec.md §4.2, §4.4).
type InterleavedFrame struct {
	Channel byte
	Payload []byte
}

// ReadInterleavedFrame reads exactly one '$'-framed chunk from r. It does
// not skip RTSP response lines interleaved on the same connection: any byte
// other than '$' at the current position is returned as an error, so it is
// only usable while the control channel is quiescent, i.e. while PLAYing.
func ReadInterleavedFrame(r *bufio.Reader) (InterleavedFrame, error) {
	magic, err := r.ReadByte()
	if err != nil {
		return InterleavedFrame{}, err
	}
	if magic != '$' {
		return InterleavedFrame{}, fmt.Errorf("expected interleaved frame marker '$', got %#x", magic)
	}
	channel, err := r.ReadByte()
	if err != nil {
		return InterleavedFrame{}, err
	}
	var lenBuf [2]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return InterleavedFrame{}, err
	}
	length := int(lenBuf[0])<<8 | int(lenBuf[1])
	payload := make([]byte, length)
	if _, err := readFull(r, payload); err != nil {
		return InterleavedFrame{}, err
	}
	return InterleavedFrame{Channel: channel, Payload: payload}, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
