package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rtpPacket(seq uint16, payload []byte) []byte {
	hdr := make([]byte, 12)
	hdr[0] = 0x80 // version 2, no padding/extension/csrc
	hdr[1] = 33   // MP2T payload type
	hdr[2] = byte(seq >> 8)
	hdr[3] = byte(seq)
	return append(hdr, payload...)
}

func TestParseHeader_Basic(t *testing.T) {
	h, err := ParseHeader(rtpPacket(42, []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.Version)
	assert.Equal(t, uint16(42), h.SequenceNumber)
	assert.Equal(t, 12, h.ByteLength())
}

func TestParseHeader_TooShortIsError(t *testing.T) {
	_, err := ParseHeader([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortRTP)
}

func TestParseHeader_RejectsNonV2(t *testing.T) {
	pkt := rtpPacket(1, nil)
	pkt[0] = 0x40 // version 1
	_, err := ParseHeader(pkt)
	assert.Error(t, err)
}

func TestParseHeader_WithCSRC(t *testing.T) {
	pkt := rtpPacket(1, nil)
	pkt[0] = 0x82 // version 2, csrcCount=2
	pkt = append(pkt, make([]byte, 8)...)
	pkt = append(pkt, []byte{9, 9, 9}...)

	h, err := ParseHeader(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.CSRCCount)
	assert.Equal(t, 20, h.ByteLength())
}

func TestReceiver_HandlePacket_ExtractsPayload(t *testing.T) {
	var got []byte
	r := NewInterleavedReceiver(func(payload []byte) { got = payload })

	payload := []byte{0x47, 1, 2, 3} // TS sync byte + data
	r.HandlePacket(rtpPacket(1, payload))

	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(1), r.PacketsReceived())
	assert.Equal(t, uint64(0), r.DecodeErrors())
}

func TestReceiver_HandlePacket_CountsDecodeErrorOnShortPacket(t *testing.T) {
	r := NewInterleavedReceiver(func([]byte) {})
	r.HandlePacket([]byte{1, 2})
	assert.Equal(t, uint64(1), r.DecodeErrors())
}

func TestReceiver_TrackSequence_CountsGapAsLost(t *testing.T) {
	r := NewInterleavedReceiver(func([]byte) {})
	r.HandlePacket(rtpPacket(1, []byte{1}))
	r.HandlePacket(rtpPacket(5, []byte{1})) // jumped 1->5: 3 lost

	assert.Equal(t, uint64(3), r.LostPackets())
}

func TestReceiver_TrackSequence_NoGapOnConsecutive(t *testing.T) {
	r := NewInterleavedReceiver(func([]byte) {})
	r.HandlePacket(rtpPacket(1, []byte{1}))
	r.HandlePacket(rtpPacket(2, []byte{1}))
	assert.Equal(t, uint64(0), r.LostPackets())
}

func TestReceiver_Port_ZeroWhenInterleaved(t *testing.T) {
	r := NewInterleavedReceiver(func([]byte) {})
	assert.Equal(t, 0, r.Port())
	assert.Equal(t, uintptr(0), r.Id())
}
