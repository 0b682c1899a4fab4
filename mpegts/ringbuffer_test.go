package mpegts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tsPacket(pid int) []byte {
	p := make([]byte, PacketSize)
	p[0] = SyncByte
	p[1] = byte(pid >> 8 & 0x1f)
	p[2] = byte(pid)
	return p
}

func TestRingBuffer_GetDataReturnsAlignedSlice(t *testing.T) {
	rb := NewRingBuffer(4 * PacketSize)
	rb.Write(tsPacket(100))
	rb.Write(tsPacket(101))

	data := rb.GetData(PacketSize)
	require.NotNil(t, data)
	assert.Equal(t, 0, len(data)%PacketSize)
	assert.Equal(t, byte(SyncByte), data[0])

	rb.SkipData(len(data))
	assert.Equal(t, 0, rb.Len())
}

func TestRingBuffer_ResyncsOnGarbage(t *testing.T) {
	rb := NewRingBuffer(4 * PacketSize)
	garbage := []byte{0x00, 0x01, 0x02}
	rb.Write(garbage)
	rb.Write(tsPacket(200))

	data := rb.GetData(PacketSize)
	require.NotNil(t, data)
	assert.Equal(t, byte(SyncByte), data[0])
	assert.Equal(t, PacketSize, len(data))
}

func TestRingBuffer_OverflowDropsAndCounts(t *testing.T) {
	rb := NewRingBuffer(2 * PacketSize)
	for i := 0; i < 5; i++ {
		rb.Write(tsPacket(300 + i))
	}
	assert.Greater(t, rb.BytesDropped(), uint64(0))
}

func TestRingBuffer_GetDataNilBelowCheckMin(t *testing.T) {
	rb := NewRingBuffer(4 * PacketSize)
	rb.Write(tsPacket(1))
	assert.Nil(t, rb.GetData(2*PacketSize))
}

func TestStats_TracksContinuityCounterErrors(t *testing.T) {
	s := NewStats()
	p1 := tsPacket(256)
	p1[3] = 0x10 | 0 // has payload bit + cc=0
	p2 := tsPacket(256)
	p2[3] = 0x10 | 2 // jumped from 0 to 2: one dropped packet

	s.Observe(p1)
	s.Observe(p2)

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.ErrorsCC)
	assert.Equal(t, uint64(1), snap.ErrorsCCByPid[256])
}
