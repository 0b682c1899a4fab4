package transport

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInterleavedFrame_ParsesChannelAndPayload(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	buf := append([]byte{'$', 0x00, 0x00, byte(len(payload))}, payload...)
	r := bufio.NewReader(bytes.NewReader(buf))

	frame, err := ReadInterleavedFrame(r)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame.Channel)
	assert.Equal(t, payload, frame.Payload)
}

func TestReadInterleavedFrame_RejectsBadMagic(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{'X', 0, 0, 0}))
	_, err := ReadInterleavedFrame(r)
	assert.Error(t, err)
}

func TestReadInterleavedFrame_TruncatedPayloadIsError(t *testing.T) {
	buf := []byte{'$', 1, 0x00, 0x0A, 1, 2, 3} // declares 10 bytes, has 3
	r := bufio.NewReader(bytes.NewReader(buf))
	_, err := ReadInterleavedFrame(r)
	assert.Error(t, err)
}
