package rtcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseAppReport_ScenarioS1 checks the level/quality scaling with the
// S1 scenario's inputs: lock=1, quality=15, level=224 yields approximately
// -25dBm, signal=88 (round(224*100/255)) and quality=100.
func TestParseAppReport_ScenarioS1(t *testing.T) {
	payload := []byte("ver=1.0;src=1;tuner=1,224,1,15,11097.300,h,1,5,1,0.35,27500,34")
	rep, err := ParseAppReport(payload)
	require.NoError(t, err)

	assert.Equal(t, SystemSat, rep.System)
	assert.Equal(t, 1, rep.Source)
	assert.True(t, rep.Lock)
	// signal0100 = round(level*100/255); level=224 gives 88, not 100 -
	// see DESIGN.md's note on this scenario's stated value.
	assert.InDelta(t, -25.0, rep.SignalDBm, 0.5)
	assert.Equal(t, 88, rep.Signal0100)
	assert.Equal(t, 100, rep.Quality0100)
}

func TestParseAppReport_NoLockYieldsZeroQuality(t *testing.T) {
	payload := []byte("ver=1.0;src=1;tuner=1,0,0,0,,,,,,,,,,,,,,,padding")
	rep, err := ParseAppReport(payload)
	require.NoError(t, err)
	assert.False(t, rep.Lock)
	assert.Equal(t, 0, rep.Quality0100)
	assert.Equal(t, -1, rep.Signal0100)
}

func TestParseAppReport_TooShortIsError(t *testing.T) {
	_, err := ParseAppReport([]byte("ver=1.0;x"))
	assert.Error(t, err)
}

func TestParseAppReport_TerrestrialVersion(t *testing.T) {
	payload := []byte("ver=1.1;tuner=2,200,1,12,506,8,dvbt,8k,qam64,14,34")
	rep, err := ParseAppReport(payload)
	require.NoError(t, err)
	assert.Equal(t, SystemTerrestrial, rep.System)
	assert.Equal(t, -1, rep.Source)
}

func TestParseSenderReport_RoundTripsFields(t *testing.T) {
	body := make([]byte, 24)
	body[3] = 0x2A // SSRC low byte
	_, err := ParseSenderReport(body)
	assert.NoError(t, err)

	_, err = ParseSenderReport(body[:10])
	assert.Error(t, err)
}
