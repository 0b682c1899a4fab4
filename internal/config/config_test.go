package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperatingMode(t *testing.T) {
	m, err := ParseOperatingMode("HIGH")
	require.NoError(t, err)
	assert.Equal(t, ModeHigh, m)

	_, err = ParseOperatingMode("bogus")
	assert.Error(t, err)
}

func TestParseTransportMode(t *testing.T) {
	m, err := ParseTransportMode("tcp")
	require.NoError(t, err)
	assert.Equal(t, TransportRtpOverTcp, m)

	m, err = ParseTransportMode("multicast")
	require.NoError(t, err)
	assert.Equal(t, TransportMulticast, m)
}

func TestNewDefault_Values(t *testing.T) {
	c := NewDefault()
	assert.Equal(t, ModeNormal, c.OperatingMode())
	assert.Equal(t, TransportUnicast, c.TransportMode())
	assert.Equal(t, 16*1024*1024, c.RtpRcvBufSize())
	assert.Empty(t, c.DisabledSources())
}

func TestSetPortRange_RejectsOddStart(t *testing.T) {
	c := NewDefault()
	err := c.SetPortRange(33021, 33060)
	assert.Error(t, err)
}

func TestSetPortRange_RejectsStopBeforeStart(t *testing.T) {
	c := NewDefault()
	err := c.SetPortRange(33100, 33020)
	assert.Error(t, err)
}

func TestSetPortRange_AcceptsValidRange(t *testing.T) {
	c := NewDefault()
	err := c.SetPortRange(33020, 33060)
	require.NoError(t, err)
	assert.Equal(t, 33020, c.PortRangeStart())
	assert.Equal(t, 33060, c.PortRangeStop())
}

func TestCicam_OutOfRangeIsNoop(t *testing.T) {
	c := NewDefault()
	c.SetCicam(5, 99) // out of range, MaxCicamCount=2
	assert.Equal(t, 0, c.Cicam(5))

	c.SetCicam(0, 42)
	assert.Equal(t, 42, c.Cicam(0))
}

func TestDisabledSources_CopiesOnReadAndWrite(t *testing.T) {
	c := NewDefault()
	in := []int{1, 2, 3}
	c.SetDisabledSources(in)
	in[0] = 999 // mutating the caller's slice must not affect the stored copy

	got := c.DisabledSources()
	assert.Equal(t, []int{1, 2, 3}, got)

	got[1] = 888 // mutating the returned slice must not affect the stored copy
	assert.Equal(t, []int{1, 2, 3}, c.DisabledSources())
}

func TestParseServerSpec_FullForm(t *testing.T) {
	spec, err := ParseServerSpec("10.0.0.1@10.0.0.2:8554|DVBS2-2:1,2|MyBox:3")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", spec.SourceAddress)
	assert.Equal(t, "10.0.0.2", spec.Address)
	assert.Equal(t, 8554, spec.Port)
	assert.Equal(t, "DVBS2-2", spec.Model)
	assert.Equal(t, "1,2", spec.Filter)
	assert.Equal(t, "MyBox", spec.Description)
	assert.Equal(t, 3, spec.QuirkMask)
}

func TestParseServerSpec_MinimalForm(t *testing.T) {
	spec, err := ParseServerSpec("10.0.0.2|DVBS2-1")
	require.NoError(t, err)
	assert.Equal(t, 554, spec.Port)
	assert.Equal(t, "", spec.SourceAddress)
	assert.Equal(t, "", spec.Description)
}

func TestParseServerSpec_MalformedPortIsError(t *testing.T) {
	_, err := ParseServerSpec("10.0.0.2:notaport|DVBS2-1")
	assert.Error(t, err)
}

func TestParseServerSpec_TooFewPartsIsError(t *testing.T) {
	_, err := ParseServerSpec("10.0.0.2")
	assert.Error(t, err)
}

func TestParseServerSpecs_SplitsOnSemicolon(t *testing.T) {
	specs, err := ParseServerSpecs("10.0.0.2|DVBS2-1;10.0.0.3|DVBT-2")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "10.0.0.3", specs[1].Address)
}

func TestParseServerSpecs_EmptyStringIsNil(t *testing.T) {
	specs, err := ParseServerSpecs("  ")
	require.NoError(t, err)
	assert.Nil(t, specs)
}
