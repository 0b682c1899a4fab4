package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceFromString_Satellite(t *testing.T) {
	code, ok := SourceFromString("S19.2E")
	assert.True(t, ok)
	assert.Equal(t, 10192, code)

	code, ok = SourceFromString("S9.0W")
	assert.True(t, ok)
	assert.Equal(t, 10000-90, code)
}

func TestSourceFromString_FixedSources(t *testing.T) {
	code, ok := SourceFromString("T")
	assert.True(t, ok)
	assert.Equal(t, SourceTerrestrial, code)

	code, ok = SourceFromString("c")
	assert.True(t, ok)
	assert.Equal(t, SourceCable, code)
}

func TestSourceFromString_UnparseableIsFalse(t *testing.T) {
	_, ok := SourceFromString("bogus")
	assert.False(t, ok)
	_, ok = SourceFromString("")
	assert.False(t, ok)
}

func TestSourceToString_RoundTripsSatellite(t *testing.T) {
	code, ok := SourceFromString("S19.2E")
	assert.True(t, ok)
	assert.Equal(t, "S19.2E", SourceToString(code))
}

func TestSourceToString_FixedSources(t *testing.T) {
	assert.Equal(t, "T", SourceToString(SourceTerrestrial))
	assert.Equal(t, "A", SourceToString(SourceAtsc))
}
