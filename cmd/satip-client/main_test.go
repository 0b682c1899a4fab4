package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortRange_ValidRange(t *testing.T) {
	start, stop, err := parsePortRange("33020-33060", 2)
	require.NoError(t, err)
	assert.Equal(t, 33020, start)
	assert.Equal(t, 33060, stop)
}

func TestParsePortRange_OddStartIsError(t *testing.T) {
	_, _, err := parsePortRange("33021-33060", 2)
	assert.Error(t, err)
}

func TestParsePortRange_TooSmallForDeviceCountIsError(t *testing.T) {
	_, _, err := parsePortRange("33020-33022", 4)
	assert.Error(t, err)
}

func TestParsePortRange_MalformedIsError(t *testing.T) {
	_, _, err := parsePortRange("not-a-range", 1)
	assert.Error(t, err)
}
