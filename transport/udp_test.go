package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenUnicastUDP_BindsEphemeralPort(t *testing.T) {
	conn, err := ListenUnicastUDP("", 0, 0)
	require.NoError(t, err)
	defer conn.Close()
	assert.Greater(t, conn.LocalAddr().(*net.UDPAddr).Port, 0)
}

func TestListenMulticastUDP_JoinsLoopbackGroup(t *testing.T) {
	// 239.1.1.1 is within the administratively-scoped multicast range and
	// safe to join without a real upstream source.
	conn, err := ListenMulticastUDP("", "239.1.1.1", 0, "", 0)
	if err != nil {
		t.Skipf("multicast join unavailable in this sandbox: %v", err)
	}
	defer conn.Close()
}
