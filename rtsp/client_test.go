package rtsp

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL_OmitsDefaultPort(t *testing.T) {
	assert.Equal(t, "rtsp://10.0.0.2/", BaseURL("10.0.0.2", DefaultPort))
	assert.Equal(t, "rtsp://10.0.0.2/", BaseURL("10.0.0.2", 0))
	assert.Equal(t, "rtsp://10.0.0.2:8554/", BaseURL("10.0.0.2", 8554))
}

func TestSkipZeroes(t *testing.T) {
	assert.Equal(t, "123", skipZeroes("000123"))
	assert.Equal(t, "0", skipZeroes("0000"))
	assert.Equal(t, "", skipZeroes(""))
}

func TestParseSessionHeader(t *testing.T) {
	id, timeout := parseSessionHeader("62FE0802;timeout=30")
	assert.Equal(t, "62FE0802", id)
	assert.Equal(t, 30, timeout)
}

func TestParseSessionHeader_NoTimeout(t *testing.T) {
	id, timeout := parseSessionHeader("62FE0802")
	assert.Equal(t, "62FE0802", id)
	assert.Equal(t, 0, timeout)
}

func TestHeaderParam(t *testing.T) {
	tr := "RTP/AVP;unicast;client_port=33020-33021;stream=1"
	assert.Equal(t, "33020-33021", headerParam(tr, "client_port"))
	assert.Equal(t, "1", headerParam(tr, "stream"))
	assert.Equal(t, "", headerParam(tr, "missing"))
}

func TestKeepAliveInterval_FloorsAtMinimumMinusBuffer(t *testing.T) {
	assert.Equal(t, 29500*time.Millisecond, KeepAliveInterval(10))
	assert.Equal(t, 59500*time.Millisecond, KeepAliveInterval(60))
}

// fakeRTSPServer accepts one connection and replies 200 OK with the given
// extra headers to every request, for exercising Client's request framing
// without a real SAT>IP device.
func fakeRTSPServer(t *testing.T, headers map[string]string) (addr string, done chan struct{}) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done = make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\r\n" {
				break
			}
		}
		resp := "RTSP/1.0 200 OK\r\nCSeq: 1\r\n"
		for k, v := range headers {
			resp += k + ": " + v + "\r\n"
		}
		resp += "\r\n"
		_, _ = conn.Write([]byte(resp))
	}()
	return l.Addr().String(), done
}

func TestClient_OptionsSucceedsAgainstFakeServer(t *testing.T) {
	addr, done := fakeRTSPServer(t, nil)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewClient(host, port, "")
	require.NoError(t, err)
	defer c.Close()

	err = c.Options(BaseURL(host, port))
	assert.NoError(t, err)
	<-done
}
