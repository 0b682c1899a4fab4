// Package rtsp implements the RFC 2326 subset from spec.md §4.4: OPTIONS,
// DESCRIBE, SETUP, PLAY and TEARDOWN against a SAT>IP server, with the
// transport negotiation and session/timeout bookkeeping the client needs to
// keep a tuning session alive. URL construction and session handling are
// ported from original_source/satip.c and original_source/tuner.c
// (GetBaseUrl, SetSessionTimeout, SkipZeroes); the request/response framing
// follows the shape of other_examples/cesbo-go-rtsp's Transport interface
// and bluenviron-gortsplib's client, generalized to a single small surface.
package rtsp

import (
	"bufio"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/satipgo/satip-client/internal/logging"
	"github.com/satipgo/satip-client/internal/satiperrors"
	"github.com/satipgo/satip-client/transport"
)

var log = logging.Get("rtsp")

// DefaultPort is the default SAT>IP RTSP port (RTSP's IANA default, reused
// unchanged by SAT>IP).
const DefaultPort = 554

const (
	minKeepAliveInterval = 30 * time.Second
	keepAlivePreBuffer   = 500 * time.Millisecond
	readTimeout          = 10 * time.Second
)

// TransportMode selects how the client asks the server to deliver RTP.
type TransportMode int

const (
	TransportUnicast TransportMode = iota
	TransportMulticast
	TransportRTPOverTCP
)

// SetupResult carries everything the caller needs after a successful SETUP.
type SetupResult struct {
	StreamID      int
	SessionID     string
	TimeoutSec    int
	ServerRTPPort int // informational, multicast/server-chosen client_port echo
	Multicast     bool
	MulticastAddr string
	UsesTCP       bool
}

// Client is a single RTSP/TCP connection to one SAT>IP server. It is not
// safe for concurrent use; the owning Tuner serializes all calls.
type Client struct {
	conn    net.Conn
	reader  *textproto.Reader
	bufR    *bufio.Reader
	cseq    int
	session string

	// stripSessionZeroes implements the SessionId quirk: some servers
	// return a session id with leading zeroes that must be stripped
	// before being echoed back (original_source/tuner.c SkipZeroes).
	stripSessionZeroes bool

	host string
	port int

	// onInterleavedRTP/onInterleavedRTCP receive framed $-blocks when the
	// negotiated transport is RTP-over-TCP.
	onInterleavedRTP  func(payload []byte)
	onInterleavedRTCP func(payload []byte)
}

// NewClient dials host:port. srcAddr, if non-empty, binds the local address
// used for the connection (the per-server "source address" config knob).
func NewClient(host string, port int, srcAddr string) (*Client, error) {
	if port <= 0 {
		port = DefaultPort
	}
	dialer := net.Dialer{Timeout: readTimeout}
	if srcAddr != "" {
		if local, err := net.ResolveTCPAddr("tcp", srcAddr+":0"); err == nil {
			dialer.LocalAddr = local
		}
	}
	conn, err := dialer.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, satiperrors.ConnectTimeout("host", host, "port", port, "err", err)
	}
	br := bufio.NewReader(conn)
	return &Client{
		conn:   conn,
		bufR:   br,
		reader: textproto.NewReader(br),
		host:   host,
		port:   port,
	}, nil
}

// BaseURL mirrors cSatipTuner::GetBaseUrl: the default port is omitted from
// the URL entirely.
func BaseURL(host string, port int) string {
	if port != 0 && port != DefaultPort {
		return fmt.Sprintf("rtsp://%s:%d/", host, port)
	}
	return fmt.Sprintf("rtsp://%s/", host)
}

func (c *Client) nextCSeq() int {
	c.cseq++
	return c.cseq
}

type response struct {
	status int
	header textproto.MIMEHeader
}

func (c *Client) do(method, uri string, extraHeaders map[string]string) (*response, error) {
	cseq := c.nextCSeq()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", cseq)
	if c.session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", c.session)
	}
	for k, v := range extraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	_ = c.conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if _, err := c.conn.Write([]byte(b.String())); err != nil {
		return nil, satiperrors.RtspProtocol("method", method, "uri", uri, "err", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	statusLine, err := c.reader.ReadLine()
	if err != nil {
		return nil, satiperrors.RtspProtocol("method", method, "uri", uri, "err", err)
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return nil, satiperrors.RtspProtocol("method", method, "uri", uri, "status_line", statusLine)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, satiperrors.RtspProtocol("method", method, "status_line", statusLine)
	}
	hdr, err := c.reader.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return nil, satiperrors.RtspProtocol("method", method, "uri", uri, "err", err)
	}
	resp := &response{status: status, header: hdr}

	if cl := hdr.Get("Content-Length"); cl != "" {
		n, _ := strconv.Atoi(cl)
		if n > 0 {
			body := make([]byte, n)
			if _, err := readFull(c.bufR, body); err != nil {
				return nil, satiperrors.RtspProtocol("method", method, "err", err)
			}
			resp.header.Set("X-Body", string(body))
		}
	}

	if status < 200 || status >= 300 {
		return resp, satiperrors.RtspProtocol("method", method, "uri", uri, "status", status)
	}
	return resp, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Options sends an OPTIONS request, used both as a liveness probe before
// SETUP and as the periodic keep-alive when the session has no play
// parameters to re-assert.
func (c *Client) Options(uri string) error {
	_, err := c.do("OPTIONS", uri, nil)
	return err
}

// Describe issues DESCRIBE and returns the SDP/XML body, used to read
// reception status from servers that don't send RTCP APP reports.
func (c *Client) Describe(uri string) (string, error) {
	resp, err := c.do("DESCRIBE", uri, map[string]string{"Accept": "application/sdp"})
	if err != nil {
		return "", satiperrors.DescribeFailed("uri", uri, "err", err)
	}
	return resp.header.Get("X-Body"), nil
}

// Setup issues SETUP with the given transport preference and parses the
// server's session id, timeout, stream id and effective transport from the
// response, per spec.md §4.4's negotiation-priority rule (RTP/TCP quirk,
// then multicast, then unicast with the client's even RTP port).
func (c *Client) Setup(uri string, rtpPort, rtcpPort int, mode TransportMode) (*SetupResult, error) {
	var transportHeader string
	switch mode {
	case TransportRTPOverTCP:
		transportHeader = "RTP/AVP/TCP;interleaved=0-1"
	case TransportMulticast:
		transportHeader = fmt.Sprintf("RTP/AVP;multicast;client_port=%d-%d", rtpPort, rtcpPort)
	default:
		transportHeader = fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", rtpPort, rtcpPort)
	}

	resp, err := c.do("SETUP", uri, map[string]string{"Transport": transportHeader})
	if err != nil {
		return nil, satiperrors.TransportNegotiationFailed("uri", uri, "err", err)
	}

	result := &SetupResult{UsesTCP: mode == TransportRTPOverTCP}

	if sess := resp.header.Get("Session"); sess != "" {
		id, timeout := parseSessionHeader(sess)
		c.setSession(id)
		result.SessionID = c.session
		result.TimeoutSec = timeout
	}

	if tr := resp.header.Get("Transport"); tr != "" {
		result.Multicast = strings.Contains(tr, "multicast")
		if dest := headerParam(tr, "destination"); dest != "" {
			result.MulticastAddr = dest
		}
	}

	// com.ses.streamID is the SAT>IP-specific header some servers use
	// instead of embedding stream=<id> in the Transport/session URL.
	if sid := resp.header.Get("Com.Ses.Streamid"); sid != "" {
		result.StreamID, _ = strconv.Atoi(sid)
	} else if tr := resp.header.Get("Transport"); tr != "" {
		if v := headerParam(tr, "stream"); v != "" {
			result.StreamID, _ = strconv.Atoi(v)
		}
	}
	return result, nil
}

// Play issues PLAY on the established session, optionally re-asserting
// tuning/PID parameters via the query string already embedded in uri.
func (c *Client) Play(uri string) error {
	_, err := c.do("PLAY", uri, nil)
	return err
}

// Teardown issues TEARDOWN. Per spec.md §4.4, a TEARDOWN failure is logged
// and ignored — the session is considered gone either way.
func (c *Client) Teardown(uri string) {
	if _, err := c.do("TEARDOWN", uri, nil); err != nil {
		log.Debug("rtsp teardown failed, ignoring", "uri", uri, "err", err)
	}
	c.session = ""
}

// setSession applies the SessionId quirk (strip leading zeroes) when
// enabled via EnableSessionIDQuirk.
func (c *Client) setSession(id string) {
	if c.stripSessionZeroes && strings.HasPrefix(id, "0") {
		id = skipZeroes(id)
	}
	c.session = id
}

// EnableSessionIDQuirk turns on leading-zero stripping for this
// connection's session ids, per the server's detected QuirkSessionId bit.
func (c *Client) EnableSessionIDQuirk() { c.stripSessionZeroes = true }

// skipZeroes mirrors original_source/tuner.c's SkipZeroes: strip leading
// '0' characters but never reduce the string to empty.
func skipZeroes(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}

// parseSessionHeader splits "Session: <id>;timeout=<n>" into its parts.
func parseSessionHeader(h string) (id string, timeoutSec int) {
	parts := strings.SplitN(h, ";", 2)
	id = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		kv := strings.TrimSpace(parts[1])
		if strings.HasPrefix(strings.ToLower(kv), "timeout=") {
			timeoutSec, _ = strconv.Atoi(kv[len("timeout="):])
		}
	}
	return id, timeoutSec
}

// headerParam extracts "key=value" from a ';'-separated header value.
func headerParam(header, key string) string {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 && strings.EqualFold(kv[0], key) {
			return kv[1]
		}
	}
	return ""
}

// KeepAliveInterval returns the interval at which the owning tuner should
// re-assert liveness, derived from the server's advertised timeout minus a
// safety pre-buffer, floored at the protocol minimum.
func KeepAliveInterval(serverTimeoutSec int) time.Duration {
	d := time.Duration(serverTimeoutSec) * time.Second
	if d < minKeepAliveInterval {
		d = minKeepAliveInterval
	}
	return d - keepAlivePreBuffer
}

// ReadInterleavedFrame reads one $-framed RTP/RTCP block per RFC 2326
// §10.12 for RTP-over-TCP mode, dispatching it to the RTP or RTCP
// callbacks registered via SetInterleavedHandlers.
func (c *Client) ReadInterleavedFrame() error {
	frame, err := transport.ReadInterleavedFrame(c.bufR)
	if err != nil {
		return satiperrors.SocketError("err", err)
	}
	switch frame.Channel {
	case 0:
		if c.onInterleavedRTP != nil {
			c.onInterleavedRTP(frame.Payload)
		}
	case 1:
		if c.onInterleavedRTCP != nil {
			c.onInterleavedRTCP(frame.Payload)
		}
	}
	return nil
}

// SetInterleavedHandlers wires the RTP/RTCP receivers' HandlePacket methods
// for RTP-over-TCP mode.
func (c *Client) SetInterleavedHandlers(onRTP, onRTCP func(payload []byte)) {
	c.onInterleavedRTP = onRTP
	c.onInterleavedRTCP = onRTCP
}

// Session returns the currently held RTSP session id, if any.
func (c *Client) Session() string { return c.session }

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
