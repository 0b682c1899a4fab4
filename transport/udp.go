// Package transport provides the socket primitives spec.md §2 assigns an
// 8% share of the core: UDP unicast/multicast sockets and a TCP framing
// helper for interleaved RTSP/RTP. Grounded on the teacher's
// broadcastproto/transport package, generalized from a single-URL "Open"
// abstraction to the explicit unicast/multicast/SSM modes SAT>IP transport
// negotiation requires (spec.md §4.2, §4.4).
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/satipgo/satip-client/internal/logging"
)

var log = logging.Get("transport")

const MaxUDPPacketSize = 1<<16 - 1

// ListenUnicastUDP opens a UDP socket bound to port on the given local
// interface address (empty = all interfaces), sized with rcvBufBytes if
// positive.
func ListenUnicastUDP(bindAddr string, port int, rcvBufBytes int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindAddr), Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s:%d: %w", bindAddr, port, err)
	}
	if rcvBufBytes > 0 {
		_ = conn.SetReadBuffer(rcvBufBytes)
	}
	log.Debug("opened unicast UDP socket", "bindAddr", bindAddr, "port", port)
	return conn, nil
}

// ListenMulticastUDP joins group:port on the interface owning bindAddr (or
// the first suitable interface if bindAddr is empty). If source is
// non-empty, it issues IP_ADD_SOURCE_MEMBERSHIP (SSM) via
// JoinSourceSpecificGroup; otherwise a plain IP_ADD_MEMBERSHIP join, per
// spec.md §4.2's multicast mode description.
func ListenMulticastUDP(bindAddr, group string, port int, source string, rcvBufBytes int) (*net.UDPConn, error) {
	iface, err := interfaceFor(bindAddr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: setReuseAddrAndPort}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen udp %s:%d: %w", group, port, err)
	}
	conn := pc.(*net.UDPConn)

	pconn := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: net.ParseIP(group)}
	if source != "" {
		srcAddr := &net.UDPAddr{IP: net.ParseIP(source)}
		if err := pconn.JoinSourceSpecificGroup(iface, groupAddr, srcAddr); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join source-specific group %s from %s: %w", group, source, err)
		}
		log.Debug("joined SSM multicast group", "group", group, "source", source, "port", port)
	} else {
		if err := pconn.JoinGroup(iface, groupAddr); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join multicast group %s: %w", group, err)
		}
		log.Debug("joined multicast group", "group", group, "port", port)
	}
	if rcvBufBytes > 0 {
		_ = conn.SetReadBuffer(rcvBufBytes)
	}
	return conn, nil
}

// setReuseAddrAndPort lets several server instances on the same host join
// the same multicast group/port, which net.ListenUDP's plain bind forbids.
// Linux's SO_REUSEPORT additionally load-balances unicast traffic to that
// port across listeners; harmless here since multicast delivery fans out
// to every joined socket regardless.
func setReuseAddrAndPort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func interfaceFor(bindAddr string) (*net.Interface, error) {
	if bindAddr == "" {
		return nil, nil
	}
	ip := net.ParseIP(bindAddr)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address %q", bindAddr)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return &iface, nil
			}
		}
	}
	return nil, fmt.Errorf("no local interface has address %s", bindAddr)
}
