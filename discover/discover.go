// Package discover implements SSDP-based SAT>IP server discovery from
// spec.md §4.8: an M-SEARCH probe over multicast, a device-description
// fetcher, and periodic rescanning that feeds the server registry. Ported
// from original_source/discover.c's cSatipDiscover (the probe/fetch/parse
// loop and the default port override via X-SATIP-RTSP-Port). The original
// uses libcurl and tinyxml/pugixml; this client has no HTTP client in its
// dependency stack, so device descriptions are fetched with a minimal GET
// written directly over net.Dial (see DESIGN.md), while XML parsing uses
// github.com/beevik/etree, as the original's pugixml-style DOM lookup does.
package discover

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/net/ipv4"

	"github.com/satipgo/satip-client/internal/logging"
	"github.com/satipgo/satip-client/internal/satiperrors"
	"github.com/satipgo/satip-client/registry"
)

var log = logging.Get("discover")

const (
	ssdpAddr        = "239.255.255.250:1900"
	ssdpSearchTarget = "urn:ses-com:device:SatIPServer:1"
	DefaultProbeInterval = 60 * time.Second
	fetchTimeout    = 3 * time.Second
)

// DeviceDescFetcher fetches and parses a UPnP device-description document.
// Abstracted per spec.md §9 so tests can substitute a fake HTTP layer
// without a real network round trip. rtspPort is the server's
// X-SATIP-RTSP-Port override, or 0 if the response carried none.
type DeviceDescFetcher interface {
	Fetch(location string) (friendlyName, model string, rtspPort int, err error)
}

// httpFetcher performs a minimal HTTP/1.1 GET over a raw TCP connection —
// this client carries no general HTTP client dependency, only the gin
// server-side stack, so a direct dial is grounded practice here (see
// DESIGN.md) rather than a hand-rolled parser of anything RTSP/SSDP
// already needs.
type httpFetcher struct{}

func (httpFetcher) Fetch(location string) (string, string, int, error) {
	host, path, err := splitLocation(location)
	if err != nil {
		return "", "", 0, err
	}
	conn, err := net.DialTimeout("tcp", host, fetchTimeout)
	if err != nil {
		return "", "", 0, satiperrors.ConnectTimeout("location", location, "err", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(fetchTimeout))
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: satip-client\r\nConnection: close\r\n\r\n", path, host)
	if _, err := conn.Write([]byte(req)); err != nil {
		return "", "", 0, err
	}

	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return "", "", 0, err
	}
	if !strings.Contains(statusLine, "200") {
		return "", "", 0, satiperrors.DiscoveryXmlMalformed("location", location, "status", strings.TrimSpace(statusLine))
	}
	// Headers, looking for the server's RTSP port override (ParseRtspPort
	// in original_source/discover.c).
	rtspPort := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			if strings.EqualFold(key, "X-SATIP-RTSP-Port") {
				if p, err := strconv.Atoi(strings.TrimSpace(line[idx+1:])); err == nil {
					rtspPort = p
				}
			}
		}
	}
	body, _ := io.ReadAll(r)
	friendlyName, model, err := parseDeviceDescription(body)
	return friendlyName, model, rtspPort, err
}

func splitLocation(location string) (hostport, path string, err error) {
	location = strings.TrimPrefix(location, "http://")
	idx := strings.IndexByte(location, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed LOCATION %q", location)
	}
	hostport, path = location[:idx], location[idx:]
	if !strings.Contains(hostport, ":") {
		hostport += ":80"
	}
	return hostport, path, nil
}

// parseDeviceDescription walks root/device/friendlyName and
// root/device/satip:X_SATIPCAP, defaulting exactly as
// cSatipDiscover::ParseDeviceInfo does when an element is missing or
// empty.
func parseDeviceDescription(body []byte) (friendlyName, model string, err error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return "", "", satiperrors.DiscoveryXmlMalformed("err", err)
	}
	friendlyName = "MyBrokenHardware"
	model = "DVBS2-1"
	if el := doc.FindElement("./root/device/friendlyName"); el != nil && el.Text() != "" {
		friendlyName = el.Text()
	}
	if el := doc.FindElement("./root/device/X_SATIPCAP"); el != nil && el.Text() != "" {
		model = el.Text()
	} else if el := doc.FindElement("./root/device/satip:X_SATIPCAP"); el != nil && el.Text() != "" {
		model = el.Text()
	}
	return friendlyName, model, nil
}

// Discoverer runs the SSDP probe/rescan loop feeding a registry.Registry.
type Discoverer struct {
	reg            *registry.Registry
	fetcher        DeviceDescFetcher
	probeInterval  time.Duration
	singleModel    bool
	bindAddr       string
}

// New constructs a Discoverer. bindAddr selects the local interface for the
// multicast socket; empty means the default route's interface.
func New(reg *registry.Registry, bindAddr string, singleModelServers bool) *Discoverer {
	return &Discoverer{
		reg:           reg,
		fetcher:       httpFetcher{},
		probeInterval: DefaultProbeInterval,
		singleModel:   singleModelServers,
		bindAddr:      bindAddr,
	}
}

// SetFetcher overrides the device-description fetcher, for tests.
func (d *Discoverer) SetFetcher(f DeviceDescFetcher) { d.fetcher = f }

// Run loops probing on probeInterval until stop is closed.
func (d *Discoverer) Run(stop <-chan struct{}) {
	if err := d.Probe(); err != nil {
		log.Error("initial ssdp probe failed", "err", err)
	}
	ticker := time.NewTicker(d.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := d.Probe(); err != nil {
				log.Error("ssdp probe failed", "err", err)
			}
			d.reg.Cleanup(3 * d.probeInterval)
		}
	}
}

// Probe sends one M-SEARCH datagram and processes replies arriving within
// a short collection window.
func (d *Discoverer) Probe() error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return satiperrors.SocketError("err", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if d.bindAddr != "" {
		if iface, err := interfaceForAddr(d.bindAddr); err == nil {
			_ = pc.SetMulticastInterface(iface)
		}
	}
	_ = pc.SetMulticastTTL(2)

	dst, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return err
	}
	msg := buildMSearch()
	if _, err := conn.WriteTo([]byte(msg), dst); err != nil {
		return satiperrors.SocketError("err", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		d.handleReply(string(buf[:n]))
	}
	return nil
}

func buildMSearch() string {
	return "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + ssdpSearchTarget + "\r\n\r\n"
}

func (d *Discoverer) handleReply(msg string) {
	location := ""
	for _, line := range strings.Split(msg, "\r\n") {
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			if strings.EqualFold(key, "LOCATION") {
				location = strings.TrimSpace(line[idx+1:])
			}
		}
	}
	if location == "" {
		return
	}
	friendlyName, model, rtspPort, err := d.fetcher.Fetch(location)
	if err != nil {
		log.Error("device description fetch failed", "location", location, "err", err)
		return
	}
	addr, port := addressFromLocation(location)
	if rtspPort > 0 {
		port = rtspPort
	}
	d.addServer(addr, port, model, friendlyName)
}

func addressFromLocation(location string) (string, int) {
	hostport, _, err := splitLocation(location)
	if err != nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, registry.DefaultRTSPPort
	}
	port, _ := strconv.Atoi(portStr)
	if port == 80 || port == 0 {
		port = registry.DefaultRTSPPort
	}
	return host, port
}

// addServer replicates cSatipDiscover::AddServer's single-model-server
// splitting: when enabled, a multi-system box ("DVBS2-2,DVBT-1") is split
// into one registry entry per system token, each numbered in its
// description.
func (d *Discoverer) addServer(addr string, port int, model, description string) {
	if !d.singleModel || model == "" {
		d.reg.AddServer("", addr, port, model, "", description, registry.Quirk(0))
		return
	}
	n := 0
	for _, tok := range strings.Split(model, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		desc := fmt.Sprintf("%s #%d", description, n)
		n++
		d.reg.AddServer("", addr, port, tok, "", desc, registry.Quirk(0))
	}
}

func interfaceForAddr(bindAddr string) (*net.Interface, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if ok && ipNet.IP.String() == bindAddr {
			for _, iface := range ifaces {
				ifAddrs, _ := iface.Addrs()
				for _, ia := range ifAddrs {
					if ia.String() == a.String() {
						return &iface, nil
					}
				}
			}
		}
	}
	return nil, fmt.Errorf("no interface has address %s", bindAddr)
}
