// Package tuner implements the per-device state machine from spec.md §4.5:
// Idle/Set/Tuned/Locked/Release, internal-then-external request draining,
// RTSP session (re)establishment, PID updates and keep-alive. Ported from
// original_source/tuner.c's cSatipTuner::Action loop and its
// Connect/Disconnect/SetSource/SetPid/UpdatePids/KeepAlive methods.
package tuner

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/satipgo/satip-client/internal/logging"
	"github.com/satipgo/satip-client/internal/satiperrors"
	"github.com/satipgo/satip-client/mpegts"
	"github.com/satipgo/satip-client/param"
	"github.com/satipgo/satip-client/poller"
	"github.com/satipgo/satip-client/registry"
	"github.com/satipgo/satip-client/rtcp"
	"github.com/satipgo/satip-client/rtp"
	"github.com/satipgo/satip-client/rtsp"
	"github.com/satipgo/satip-client/sectionfilter"
	"github.com/satipgo/satip-client/transport"
)

var log = logging.Get("tuner")

// State is one of the five tuning states from spec.md §4.5.
type State int

const (
	StateIdle State = iota
	StateRelease
	StateSet
	StateTuned
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRelease:
		return "release"
	case StateSet:
		return "set"
	case StateTuned:
		return "tuned"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// requestSource distinguishes internal (state-machine-driven) from external
// (caller-driven) state requests; internal requests always win a race,
// mirroring cSatipTuner's smInternal/smExternal priority.
type requestSource int

const (
	sourceInternal requestSource = iota
	sourceExternal
)

const (
	connectTimeout   = 3 * time.Second
	tuningTimeout    = 3 * time.Second
	idleCheckTimeout = 30 * time.Second
	minKeepAlive     = 30 * time.Second
	idleReleaseTicks = 2
)

// SignalStatus is the latest reception report surfaced to the host.
type SignalStatus struct {
	HasLock     bool
	StrengthDBm float64
	Strength0100 int
	Quality0100 int
	FrontendID  int
}

// Tuner owns one RTSP session, its RTP/RTCP receivers, the TS ring buffer
// and the section filter hub for a single VDR-style device.
type Tuner struct {
	deviceID int
	pool     *poller.Poller
	registry *registry.Registry

	mu sync.Mutex

	state         State
	internalReq   *State
	externalReq   *State

	currentServer *registry.Server
	nextServer    *registry.Server
	system        registry.System
	transponder   int

	streamAddr  string
	streamParam string
	lastAddr    string
	lastParam   string

	rtspClient *rtsp.Client
	streamID   int
	session    string
	timeout    time.Duration
	hasSession bool

	rtpReceiver  *rtp.Receiver
	rtcpReceiver *rtcp.Receiver
	ring         *mpegts.RingBuffer
	stats        *mpegts.Stats
	filters      *sectionfilter.Hub

	transportMode    rtsp.TransportMode
	rtpPort, rtcpPort int

	signal SignalStatus

	pids     map[int]bool
	addPids  map[int]bool
	delPids  map[int]bool

	lastKeepAlive time.Time
	idleTicks     int
	lastActivity  time.Time
}

// New constructs an idle Tuner. Its RTP/RTCP sockets are opened on first
// connect (ensureTransport): an even RTP port, with RTCP on the next port.
func New(deviceID int, pool *poller.Poller, reg *registry.Registry, ringCapacity int) *Tuner {
	t := &Tuner{
		deviceID:     deviceID,
		pool:         pool,
		registry:     reg,
		state:        StateIdle,
		streamID:     -1,
		ring:         mpegts.NewRingBuffer(ringCapacity),
		stats:        mpegts.NewStats(),
		filters:      sectionfilter.NewHub(sectionfilter.DefaultMaxFilters),
		pids:         make(map[int]bool),
		addPids:      make(map[int]bool),
		delPids:      make(map[int]bool),
	}
	return t
}

// RequestState is the internal/external state-request queue from
// cSatipTuner: an internal request always overrides a pending external one.
func (t *Tuner) requestState(s State, src requestSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if src == sourceInternal {
		t.internalReq = &s
	} else if t.internalReq == nil {
		t.externalReq = &s
	}
}

func (t *Tuner) updateCurrentState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.internalReq != nil {
		t.state = *t.internalReq
		t.internalReq = nil
		t.externalReq = nil
	} else if t.externalReq != nil {
		t.state = *t.externalReq
		t.externalReq = nil
	}
}

// SetSource configures the next tuning target: the assigned server, the
// delivery system, the transponder channel descriptor, and the built SAT>IP
// query string. Mirrors cSatipTuner::SetSource.
func (t *Tuner) SetSource(server *registry.Server, sys registry.System, transponder int, ch param.ChannelDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextServer = server
	t.system = sys
	t.transponder = transponder
	t.streamAddr = server.Address
	t.streamParam = param.BuildTransponderURL(ch)

	if server.Quirk(registry.QuirkForcePilot) && ch.System == param.DvbS2 && ch.Pilot == param.Unspecified {
		t.streamParam += "&plts=on"
	}

	connectionURI := rtsp.BaseURL(t.streamAddr, server.Port)
	if t.lastAddr != "" && connectionURI != t.lastAddr {
		t.internalReqLocked(StateRelease)
	}
	t.externalReqLocked(StateSet)
}

func (t *Tuner) internalReqLocked(s State) { t.internalReq = &s }
func (t *Tuner) externalReqLocked(s State) {
	if t.internalReq == nil {
		t.externalReq = &s
	}
}

// Run drives the state machine until stop is closed. Intended to run in its
// own goroutine, one per device, mirroring cSatipTuner::Action's thread.
func (t *Tuner) Run(stop <-chan struct{}) {
	reconnectDeadline := time.Now().Add(connectTimeout)
	tuningDeadline := time.Now().Add(tuningTimeout)
	idleDeadline := time.Now().Add(idleCheckTimeout)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			t.Disconnect()
			return
		case <-ticker.C:
		}

		t.updateCurrentState()
		switch t.State() {
		case StateIdle:
			// nothing to do

		case StateRelease:
			t.Disconnect()
			t.requestState(StateIdle, sourceInternal)

		case StateSet:
			if t.currentServerQuirk(registry.QuirkTearAndPlay) {
				t.Disconnect()
			}
			if t.Connect() {
				tuningDeadline = time.Now().Add(tuningTimeout)
				t.requestState(StateTuned, sourceInternal)
				_ = t.UpdatePids(true)
			} else {
				t.Disconnect()
			}

		case StateTuned:
			reconnectDeadline = time.Now().Add(connectTimeout)
			idleDeadline = time.Now().Add(idleCheckTimeout)
			t.idleTicks = 0
			hasLock, err := t.ReadReceptionStatus()
			if err == nil && (hasLock || t.currentServerQuirk(registry.QuirkForceLock)) {
				if t.currentServerQuirk(registry.QuirkForceLock) {
					t.mu.Lock()
					t.signal.HasLock = true
					t.mu.Unlock()
				}
				if t.signalHasLock() {
					t.requestState(StateLocked, sourceInternal)
				}
			} else if time.Now().After(tuningDeadline) {
				log.Error("tuning timeout, retuning", "device", t.deviceID)
				t.requestState(StateSet, sourceInternal)
			}

		case StateLocked:
			if err := t.UpdatePids(false); err != nil {
				log.Error("pid update failed, retuning", "device", t.deviceID, "err", err)
				t.requestState(StateSet, sourceInternal)
				continue
			}
			if err := t.KeepAlive(); err != nil {
				log.Error("keep-alive failed, retuning", "device", t.deviceID, "err", err)
				t.requestState(StateSet, sourceInternal)
				continue
			}
			if time.Now().After(reconnectDeadline) {
				log.Error("connection timeout, retuning", "device", t.deviceID)
				t.requestState(StateSet, sourceInternal)
				continue
			}
			if time.Now().After(idleDeadline) {
				if t.isIdle() {
					t.idleTicks++
				} else {
					t.idleTicks = 0
				}
				if t.idleTicks >= idleReleaseTicks {
					log.Info("idle timeout, releasing", "device", t.deviceID)
					t.requestState(StateRelease, sourceInternal)
				}
				idleDeadline = time.Now().Add(idleCheckTimeout)
			}
		}
	}
}

func (t *Tuner) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tuner) currentServerQuirk(bit registry.Quirk) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentServer != nil && t.currentServer.Quirk(bit)
}

func (t *Tuner) signalHasLock() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signal.HasLock
}

// isIdle reports whether the ring buffer has been empty for this idle
// check window; a crude stand-in for the host device's "is anyone reading
// this stream" query, which this package doesn't own.
func (t *Tuner) isIdle() bool {
	return t.ring.Len() == 0
}

// Connect establishes (or re-asserts) the RTSP session: OPTIONS, SETUP,
// PLAY on a fresh session, or a bare PLAY to retune an already-tuned one.
// Mirrors cSatipTuner::Connect.
func (t *Tuner) Connect() bool {
	t.mu.Lock()
	streamAddr := t.streamAddr
	nextServer := t.nextServer
	streamParam := t.streamParam
	streamID := t.streamID
	lastParam := t.lastParam
	hasLock := t.signal.HasLock
	t.mu.Unlock()

	if streamAddr == "" {
		return false
	}
	port := rtsp.DefaultPort
	if nextServer != nil && nextServer.Port != 0 {
		port = nextServer.Port
	}
	connectionURI := rtsp.BaseURL(streamAddr, port)

	if streamID >= 0 {
		if streamParam == lastParam && hasLock {
			log.Debug("identical parameters, skipping retune", "device", t.deviceID)
			return true
		}
		uri := fmt.Sprintf("%sstream=%d?%s", connectionURI, streamID, streamParam)
		if err := t.rtspClient.Play(uri); err != nil {
			log.Error("retune play failed", "device", t.deviceID, "err", err)
			return false
		}
		t.mu.Lock()
		t.lastParam = streamParam
		t.mu.Unlock()
		return true
	}

	srcAddr := ""
	if nextServer != nil {
		srcAddr = nextServer.SourceAddress
	}
	client, err := rtsp.NewClient(streamAddr, port, srcAddr)
	if err != nil {
		log.Error("rtsp dial failed", "device", t.deviceID, "err", err)
		return false
	}
	if nextServer != nil && nextServer.Quirk(registry.QuirkSessionId) {
		client.EnableSessionIDQuirk()
	}
	if err := client.Options(connectionURI); err != nil {
		log.Error("rtsp options failed", "device", t.deviceID, "err", err)
		_ = client.Close()
		return false
	}

	uri := fmt.Sprintf("%s?%s", connectionURI, streamParam)
	useTCP := nextServer != nil && nextServer.Quirk(registry.QuirkRtpOverTcp)
	mode := rtsp.TransportUnicast
	if useTCP {
		mode = rtsp.TransportRTPOverTCP
		log.Debug("requesting RTP over TCP", "device", t.deviceID)
	}

	if err := t.ensureTransport(mode); err != nil {
		log.Error("transport open failed", "device", t.deviceID, "err", err)
		_ = client.Close()
		return false
	}

	result, err := client.Setup(uri, t.rtpPort, t.rtcpPort, mode)
	if err != nil {
		log.Error("rtsp setup failed", "device", t.deviceID, "err", err)
		_ = client.Close()
		return false
	}

	t.mu.Lock()
	t.rtspClient = client
	t.streamID = result.StreamID
	t.session = result.SessionID
	t.timeout = rtsp.KeepAliveInterval(result.TimeoutSec)
	t.lastAddr = connectionURI
	t.currentServer = nextServer
	t.nextServer = nil
	t.mu.Unlock()

	if mode == rtsp.TransportRTPOverTCP {
		client.SetInterleavedHandlers(t.rtpReceiver.HandlePacket, t.rtcpReceiver.HandlePacket)
	}
	if err := client.Play(uri); err != nil {
		log.Error("rtsp play failed", "device", t.deviceID, "err", err)
		return false
	}
	if nextServer != nil {
		t.registry.Attach(nextServer, t.system, t.deviceID, t.transponder)
	}
	return true
}

// ensureTransport opens the RTP/RTCP sockets for the negotiated mode,
// skipping re-opening if nothing changed (mirrors SetupTransport's "adapt
// only on media change" rule).
func (t *Tuner) ensureTransport(mode rtsp.TransportMode) error {
	if mode == rtsp.TransportRTPOverTCP {
		t.pool.Unregister(t.rtpReceiver)
		t.pool.Unregister(t.rtcpReceiver)
		t.rtpReceiver = rtp.NewInterleavedReceiver(func(payload []byte) { t.onTSPayload(payload) })
		t.rtcpReceiver = rtcp.NewInterleavedReceiver(t.onReceptionReport)
		return nil
	}
	if t.rtpReceiver != nil && t.rtpReceiver.Port() > 0 {
		return nil
	}
	// RTP must bind an even port with RTCP on the next odd one
	// (original_source/tuner.c's constructor). Let the kernel pick, then
	// retry until it lands on an even port.
	const maxAttempts = 8
	var rtpConn *net.UDPConn
	for i := 0; i < maxAttempts; i++ {
		conn, err := transport.ListenUnicastUDP("", 0, 16<<20)
		if err != nil {
			return satiperrors.SocketError("err", err)
		}
		if conn.LocalAddr().(*net.UDPAddr).Port%2 == 0 {
			rtpConn = conn
			break
		}
		_ = conn.Close()
	}
	if rtpConn == nil {
		return satiperrors.SocketError("err", "could not bind an even RTP port")
	}
	t.rtpReceiver = rtp.NewReceiver(rtpConn, func(payload []byte) { t.onTSPayload(payload) })
	t.rtpPort = t.rtpReceiver.Port()
	rc, err := transport.ListenUnicastUDP("", t.rtpPort+1, 0)
	if err != nil {
		return satiperrors.SocketError("err", err)
	}
	t.rtcpReceiver = rtcp.NewReceiver(rc, t.onReceptionReport)
	t.rtcpPort = t.rtpPort + 1
	t.pool.Register(t.rtpReceiver)
	t.pool.Register(t.rtcpReceiver)
	return nil
}

func (t *Tuner) onTSPayload(payload []byte) {
	t.ring.Write(payload)
	t.stats.Observe(payload)
	t.filters.Feed(payload)
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// onReceptionReport updates signal status from an RTCP APP report. It
// records lock, strength, quality and frontend id only; the report's src=
// value and its remaining tuner fields are not used.
func (t *Tuner) onReceptionReport(rep rtcp.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signal = SignalStatus{
		HasLock:      rep.Lock,
		StrengthDBm:  rep.SignalDBm,
		Strength0100: rep.Signal0100,
		Quality0100:  rep.Quality0100,
		FrontendID:   rep.FrontendID,
	}
}

// ReadReceptionStatus returns the current lock state. While no lock has been
// reported it issues a DESCRIBE on the session and fails if that is
// rejected; the DESCRIBE body is not parsed, so lock is only learned from
// RTCP APP reports (or set by the ForceLock quirk).
func (t *Tuner) ReadReceptionStatus() (bool, error) {
	if t.signalHasLock() {
		return true, nil
	}
	t.mu.Lock()
	client := t.rtspClient
	lastAddr := t.lastAddr
	streamID := t.streamID
	t.mu.Unlock()
	if client == nil || streamID < 0 {
		return false, nil
	}
	uri := fmt.Sprintf("%sstream=%d", lastAddr, streamID)
	if _, err := client.Describe(uri); err != nil {
		return false, satiperrors.DescribeFailed("uri", uri, "err", err)
	}
	return t.signalHasLock(), nil
}

// UpdatePids pushes pending PID add/delete lists to the server via PLAY's
// query string, debounced so unchanged PID sets never re-issue PLAY.
// force=true is used right after SETUP to assert the full PID list.
func (t *Tuner) UpdatePids(force bool) error {
	t.mu.Lock()
	hasChanges := force || len(t.addPids) > 0 || len(t.delPids) > 0
	if !hasChanges {
		t.mu.Unlock()
		return nil
	}
	client := t.rtspClient
	lastAddr := t.lastAddr
	streamID := t.streamID
	addPids := mapKeys(t.addPids)
	delPids := mapKeys(t.delPids)
	allPids := mergedPidSet(t.pids, t.addPids, t.delPids)
	playPidsQuirk := t.currentServer != nil && t.currentServer.Quirk(registry.QuirkPlayPids)
	t.mu.Unlock()

	if client == nil || streamID < 0 {
		return nil
	}
	query := buildPidQuery(addPids, delPids, allPids, playPidsQuirk)
	if force && len(allPids) > 0 {
		query = "pids=" + joinInts(allPids)
	}
	if query == "" {
		return nil
	}
	uri := fmt.Sprintf("%sstream=%d?%s", lastAddr, streamID, query)
	if err := client.Play(uri); err != nil {
		return satiperrors.TransportNegotiationFailed("uri", uri, "err", err)
	}

	t.mu.Lock()
	for _, p := range addPids {
		t.pids[p] = true
	}
	for _, p := range delPids {
		delete(t.pids, p)
	}
	t.addPids = make(map[int]bool)
	t.delPids = make(map[int]bool)
	t.mu.Unlock()
	return nil
}

// buildPidQuery builds PLAY's PID query string. Servers with the PlayPids
// quirk reject incremental addpids/delpids and require the full active PID
// set on every PLAY (spec.md's PlayPids quirk scenarios); all other servers
// take the incremental addpids/delpids form.
func buildPidQuery(add, del, all []int, usePlayPrefix bool) string {
	if len(add) == 0 && len(del) == 0 {
		return ""
	}
	if usePlayPrefix {
		return "pids=" + joinInts(all)
	}
	var q string
	if len(add) > 0 {
		q += "addpids=" + joinInts(add)
	}
	if len(del) > 0 {
		if q != "" {
			q += "&"
		}
		q += "delpids=" + joinInts(del)
	}
	return q
}

func joinInts(ns []int) string {
	s := ""
	for i, n := range ns {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d", n)
	}
	return s
}

func mapKeys(m map[int]bool) []int {
	ks := make([]int, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	return ks
}

// mergedPidSet computes the full active PID set a PlayPids-quirk PLAY must
// assert: the currently active pids, plus pending adds, minus pending
// deletes, sorted ascending.
func mergedPidSet(active, add, del map[int]bool) []int {
	merged := make(map[int]bool, len(active)+len(add))
	for p := range active {
		merged[p] = true
	}
	for p := range add {
		merged[p] = true
	}
	for p := range del {
		delete(merged, p)
	}
	out := mapKeys(merged)
	sort.Ints(out)
	return out
}

// SetPid enables or disables one PID, mirroring cSatipTuner::SetPid. A
// disable request is dropped while an open section filter still watches the
// PID (the hub's PidUsers count), so the filter keeps receiving it.
func (t *Tuner) SetPid(pid int, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on {
		t.addPids[pid] = true
		delete(t.delPids, pid)
	} else if t.filters.PidUsers(pid) == 0 {
		t.delPids[pid] = true
		delete(t.addPids, pid)
	}
}

// KeepAlive re-asserts liveness with an OPTIONS once the keep-alive
// interval has elapsed since the previous one; a PLAY does not reset it.
func (t *Tuner) KeepAlive() error {
	t.mu.Lock()
	due := time.Since(t.lastKeepAlive) >= t.timeout
	client := t.rtspClient
	lastAddr := t.lastAddr
	t.mu.Unlock()
	if !due || client == nil {
		return nil
	}
	if err := client.Options(lastAddr); err != nil {
		return satiperrors.KeepAliveFailed("err", err)
	}
	t.mu.Lock()
	t.lastKeepAlive = time.Now()
	t.mu.Unlock()
	return nil
}

// Disconnect tears down the RTSP session and resets signal state, mirroring
// cSatipTuner::Disconnect. A TEARDOWN failure is logged and ignored.
func (t *Tuner) Disconnect() {
	t.mu.Lock()
	client := t.rtspClient
	lastAddr := t.lastAddr
	streamID := t.streamID
	currentServer := t.currentServer
	sys := t.system
	deviceID := t.deviceID
	transponder := t.transponder
	t.mu.Unlock()

	if client != nil && streamID >= 0 {
		uri := fmt.Sprintf("%sstream=%d", lastAddr, streamID)
		client.Teardown(uri)
		_ = client.Close()
	}

	if currentServer != nil {
		t.registry.Detach(currentServer, sys, deviceID, transponder)
	}

	t.mu.Lock()
	t.rtspClient = nil
	t.streamID = -1
	t.signal = SignalStatus{}
	t.currentServer = nil
	t.timeout = minKeepAlive
	t.pids = make(map[int]bool)
	t.addPids = make(map[int]bool)
	t.delPids = make(map[int]bool)
	t.mu.Unlock()
}

// Signal returns a snapshot of the current reception status.
func (t *Tuner) Signal() SignalStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signal
}

// GetData/SkipData expose the TS ring buffer to the host device's demux
// reader, per spec.md §3.
func (t *Tuner) GetData(checkMin int) []byte { return t.ring.GetData(checkMin) }
func (t *Tuner) SkipData(n int)              { t.ring.SkipData(n) }

// Filters exposes the section filter hub for the host's section-filter API.
func (t *Tuner) Filters() *sectionfilter.Hub { return t.filters }

// Stats returns a snapshot of TS reception counters.
func (t *Tuner) Stats() mpegts.Stats { return t.stats.Snapshot() }
