// Package registry implements the server registry and quirk model from
// spec.md section 4.7: the set of known SAT>IP servers, their per-delivery
// -system frontend pools, quirk bitsets, and the frontend-assignment
// algorithm. Grounded on original_source/server.c (cSatipServer,
// cSatipFrontend, cSatipFrontends, cSatipServers).
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/satipgo/satip-client/internal/logging"
)

var log = logging.Get("registry")

// DefaultRTSPPort is the default SAT>IP/RTSP port, used when a discovered
// server's LOCATION URL carries no explicit port or port 80 (the HTTP
// default).
const DefaultRTSPPort = 554

// Quirk is the per-server non-standard-behaviour bitset from spec.md §4.7.
type Quirk uint32

const (
	QuirkSessionId Quirk = 1 << iota
	QuirkPlayPids
	QuirkForceLock
	QuirkRtpOverTcp
	QuirkCiXpmt
	QuirkCiTnr
	QuirkForcePilot
	QuirkTearAndPlay
)

func (q Quirk) Has(bit Quirk) bool { return q&bit != 0 }

func (q Quirk) String() string {
	var names []string
	for bit, name := range map[Quirk]string{
		QuirkSessionId:   "SessionId",
		QuirkPlayPids:    "PlayPids",
		QuirkForceLock:   "ForceLock",
		QuirkRtpOverTcp:  "RtpOverTcp",
		QuirkCiXpmt:      "CiXpmt",
		QuirkCiTnr:       "CiTnr",
		QuirkForcePilot:  "ForcePilot",
		QuirkTearAndPlay: "TearAndPlay",
	} {
		if q.Has(bit) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// quirkSignature pairs a description substring with the quirk bits it
// implies. Ported verbatim from cSatipServer's constructor.
type quirkSignature struct {
	substring string
	quirks    Quirk
}

var quirkSignatures = []quirkSignature{
	{"GSSBOX", QuirkSessionId | QuirkForcePilot},
	{"DIGIBIT", QuirkSessionId | QuirkForcePilot},
	{"Multibox-", QuirkSessionId | QuirkForcePilot},
	{"Triax SatIP Converter", QuirkSessionId | QuirkForcePilot},
	{"minisatip", QuirkRtpOverTcp | QuirkCiXpmt},
	{"DVBViewer", QuirkRtpOverTcp | QuirkCiTnr},
	{"FRITZ!WLAN Repeater DVB-C", QuirkPlayPids | QuirkForceLock | QuirkTearAndPlay},
	{"fritzdvbc", QuirkPlayPids | QuirkForceLock | QuirkTearAndPlay},
	{"Schwaiger Sat>IP Server", QuirkForceLock},
	{"OctopusNet", QuirkCiXpmt},
	{"KATHREIN SatIP Server", QuirkForcePilot},
}

// DetectQuirks implements the substring-based auto-detection from
// spec.md §4.7 / server.c's constructor. Returns 0 if disabled.
func DetectQuirks(description string, disabled bool) Quirk {
	if disabled {
		return 0
	}
	var q Quirk
	for _, sig := range quirkSignatures {
		if strings.Contains(description, sig.substring) {
			q |= sig.quirks
		}
	}
	return q
}

// HasExternalCI reports whether the description implies CI support, inferred
// from the same signature table (CiXpmt or CiTnr bits).
func HasExternalCI(description string) bool {
	q := DetectQuirks(description, false)
	return q.Has(QuirkCiXpmt) || q.Has(QuirkCiTnr)
}

// System is a DVB/ATSC delivery-system pool key.
type System string

const (
	SystemS2   System = "S2"
	SystemT    System = "T"
	SystemT2   System = "T2"
	SystemC    System = "C"
	SystemC2   System = "C2"
	SystemATSC System = "ATSC"
)

// Frontend is one independently tunable RF receiver in a Server's pool.
type Frontend struct {
	Index       int
	Description string
	deviceId    int // -1 means unattached
	transponder int
}

func newFrontend(index int, description string) *Frontend {
	return &Frontend{Index: index, Description: description, deviceId: -1}
}

func (f *Frontend) Attached() bool      { return f.deviceId >= 0 }
func (f *Frontend) DeviceId() int       { return f.deviceId }
func (f *Frontend) Transponder() int    { return f.transponder }
func (f *Frontend) SetTransponder(t int) { f.transponder = t }

// FrontendPool is an ordered set of Frontends for one delivery system. No
// two frontends in a pool share an index (enforced by construction).
type FrontendPool struct {
	frontends []*Frontend
}

func newFrontendPool(count int) *FrontendPool {
	p := &FrontendPool{frontends: make([]*Frontend, 0, count)}
	for i := 0; i < count; i++ {
		p.frontends = append(p.frontends, newFrontend(i, ""))
	}
	return p
}

func (p *FrontendPool) Len() int { return len(p.frontends) }

// Matches reports whether some attached frontend already serves
// (deviceId, transponder) — the registry's "reuse" fast path.
func (p *FrontendPool) Matches(deviceId, transponder int) bool {
	for _, f := range p.frontends {
		if f.Attached() && f.DeviceId() == deviceId && f.Transponder() == transponder {
			return true
		}
	}
	return false
}

// Assign implements cSatipFrontends::Assign: prefer an unused frontend, else
// an existing attachment for the same deviceId; otherwise fail. The found
// frontend is reserved for deviceId (it counts as attached from here on)
// and its transponder is updated.
func (p *FrontendPool) Assign(deviceId, transponder int) (*Frontend, bool) {
	for _, f := range p.frontends {
		if !f.Attached() || f.DeviceId() == deviceId {
			f.deviceId = deviceId
			f.SetTransponder(transponder)
			return f, true
		}
	}
	return nil, false
}

func (p *FrontendPool) Attach(deviceId, transponder int) bool {
	for _, f := range p.frontends {
		if f.Transponder() == transponder {
			f.deviceId = deviceId
			return true
		}
	}
	return false
}

func (p *FrontendPool) Detach(deviceId, transponder int) bool {
	for _, f := range p.frontends {
		if f.Transponder() == transponder {
			f.deviceId = -1
			return true
		}
	}
	return false
}

func (p *FrontendPool) HasFree() bool {
	for _, f := range p.frontends {
		if !f.Attached() {
			return true
		}
	}
	return false
}

// Server is one discovered or statically configured SAT>IP tuner box.
type Server struct {
	mu sync.Mutex

	SourceAddress string
	Address       string
	Port          int
	Model         string
	Description   string

	quirks        Quirk
	sourceFilters []int // VDR-style source codes this server is restricted to; empty = unrestricted

	pools map[System]*FrontendPool

	active     bool
	createdAt  time.Time
	lastSeenAt time.Time
	static     bool // introduced by static configuration; never expires
}

// modelCounts parses a comma-separated model string like "DVBS2-2,DVBT-1"
// into delivery-system -> frontend-count, the way cSatipServer's constructor
// does. Unparseable tokens are ignored.
func modelCounts(model string) map[System]int {
	counts := map[System]int{}
	for _, tok := range strings.Split(model, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		dash := strings.LastIndex(tok, "-")
		if dash < 0 {
			continue
		}
		sysTok, countTok := tok[:dash], tok[dash+1:]
		var n int
		if _, err := fmt.Sscanf(countTok, "%d", &n); err != nil || n <= 0 {
			continue
		}
		sys, ok := parseModelSystem(sysTok)
		if !ok {
			continue
		}
		counts[sys] += n
	}
	return counts
}

func parseModelSystem(tok string) (System, bool) {
	switch strings.ToUpper(tok) {
	case "DVBS2":
		return SystemS2, true
	case "DVBS":
		// DVB-S-only boxes still serve from the S2 pool (S2 demodulators
		// are backward compatible with DVB-S); same as the original.
		return SystemS2, true
	case "DVBT2":
		return SystemT2, true
	case "DVBT":
		return SystemT, true
	case "DVBC2":
		return SystemC2, true
	case "DVBC":
		return SystemC, true
	case "ATSC":
		return SystemATSC, true
	}
	return "", false
}

// NewServer constructs a Server the way cSatipServer's constructor does:
// empty description defaults to "MyBrokenHardware", empty model to
// "DVBS-1", quirks auto-detected from the description unless disabled.
func NewServer(srcAddress, address string, port int, model, filters, description string, quirkOverride Quirk, disableQuirks bool) *Server {
	if description == "" {
		description = "MyBrokenHardware"
	}
	if model == "" {
		model = "DVBS-1"
	}
	s := &Server{
		SourceAddress: srcAddress,
		Address:       address,
		Port:          port,
		Model:         model,
		Description:   description,
		quirks:        quirkOverride | DetectQuirks(description, disableQuirks),
		pools:         make(map[System]*FrontendPool),
		active:        true,
		createdAt:     time.Now(),
	}
	for sys, n := range modelCounts(model) {
		s.pools[sys] = newFrontendPool(n)
	}
	if filters != "" {
		s.sourceFilters = ParseSourceFilters(filters)
	}
	log.Debug("new server", "address", address, "port", port, "model", model, "description", description, "quirks", s.quirks.String())
	return s
}

func (s *Server) Quirk(bit Quirk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quirks.Has(bit)
}

func (s *Server) Quirks() Quirk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quirks
}

func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Server) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *Server) LastSeenAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenAt
}

func (s *Server) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeenAt = time.Now()
}

func (s *Server) IsStatic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.static
}

func (s *Server) markStatic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static = true
}

// NumProvidedSystems reports the frontend count of one delivery-system pool,
// for host capability reporting (INFO/LIST command-channel verbs).
func (s *Server) NumProvidedSystems(sys System) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[sys]
	if !ok {
		return 0
	}
	return p.Len()
}

// IsValidSource reports whether this server is permitted to serve the given
// VDR-style source code, per its (possibly empty) source-filter list.
func (s *Server) IsValidSource(source int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sourceFilters) == 0 {
		return true
	}
	for _, f := range s.sourceFilters {
		if f == source {
			return true
		}
	}
	return false
}

// ParseSourceFilters parses the comma-separated VDR source-string filter
// list into source codes. Unknown tokens are skipped (filtersM round-trip
// in cSatipServer's constructor drops what it can't parse).
func ParseSourceFilters(filters string) []int {
	var out []int
	for _, tok := range strings.Split(filters, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if code, ok := SourceFromString(tok); ok {
			out = append(out, code)
		}
	}
	return out
}

// FormatSourceFilters re-serializes a parsed filter list back to the
// comma-separated VDR source-string form, completing the filtersM
// round-trip.
func FormatSourceFilters(codes []int) string {
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, SourceToString(c))
	}
	return strings.Join(parts, ",")
}

// frontendPool returns (creating if needed) the pool for sys.
func (s *Server) frontendPool(sys System) *FrontendPool {
	p, ok := s.pools[sys]
	if !ok {
		p = newFrontendPool(0)
		s.pools[sys] = p
	}
	return p
}

// AssignFrontend implements the per-frontend assign step used by
// Registry.Assign: prefer an unused frontend, else an existing attachment
// for the same deviceId, otherwise fail.
func (s *Server) AssignFrontend(sys System, deviceId, transponder int) (*Frontend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontendPool(sys).Assign(deviceId, transponder)
}

func (s *Server) Attach(sys System, deviceId, transponder int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontendPool(sys).Attach(deviceId, transponder)
}

func (s *Server) Detach(sys System, deviceId, transponder int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontendPool(sys).Detach(deviceId, transponder)
}

func (s *Server) Matches(sys System, deviceId, transponder int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[sys]
	if !ok {
		return false
	}
	return p.Matches(deviceId, transponder)
}

func (s *Server) HasFreeFrontend(sys System) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[sys]
	return ok && p.HasFree()
}

// Key is the dedup key used by the registry: (address, model, description).
func (s *Server) Key() string {
	return s.Address + "|" + s.Model + "|" + s.Description
}
