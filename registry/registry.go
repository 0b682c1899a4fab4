package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/satipgo/satip-client/internal/satiperrors"
)

// Store is the optional persistence collaborator for discovered servers
// (see redis_store.go). A nil Store degrades every method to a no-op, so
// the registry functions fully in-memory without one.
type Store interface {
	Save(s ServerRecord) error
	Load() ([]ServerRecord, error)
}

// ServerRecord is the subset of Server state worth persisting across a
// restart: identity and model, not live frontend attachment state.
type ServerRecord struct {
	SourceAddress string
	Address       string
	Port          int
	Model         string
	Filters       string
	Description   string
}

// Registry is the set of known servers, keyed by (address, model,
// description) per spec.md §3. One mutex guards all queries and mutations;
// all operations are expected to be short (no I/O while holding it).
type Registry struct {
	mu      sync.Mutex
	servers map[string]*Server
	order   []string // insertion order, for Assign's tie-break

	disableQuirks bool
	store         Store
}

// New creates an empty registry. store may be nil.
func New(disableQuirks bool, store Store) *Registry {
	return &Registry{
		servers:       make(map[string]*Server),
		disableQuirks: disableQuirks,
		store:         store,
	}
}

// LoadPersisted restores servers saved by a prior process via Store.Load,
// reinserted as freshly-seen (not static — they still expire on the normal
// cleanup schedule if the real server has gone away).
func (r *Registry) LoadPersisted() error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.Load()
	if err != nil {
		return err
	}
	for _, rec := range records {
		r.AddServer(rec.SourceAddress, rec.Address, rec.Port, rec.Model, rec.Filters, rec.Description, 0)
	}
	return nil
}

// AddStatic inserts a server that never expires, per spec.md §4.8 "static
// servers supplied by configuration are inserted once at startup".
func (r *Registry) AddStatic(srcAddress, address string, port int, model, filters, description string, quirkOverride Quirk) *Server {
	s := r.AddServer(srcAddress, address, port, model, filters, description, quirkOverride)
	s.markStatic()
	return s
}

// AddServer inserts or refreshes a server, deduplicating on (address, model,
// description) per spec.md invariant 4: a matching existing entry has its
// lastSeenAt refreshed instead of being replaced.
func (r *Registry) AddServer(srcAddress, address string, port int, model, filters, description string, quirkOverride Quirk) *Server {
	key := address + "|" + model + "|" + description
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.servers[key]; ok {
		existing.Touch()
		return existing
	}

	s := NewServer(srcAddress, address, port, model, filters, description, quirkOverride, r.disableQuirks)
	s.Touch()
	r.servers[key] = s
	r.order = append(r.order, key)

	if r.store != nil {
		_ = r.store.Save(ServerRecord{
			SourceAddress: srcAddress, Address: address, Port: port,
			Model: model, Filters: filters, Description: description,
		})
	}
	return s
}

// Cleanup removes non-static entries whose lastSeenAt is older than
// maxAge, per spec.md §3's ServerRegistry cleanup rule.
func (r *Registry) Cleanup(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	kept := r.order[:0]
	for _, key := range r.order {
		s := r.servers[key]
		if !s.IsStatic() && s.LastSeenAt().Before(cutoff) {
			log.Info("removing stale server", "description", s.Description, "address", s.Address)
			delete(r.servers, key)
			removed = append(removed, key)
			continue
		}
		kept = append(kept, key)
	}
	r.order = kept
	return removed
}

// List returns a stable snapshot of all registered servers, active or not,
// in insertion order.
func (r *Registry) List() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Server, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.servers[key])
	}
	return out
}

// FindBySource returns the first active server permitted to serve source,
// for host source-routing decisions (cSatipServers::Find(int sourceP)
// equivalent).
func (r *Registry) FindBySource(source int) *Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.order {
		s := r.servers[key]
		if s.Active() && s.IsValidSource(source) {
			return s
		}
	}
	return nil
}

// systemForSourceAndDeliverySystem maps a host (source, DVB system) pair to
// the frontend-pool key; see spec.md §3's delivery-system tag enumeration.
func systemForSourceAndDeliverySystem(source int, isS2, isT2, isC2, isAtsc bool) System {
	switch {
	case isAtsc:
		return SystemATSC
	case isC2:
		return SystemC2
	case isT2:
		return SystemT2
	case isS2 || source < SourceTerrestrial:
		// Any satellite source (including plain DVB-S) uses the S2 pool;
		// S2 demodulators serve DVB-S too.
		return SystemS2
	case source == SourceCable:
		return SystemC
	default:
		return SystemT
	}
}

// Assign implements cSatipServers::Assign / spec.md §4.7's two-pass
// algorithm: first look for a server already matching
// (deviceId, source, system, transponder) for reuse, then look for a
// server with a compatible free frontend. Tie-break is insertion order.
func (r *Registry) Assign(deviceId, source, transponder int, isS2, isT2, isC2, isAtsc bool) (*Server, *Frontend, error) {
	sys := systemForSourceAndDeliverySystem(source, isS2, isT2, isC2, isAtsc)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.order {
		s := r.servers[key]
		if s.Active() && s.IsValidSource(source) && s.Matches(sys, deviceId, transponder) {
			fe, ok := s.AssignFrontend(sys, deviceId, transponder)
			if ok {
				return s, fe, nil
			}
		}
	}
	for _, key := range r.order {
		s := r.servers[key]
		if s.Active() && s.IsValidSource(source) && s.HasFreeFrontend(sys) {
			fe, ok := s.AssignFrontend(sys, deviceId, transponder)
			if ok {
				return s, fe, nil
			}
		}
	}
	return nil, nil, satiperrors.NoServerAvailable("system", sys, "source", source, "deviceId", deviceId)
}

// Attach records that deviceId now holds the frontend previously returned
// by Assign for the given system/transponder.
func (r *Registry) Attach(s *Server, sys System, deviceId, transponder int) {
	s.Attach(sys, deviceId, transponder)
}

// Detach releases a frontend, making it available to the next Assign call.
func (r *Registry) Detach(s *Server, sys System, deviceId, transponder int) {
	s.Detach(sys, deviceId, transponder)
}

// NumProvidedSystems sums the frontend-pool size of sys across all
// registered servers, active or not, for host capability reporting.
func (r *Registry) NumProvidedSystems(sys System) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, key := range r.order {
		total += r.servers[key].NumProvidedSystems(sys)
	}
	return total
}

// ListInfo renders a sorted diagnostic page for the LIST command-channel
// verb.
func (r *Registry) ListInfo() []string {
	servers := r.List()
	lines := make([]string, 0, len(servers))
	for _, s := range servers {
		lines = append(lines, s.Description+" "+s.Address+" "+s.Model+" quirks="+s.Quirks().String())
	}
	sort.Strings(lines)
	return lines
}
