// Package poller implements the single background reactor described in
// spec.md §4.1: one goroutine watches every registered tuner socket and
// dispatches readable events to their owning Handle synchronously.
package poller

import (
	"sync"
	"time"

	"github.com/satipgo/satip-client/internal/logging"
)

var log = logging.Get("poller")

// tickTimeout bounds how long each registered Handle's Read is allowed to
// block per round, per spec.md §4.1 ("~100 ms").
const tickTimeout = 100 * time.Millisecond

// Handle is one socket the Poller owns. Implementations set their own
// per-Read deadline no larger than the bounded timeout the Poller expects;
// a slow handler only stalls its own handle for that iteration.
type Handle interface {
	// Id uniquely identifies this handle for Register/Unregister.
	Id() uintptr
	// ReadOnce performs at most one blocking read (one UDP datagram, one
	// framed TCP chunk) with a deadline the Poller's tick budget implies,
	// and dispatches the payload to its owner. A timeout is not an error.
	ReadOnce(budget time.Duration) error
}

type registration struct {
	handle Handle
	remove bool
}

// Poller is the shared reactor. Register/Unregister are channel-driven so
// the hot loop never takes a lock.
type Poller struct {
	regCh  chan registration
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
}

// New creates a Poller; call Start to begin the background goroutine.
func New() *Poller {
	return &Poller{
		regCh:  make(chan registration, 16),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the reactor goroutine. Safe to call once.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()
	go p.run()
}

// Register adds a Handle to the poll set. Safe to call concurrently with
// Start/Stop and from any goroutine.
func (p *Poller) Register(h Handle) {
	p.regCh <- registration{handle: h}
}

// Unregister removes a previously registered Handle.
func (p *Poller) Unregister(h Handle) {
	p.regCh <- registration{handle: h, remove: true}
}

// Stop signals the reactor goroutine and waits up to the given timeout for
// it to exit, per spec.md §5's 3s drain-then-join shutdown rule.
func (p *Poller) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	select {
	case <-p.doneCh:
	case <-time.After(timeout):
		log.Warn("poller did not drain within timeout", "timeout", timeout)
	}
}

func (p *Poller) run() {
	defer close(p.doneCh)
	handles := make(map[uintptr]Handle)

	for {
		select {
		case <-p.stopCh:
			return
		case reg := <-p.regCh:
			if reg.remove {
				delete(handles, reg.handle.Id())
			} else {
				handles[reg.handle.Id()] = reg.handle
			}
			continue
		default:
		}

		if len(handles) == 0 {
			select {
			case <-p.stopCh:
				return
			case reg := <-p.regCh:
				if reg.remove {
					delete(handles, reg.handle.Id())
				} else {
					handles[reg.handle.Id()] = reg.handle
				}
			case <-time.After(tickTimeout):
			}
			continue
		}

		// Round-robin: each registered handle gets one bounded Read this
		// tick. A slow handler only stalls its own handle.
		perHandle := tickTimeout / time.Duration(len(handles))
		if perHandle <= 0 {
			perHandle = time.Millisecond
		}
		for _, h := range handles {
			if err := h.ReadOnce(perHandle); err != nil {
				log.Debug("poller handle read error", "err", err)
			}
			select {
			case <-p.stopCh:
				return
			default:
			}
		}
	}
}
