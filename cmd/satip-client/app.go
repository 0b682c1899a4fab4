package main

import (
	"fmt"
	"net"
	"net/http"

	"github.com/satipgo/satip-client/cmdchannel"
	"github.com/satipgo/satip-client/discover"
	"github.com/satipgo/satip-client/internal/config"
	"github.com/satipgo/satip-client/internal/logging"
	"github.com/satipgo/satip-client/poller"
	"github.com/satipgo/satip-client/registry"
	"github.com/satipgo/satip-client/tuner"
)

var log = logging.Get("app")

// app wires together the pieces cPluginSatip::Initialize/Start assemble in
// the original: a poller, a discoverer, and one tuner per device.
type app struct {
	cfg    *config.Config
	reg    *registry.Registry
	pool   *poller.Poller
	disc   *discover.Discoverer
	tuners []*tuner.Tuner

	useBytes bool
	stop     chan struct{}
}

func newApp(deviceCount int, cfg *config.Config, reg *registry.Registry) *app {
	pool := poller.New()
	pool.Start()
	disc := discover.New(reg, "", cfg.SingleModelServers())

	a := &app{
		cfg:  cfg,
		reg:  reg,
		pool: pool,
		disc: disc,
		stop: make(chan struct{}),
	}
	for i := 0; i < deviceCount; i++ {
		a.tuners = append(a.tuners, tuner.New(i, pool, reg, 16<<20))
	}
	return a
}

// Run starts the discoverer and every tuner's state-machine loop and blocks
// until the process is asked to stop.
func (a *app) Run() {
	go a.disc.Run(a.stop)
	for _, t := range a.tuners {
		go t.Run(a.stop)
	}
	log.Info("satip client started", "devices", len(a.tuners))
	<-a.stop
}

func (a *app) serveHTTP(addr string) {
	ch := cmdchannel.New(a)
	log.Info("http command channel listening", "addr", addr)
	if err := http.ListenAndServe(addr, ch.Router()); err != nil {
		log.Error("http command channel stopped", "err", err)
	}
}

func (a *app) serveText(addr string) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("text command channel listen failed", "err", err)
		return
	}
	ch := cmdchannel.New(a)
	log.Info("text command channel listening", "addr", addr)
	if err := ch.ServeText(l); err != nil {
		log.Error("text command channel stopped", "err", err)
	}
}

// cmdchannel.Host implementation.

func (a *app) Config() *config.Config     { return a.cfg }
func (a *app) Registry() *registry.Registry { return a.reg }

func (a *app) DeviceInfo(index int) (string, error) {
	if index < 0 || index >= len(a.tuners) {
		return "", fmt.Errorf("no such device %d", index)
	}
	t := a.tuners[index]
	sig := t.Signal()
	stats := t.Stats()
	return fmt.Sprintf("device %d: state=%s lock=%v strength=%d%% quality=%d%% packets=%d ccErrors=%d",
		index, t.State(), sig.HasLock, sig.Strength0100, sig.Quality0100,
		stats.PacketsReceived, stats.ErrorsCC), nil
}

func (a *app) DeviceCount() int { return len(a.tuners) }

func (a *app) TriggerScan() {
	go func() {
		if err := a.disc.Probe(); err != nil {
			log.Error("manual scan failed", "err", err)
		}
	}()
}

func (a *app) UseBytesMode() bool     { return a.useBytes }
func (a *app) SetUseBytesMode(b bool) { a.useBytes = b }
