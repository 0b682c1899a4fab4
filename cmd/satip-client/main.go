// Command satip-client runs the SAT>IP client application: device
// discovery, per-device tuners, and the command channel. Flags mirror
// original_source/satip.c's cPluginSatip::CommandLineHelp, ported from
// getopt_long onto github.com/spf13/cobra the way
// eluv-io-avpipe/elvxc/main.go wires its subcommands onto a root command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	elvlog "github.com/eluv-io/log-go"

	"github.com/satipgo/satip-client/internal/config"
	"github.com/satipgo/satip-client/internal/satiperrors"
	"github.com/satipgo/satip-client/registry"
)

func main() {
	var (
		devices   int
		trace     int
		server    string
		portrange string
		rcvbuf    int
		detach    bool
		single    bool
		noquirks  bool
		httpAddr  string
		textAddr  string
		redisAddr string
		redisDB   int
	)

	root := &cobra.Command{
		Use:   "satip-client",
		Short: "SAT>IP client",
		RunE: func(cmd *cobra.Command, args []string) error {
			elvlog.SetDefault(&elvlog.Config{
				Level:   "info",
				Handler: "text",
			})

			cfg := config.NewDefault()
			cfg.SetDebugBitmask(uint32(trace))
			cfg.SetDetached(detach)
			cfg.SetSingleModelServers(single)
			cfg.SetDisableQuirks(noquirks)
			if rcvbuf > 0 {
				cfg.SetRtpRcvBufSize(rcvbuf)
			}

			if portrange != "" {
				start, stop, err := parsePortRange(portrange, devices)
				if err != nil {
					return err
				}
				if err := cfg.SetPortRange(start, stop); err != nil {
					return err
				}
			}

			var store registry.Store
			var redisStore *registry.RedisStore
			if redisAddr != "" {
				redisStore = registry.NewRedisStore(redisAddr, redisDB)
				store = redisStore
			}

			reg := registry.New(cfg.DisableQuirks(), store)
			if redisStore != nil {
				defer redisStore.Close()
				if err := reg.LoadPersisted(); err != nil {
					elvlog.Warn("failed to load persisted servers from redis", "err", err)
				}
			}
			if server != "" {
				specs, err := config.ParseServerSpecs(server)
				if err != nil {
					return err
				}
				for _, s := range specs {
					reg.AddStatic(s.SourceAddress, s.Address, s.Port, s.Model, s.Filter, s.Description, registry.Quirk(s.QuirkMask))
				}
			}

			app := newApp(devices, cfg, reg)
			if httpAddr != "" {
				go app.serveHTTP(httpAddr)
			}
			if textAddr != "" {
				go app.serveText(textAddr)
			}
			app.Run()
			return nil
		},
	}

	root.Flags().IntVarP(&devices, "devices", "d", 2, "number of devices to create")
	root.Flags().IntVarP(&trace, "trace", "t", 0, "debug trace bitmask")
	root.Flags().StringVarP(&server, "server", "s", "", "hard-coded SAT>IP server(s): [srcaddr@]ip[:port]|model[:filter]|desc[:quirkHex];...")
	root.Flags().StringVarP(&portrange, "portrange", "p", "", "RTP/RTCP port range, start-stop")
	root.Flags().IntVarP(&rcvbuf, "rcvbuf", "r", 0, "override RTP receive buffer size in bytes")
	root.Flags().BoolVarP(&detach, "detach", "D", false, "start in detached mode")
	root.Flags().BoolVarP(&single, "single", "S", false, "treat multi-system servers as one server per system")
	root.Flags().BoolVarP(&noquirks, "noquirks", "n", false, "disable quirk auto-detection")
	root.Flags().StringVar(&httpAddr, "http", "", "address to serve the HTTP command channel on, e.g. :8080")
	root.Flags().StringVar(&textAddr, "textcmd", "", "address to serve the line-oriented command channel on, e.g. :2222")
	root.Flags().StringVar(&redisAddr, "redis-addr", "", "redis address for server registry persistence, e.g. localhost:6379 (disabled if empty)")
	root.Flags().IntVar(&redisDB, "redis-db", 0, "redis database index for server registry persistence")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parsePortRange mirrors cPluginSatip::ParsePortRange's validation: an even
// start, and enough room for 2 ports per device.
func parsePortRange(s string, deviceCount int) (int, int, error) {
	var start, stop int
	if _, err := fmt.Sscanf(s, "%d-%d", &start, &stop); err != nil {
		return 0, 0, satiperrors.ConfigInvalid("portrange", s, "err", err)
	}
	if start%2 != 0 {
		return 0, 0, satiperrors.ConfigInvalid("portrange", s, "reason", "start must be even")
	}
	if stop-start+1 < deviceCount*2 {
		return 0, 0, satiperrors.ConfigInvalid("portrange", s, "reason", "range too small for device count")
	}
	return start, stop, nil
}
