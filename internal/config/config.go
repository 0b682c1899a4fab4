// Package config holds the process-wide, read-mostly configuration surface
// described in spec.md section 6. Fields are mirrored field-for-field from
// cSatipConfig in original_source/config.h. Every field that the SVDRP-style
// command channel can mutate at runtime is an atomic so readers never need a
// broader lock.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/atomic"
)

// OperatingMode mirrors cSatipConfig::eOperatingMode.
type OperatingMode uint32

const (
	ModeOff OperatingMode = iota
	ModeLow
	ModeNormal
	ModeHigh
)

func (m OperatingMode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeLow:
		return "low"
	case ModeNormal:
		return "normal"
	case ModeHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseOperatingMode accepts the four CLI/command-channel tokens.
func ParseOperatingMode(s string) (OperatingMode, error) {
	switch strings.ToLower(s) {
	case "off":
		return ModeOff, nil
	case "low":
		return ModeLow, nil
	case "normal":
		return ModeNormal, nil
	case "high":
		return ModeHigh, nil
	}
	return ModeOff, fmt.Errorf("unknown operating mode %q", s)
}

// TransportMode mirrors cSatipConfig::eTransportMode.
type TransportMode uint32

const (
	TransportUnicast TransportMode = iota
	TransportMulticast
	TransportRtpOverTcp
)

func (t TransportMode) String() string {
	switch t {
	case TransportUnicast:
		return "unicast"
	case TransportMulticast:
		return "multicast"
	case TransportRtpOverTcp:
		return "rtpOverTcp"
	default:
		return "unknown"
	}
}

func ParseTransportMode(s string) (TransportMode, error) {
	switch strings.ToLower(s) {
	case "unicast":
		return TransportUnicast, nil
	case "multicast":
		return TransportMulticast, nil
	case "rtpovertcp", "tcp":
		return TransportRtpOverTcp, nil
	}
	return TransportUnicast, fmt.Errorf("unknown transport mode %q", s)
}

const (
	MaxCicamCount            = 2
	MaxDisabledSourcesCount  = 32
	SectionFilterTableSize   = 64
)

// Config is the process-wide configuration surface from spec.md section 6.
// Every setter is safe to call concurrently with any getter; the struct
// itself is never copied after NewDefault returns.
type Config struct {
	operatingMode      atomic.Uint32
	ciExtension        atomic.Bool
	frontendReuse      atomic.Bool
	eitScan            atomic.Bool
	transportMode      atomic.Uint32
	detached           atomic.Bool
	disableQuirks      atomic.Bool
	singleModelServers atomic.Bool
	portRangeStart     atomic.Uint32
	portRangeStop      atomic.Uint32
	rtpRcvBufSize      atomic.Uint64
	debugBitmask       atomic.Uint32

	cicam            [MaxCicamCount]atomic.Int32
	disabledSources  atomic.Value // []int
	disabledFilters  atomic.Value // []int
}

// NewDefault returns a Config with the defaults used by the original plugin:
// normal operating mode, unicast transport, dynamic port range, 16MB receive
// buffer, quirk auto-detection enabled.
func NewDefault() *Config {
	c := &Config{}
	c.operatingMode.Store(uint32(ModeNormal))
	c.transportMode.Store(uint32(TransportUnicast))
	c.rtpRcvBufSize.Store(16 * 1024 * 1024)
	c.disabledSources.Store([]int{})
	c.disabledFilters.Store([]int{})
	return c
}

func (c *Config) OperatingMode() OperatingMode { return OperatingMode(c.operatingMode.Load()) }
func (c *Config) SetOperatingMode(m OperatingMode) { c.operatingMode.Store(uint32(m)) }

func (c *Config) CIExtension() bool       { return c.ciExtension.Load() }
func (c *Config) SetCIExtension(b bool)   { c.ciExtension.Store(b) }
func (c *Config) FrontendReuse() bool     { return c.frontendReuse.Load() }
func (c *Config) SetFrontendReuse(b bool) { c.frontendReuse.Store(b) }
func (c *Config) EitScan() bool           { return c.eitScan.Load() }
func (c *Config) SetEitScan(b bool)       { c.eitScan.Store(b) }

func (c *Config) TransportMode() TransportMode     { return TransportMode(c.transportMode.Load()) }
func (c *Config) SetTransportMode(m TransportMode) { c.transportMode.Store(uint32(m)) }

func (c *Config) Detached() bool     { return c.detached.Load() }
func (c *Config) SetDetached(b bool) { c.detached.Store(b) }

func (c *Config) DisableQuirks() bool     { return c.disableQuirks.Load() }
func (c *Config) SetDisableQuirks(b bool) { c.disableQuirks.Store(b) }

func (c *Config) SingleModelServers() bool     { return c.singleModelServers.Load() }
func (c *Config) SetSingleModelServers(b bool) { c.singleModelServers.Store(b) }

func (c *Config) PortRangeStart() int { return int(c.portRangeStart.Load()) }
func (c *Config) PortRangeStop() int  { return int(c.portRangeStop.Load()) }

// SetPortRange validates that the start is even, per spec.md's PidSet/RTP
// port-pairing invariant (RTP must bind an even port, RTCP the next odd one).
func (c *Config) SetPortRange(start, stop int) error {
	if start != 0 && start%2 != 0 {
		return fmt.Errorf("portrange start %d must be even", start)
	}
	if stop < start {
		return fmt.Errorf("portrange stop %d before start %d", stop, start)
	}
	c.portRangeStart.Store(uint32(start))
	c.portRangeStop.Store(uint32(stop))
	return nil
}

func (c *Config) RtpRcvBufSize() int            { return int(c.rtpRcvBufSize.Load()) }
func (c *Config) SetRtpRcvBufSize(bytes int)    { c.rtpRcvBufSize.Store(uint64(bytes)) }
func (c *Config) DebugBitmask() uint32          { return c.debugBitmask.Load() }
func (c *Config) SetDebugBitmask(mask uint32)   { c.debugBitmask.Store(mask) }

func (c *Config) Cicam(index int) int {
	if index < 0 || index >= MaxCicamCount {
		return 0
	}
	return int(c.cicam[index].Load())
}

func (c *Config) SetCicam(index, value int) {
	if index < 0 || index >= MaxCicamCount {
		return
	}
	c.cicam[index].Store(int32(value))
}

func (c *Config) DisabledSources() []int {
	v, _ := c.disabledSources.Load().([]int)
	return append([]int(nil), v...)
}

func (c *Config) SetDisabledSources(sources []int) {
	c.disabledSources.Store(append([]int(nil), sources...))
}

func (c *Config) DisabledFilters() []int {
	v, _ := c.disabledFilters.Load().([]int)
	return append([]int(nil), v...)
}

func (c *Config) SetDisabledFilters(filters []int) {
	c.disabledFilters.Store(append([]int(nil), filters...))
}

// ServerSpec is one statically configured server from --server=... (see
// ParseServerSpec), inserted into the registry once at startup with an
// lastSeenAt sentinel that never expires.
type ServerSpec struct {
	SourceAddress string
	Address       string
	Port          int
	Model         string
	Filter        string
	Description   string
	QuirkMask     int
}

// ParseServerSpec parses one semicolon-separated element of the --server
// flag: "[src@]ip[:port]|model[:filter]|desc[:quirkHex]".
func ParseServerSpec(s string) (ServerSpec, error) {
	parts := strings.Split(s, "|")
	if len(parts) < 2 || len(parts) > 3 {
		return ServerSpec{}, fmt.Errorf("malformed server spec %q", s)
	}
	spec := ServerSpec{Port: 554}

	addrPart := parts[0]
	if at := strings.Index(addrPart, "@"); at >= 0 {
		spec.SourceAddress = addrPart[:at]
		addrPart = addrPart[at+1:]
	}
	if colon := strings.LastIndex(addrPart, ":"); colon >= 0 {
		spec.Address = addrPart[:colon]
		port, err := strconv.Atoi(addrPart[colon+1:])
		if err != nil {
			return ServerSpec{}, fmt.Errorf("malformed port in server spec %q: %w", s, err)
		}
		spec.Port = port
	} else {
		spec.Address = addrPart
	}

	modelPart := parts[1]
	if colon := strings.Index(modelPart, ":"); colon >= 0 {
		spec.Model = modelPart[:colon]
		spec.Filter = modelPart[colon+1:]
	} else {
		spec.Model = modelPart
	}

	if len(parts) == 3 {
		descPart := parts[2]
		if colon := strings.LastIndex(descPart, ":"); colon >= 0 {
			spec.Description = descPart[:colon]
			mask, err := strconv.ParseInt(descPart[colon+1:], 16, 32)
			if err != nil {
				return ServerSpec{}, fmt.Errorf("malformed quirk hex in server spec %q: %w", s, err)
			}
			spec.QuirkMask = int(mask)
		} else {
			spec.Description = descPart
		}
	}
	return spec, nil
}

// ParseServerSpecs splits the ';'-separated --server flag value.
func ParseServerSpecs(flagValue string) ([]ServerSpec, error) {
	if strings.TrimSpace(flagValue) == "" {
		return nil, nil
	}
	var out []ServerSpec
	for _, part := range strings.Split(flagValue, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := ParseServerSpec(part)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}
