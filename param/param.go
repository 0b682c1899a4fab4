// Package param translates between the host's abstract channel descriptor
// and the SAT>IP RTSP query-string representation described in SAT>IP
// Protocol Specification 1.2.2, section 3.5.11.
package param

import (
	"fmt"
	"strconv"
	"strings"
)

// Unspecified is the sentinel used on both the outbound (driverValue) and
// inbound (satipString) side to mean "auto / leave unspecified". The source
// this package is modeled on is not symmetric about this value; this
// implementation deliberately treats 999 as auto in both directions.
const Unspecified = 999

// DeliverySystem tags the physical/RF standard of a ChannelDescriptor.
type DeliverySystem byte

const (
	DvbS  DeliverySystem = 'S'
	DvbS2 DeliverySystem = 's'
	DvbT  DeliverySystem = 'T'
	DvbT2 DeliverySystem = 't'
	DvbC  DeliverySystem = 'C'
	DvbC2 DeliverySystem = 'c'
	Atsc  DeliverySystem = 'A'
)

// ChannelDescriptor is the host's abstract tuning request, independent of
// SAT>IP wire representation.
type ChannelDescriptor struct {
	System            DeliverySystem
	Source            int // satellite orbital position code (e.g. src=1 for 19.2E), 1..255
	FrequencyMHz      float64
	Polarization      byte // 'h','v','l','r'
	SymbolRateKSym     int
	FEC               int // driver-value code, see CodeRateValues
	Modulation        int // driver-value code, see ModulationValues
	RollOff           int // driver-value code, see RollOffValues
	Pilot             int // driver-value code, see PilotValues
	BandwidthHz       int
	TransmissionMode  int
	GuardInterval     int
	PlpID             int
	T2SystemID        int
	SisoMiso          int
	Inversion         int
	StreamSystemMinor int // the "1"/"2" in DVB-S/S2, DVB-C/C2, DVB-T/T2 (0 or 1)

	// PID bookkeeping, carried alongside tuning parameters but not emitted
	// into the transponder query string (see BuildTransponderURL).
	VideoPid, AudioPid, PmtPid, ServiceID, TransportStreamID, OriginalNetworkID int
	CaIDs                                                                      []int
}

// entry maps one driver-side value to its SAT>IP query fragment and the
// reverse (satip -> vdr-style) integer.
type entry struct {
	driverValue int
	satip       string
	vdrValue    int
}

func lookupSatip(table []entry, driverValue int) string {
	for _, e := range table {
		if e.driverValue == driverValue {
			return e.satip
		}
	}
	return ""
}

func lookupVdr(table []entry, satip string) int {
	for _, e := range table {
		if e.satip == satip {
			return e.vdrValue
		}
	}
	return Unspecified
}

var bandwidthValues = []entry{
	{5_000_000, "&bw=5", 5},
	{6_000_000, "&bw=6", 6},
	{7_000_000, "&bw=7", 7},
	{8_000_000, "&bw=8", 8},
	{10_000_000, "&bw=10", 10},
	{1_712_000, "&bw=1.712", 1712},
}

var pilotValues = []entry{
	{0, "&plts=off", 0},
	{1, "&plts=on", 1},
	{2, "", Unspecified},
}

var sisoMisoValues = []entry{
	{0, "&sm=0", 0},
	{1, "&sm=1", 1},
}

var codeRateValues = []entry{
	{0, "", 0},
	{1, "&fec=12", 12},
	{2, "&fec=23", 23},
	{3, "&fec=34", 34},
	{4, "&fec=35", 35},
	{5, "&fec=45", 45},
	{6, "&fec=56", 56},
	{7, "&fec=67", 67},
	{8, "&fec=78", 78},
	{9, "&fec=89", 89},
	{10, "&fec=910", 910},
	{15, "", Unspecified},
}

var modulationValues = []entry{
	{2, "&mtype=qpsk", 2},
	{5, "&mtype=8psk", 5},
	{6, "&mtype=16apsk", 6},
	{7, "&mtype=32apsk", 7},
	{10, "&mtype=8vsb", 10},
	{11, "&mtype=16vsb", 11},
	{16, "&mtype=16qam", 16},
	{64, "&mtype=64qam", 64},
	{128, "&mtype=128qam", 128},
	{256, "&mtype=256qam", 256},
	{999, "", Unspecified},
}

var systemValuesSat = []entry{
	{0, "&msys=dvbs", 0},
	{1, "&msys=dvbs2", 1},
}

var systemValuesTerrestrial = []entry{
	{0, "&msys=dvbt", 0},
	{1, "&msys=dvbt2", 1},
}

var systemValuesCable = []entry{
	{0, "&msys=dvbc", 0},
	{1, "&msys=dvbc2", 1},
}

var systemValuesAtsc = []entry{
	{0, "&msys=atsc", 0},
}

var transmissionValues = []entry{
	{1, "&tmode=1k", 1},
	{2, "&tmode=2k", 2},
	{4, "&tmode=4k", 4},
	{8, "&tmode=8k", 8},
	{16, "&tmode=16k", 16},
	{32, "&tmode=32k", 32},
	{999, "", Unspecified},
}

var guardValues = []entry{
	{4, "&gi=14", 4},
	{8, "&gi=18", 8},
	{16, "&gi=116", 16},
	{32, "&gi=132", 32},
	{128, "&gi=1128", 128},
	{19128, "&gi=19128", 19128},
	{19256, "&gi=19256", 19256},
	{999, "", Unspecified},
}

var rollOffValues = []entry{
	{999, "", 0},
	{20, "&ro=0.20", 20},
	{25, "&ro=0.25", 25},
	{35, "&ro=0.35", 35},
}

var inversionValues = []entry{
	{999, "", Unspecified},
	{0, "&specinv=0", 0},
	{1, "&specinv=1", 1},
}

// SatipToVdr performs the reverse lookup used when an RTCP reception report
// carries actual tuning parameters and the host channel descriptor must be
// updated to match. Unknown or absent fragments map to Unspecified.
func SatipToVdr(satipParam string) int {
	switch {
	case strings.HasPrefix(satipParam, "&bw="):
		return lookupVdr(bandwidthValues, satipParam)
	case strings.HasPrefix(satipParam, "&plts="):
		return lookupVdr(pilotValues, satipParam)
	case strings.HasPrefix(satipParam, "&sm="):
		return lookupVdr(sisoMisoValues, satipParam)
	case strings.HasPrefix(satipParam, "&fec="):
		return lookupVdr(codeRateValues, satipParam)
	case strings.HasPrefix(satipParam, "&mtype="):
		return lookupVdr(modulationValues, satipParam)
	case strings.HasPrefix(satipParam, "&msys=dvbs"):
		return lookupVdr(systemValuesSat, satipParam)
	case strings.HasPrefix(satipParam, "&msys=dvbt"):
		return lookupVdr(systemValuesTerrestrial, satipParam)
	case strings.HasPrefix(satipParam, "&msys=dvbc"):
		return lookupVdr(systemValuesCable, satipParam)
	case strings.HasPrefix(satipParam, "&msys=atsc"):
		return lookupVdr(systemValuesAtsc, satipParam)
	case strings.HasPrefix(satipParam, "&tmode="):
		return lookupVdr(transmissionValues, satipParam)
	case strings.HasPrefix(satipParam, "&gi="):
		return lookupVdr(guardValues, satipParam)
	case strings.HasPrefix(satipParam, "&ro="):
		return lookupVdr(rollOffValues, satipParam)
	case strings.HasPrefix(satipParam, "&specinv="):
		return lookupVdr(inversionValues, satipParam)
	}
	return Unspecified
}

func isSat(ch ChannelDescriptor) bool  { return ch.System == DvbS || ch.System == DvbS2 }
func isTerr(ch ChannelDescriptor) bool { return ch.System == DvbT || ch.System == DvbT2 }
func isCable(ch ChannelDescriptor) bool { return ch.System == DvbC || ch.System == DvbC2 }
func isAtsc(ch ChannelDescriptor) bool { return ch.System == Atsc }
func isS2(ch ChannelDescriptor) bool   { return ch.System == DvbS2 }
func isC2(ch ChannelDescriptor) bool   { return ch.System == DvbC2 }
func isT2(ch ChannelDescriptor) bool   { return ch.System == DvbT2 }

// printFloat mirrors the "%.3f with '.' as decimal separator" rule from the
// SAT>IP spec's frequency field, independent of host locale.
func printFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

// BuildTransponderURL produces the ampersand-joined SAT>IP query string for
// a channel descriptor, with the leading '&' stripped. Implements the
// per-delivery-system field table from SAT>IP 1.2.2 section 3.5.11.
func BuildTransponderURL(ch ChannelDescriptor) string {
	// DVB-S (non-S2) transponders must carry a fixed set of defaults
	// regardless of what the descriptor otherwise requested.
	if ch.System == DvbS {
		ch.Pilot = 0
		ch.Modulation = 2
		ch.RollOff = 35
	}

	freq := ch.FrequencyMHz
	for freq > 20000.0 {
		freq /= 1000.0
	}

	var sb strings.Builder

	if isSat(ch) {
		src := ch.Source
		if src <= 0 || src > 255 {
			src = 1
		}
		sb.WriteString(fmt.Sprintf("&src=%d", src))
	}
	if freq > 0 {
		sb.WriteString("&freq=" + printFloat(freq))
	}
	if isSat(ch) {
		sb.WriteString(fmt.Sprintf("&pol=%c", toLowerByte(ch.Polarization)))
		sb.WriteString(lookupSatip(rollOffValues, ch.RollOff))
	}
	if isC2(ch) {
		sb.WriteString("&c2tft=0")
	}
	if isTerr(ch) {
		sb.WriteString(lookupSatip(bandwidthValues, ch.BandwidthHz))
	}
	if isC2(ch) {
		sb.WriteString(lookupSatip(bandwidthValues, ch.BandwidthHz))
	}
	if isSat(ch) {
		sb.WriteString(lookupSatip(systemValuesSat, ch.StreamSystemMinor))
	}
	if isCable(ch) {
		sb.WriteString(lookupSatip(systemValuesCable, ch.StreamSystemMinor))
	}
	if isTerr(ch) {
		sb.WriteString(lookupSatip(systemValuesTerrestrial, ch.StreamSystemMinor))
	}
	if isAtsc(ch) {
		sb.WriteString(lookupSatip(systemValuesAtsc, 0))
	}
	if isTerr(ch) {
		sb.WriteString(lookupSatip(transmissionValues, ch.TransmissionMode))
	}
	if isSat(ch) {
		sb.WriteString(lookupSatip(modulationValues, ch.Modulation))
	}
	if isTerr(ch) {
		sb.WriteString(lookupSatip(modulationValues, ch.Modulation))
	}
	if ch.System == DvbC {
		sb.WriteString(lookupSatip(modulationValues, ch.Modulation))
	}
	if isAtsc(ch) {
		sb.WriteString(lookupSatip(modulationValues, ch.Modulation))
	}
	if isSat(ch) {
		sb.WriteString(lookupSatip(pilotValues, ch.Pilot))
		sb.WriteString(fmt.Sprintf("&sr=%d", ch.SymbolRateKSym))
	}
	if ch.System == DvbC {
		sb.WriteString(fmt.Sprintf("&sr=%d", ch.SymbolRateKSym))
	}
	if isTerr(ch) {
		sb.WriteString(lookupSatip(guardValues, ch.GuardInterval))
	}
	if isCable(ch) || isSat(ch) || isTerr(ch) {
		sb.WriteString(lookupSatip(codeRateValues, ch.FEC))
	}
	if isC2(ch) {
		sb.WriteString("&ds=0")
	}
	if isC2(ch) || isT2(ch) {
		sb.WriteString(fmt.Sprintf("&plp=%d", ch.PlpID))
	}
	if isT2(ch) {
		sb.WriteString(fmt.Sprintf("&t2id=%d", ch.T2SystemID))
		sb.WriteString(lookupSatip(sisoMisoValues, ch.SisoMiso))
	}
	if ch.System == DvbC {
		sb.WriteString(lookupSatip(inversionValues, ch.Inversion))
	}
	if isAtsc(ch) {
		sb.WriteString(lookupSatip(inversionValues, ch.Inversion))
	}

	s := sb.String()
	return strings.TrimPrefix(s, "&")
}

func toLowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
