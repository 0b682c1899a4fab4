// Package rtcp implements the RTCP receive path from spec.md §4.3: SR
// packet parsing and the SAT>IP APP-packet reception report. The APP
// payload splitting and level/quality scaling are ported field-for-field
// from original_source/tuner.c's ProcessApplicationData.
package rtcp

import (
	"encoding/binary"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/satipgo/satip-client/internal/logging"
)

var log = logging.Get("rtcp")

const (
	ptSR  = 200
	ptApp = 204
)

// SenderReport is a parsed RTCP SR packet (RFC 3550 §6.4.1).
type SenderReport struct {
	SSRC           uint32
	NTPSeconds     uint32
	NTPFraction    uint32
	RTPTimestamp   uint32
	PacketCount    uint32
	OctetCount     uint32
}

// System tags which SAT>IP "ver=" value produced a Report (spec.md §4.3:
// 1.0 satellite, 1.1 terrestrial, 1.2 cable).
type System int

const (
	SystemSat System = iota
	SystemTerrestrial
	SystemCable
)

// Report is the parsed SAT>IP reception report carried in an RTCP APP
// packet: "ver=<x.y>;src=<n>;tuner=<feID>,<level>,<lock>,<quality>,...".
type Report struct {
	System      System
	Source      int // -1 if absent (non-satellite)
	FrontendID  int
	Level       int // raw 0..255
	Lock        bool
	Quality     int // raw 0..15
	SignalDBm   float64
	Signal0100  int
	Quality0100 int

	// Remaining comma fields after quality, verbatim (frequency,
	// polarization, system, ...). No package in this module reads them; the
	// host's transponder descriptor is not rewritten from a report.
	TunerFields []string

	// PIDs is the optional "pids=..." fragment's comma list, when present.
	PIDs []int
}

// ParseSenderReport parses one SR packet body (after the 8-byte common
// RTCP header) per RFC 3550 §6.4.1. Only the sender-info block is decoded;
// per-block receiver reports are not needed by this client.
func ParseSenderReport(body []byte) (SenderReport, error) {
	if len(body) < 24 {
		return SenderReport{}, fmt.Errorf("SR body too short: %d bytes", len(body))
	}
	return SenderReport{
		SSRC:         binary.BigEndian.Uint32(body[0:4]),
		NTPSeconds:   binary.BigEndian.Uint32(body[4:8]),
		NTPFraction:  binary.BigEndian.Uint32(body[8:12]),
		RTPTimestamp: binary.BigEndian.Uint32(body[12:16]),
		PacketCount:  binary.BigEndian.Uint32(body[16:20]),
		OctetCount:   binary.BigEndian.Uint32(body[20:24]),
	}, nil
}

// ParseAppReport parses the ASCII SAT>IP reception report carried in an
// RTCP APP packet's payload (the portion after SSRC/name), per
// spec.md §4.3. Ported from ProcessApplicationData: the bare-minimum
// length guard, the "ver="-anchored split, the level/quality scaling
// formulas.
func ParseAppReport(payload []byte) (Report, error) {
	if len(payload) < 33 {
		return Report{}, fmt.Errorf("APP payload too short: %d bytes", len(payload))
	}
	s := string(payload)
	idx := strings.Index(s, "ver=")
	if idx < 0 {
		return Report{}, fmt.Errorf("APP payload missing ver= field")
	}
	s = s[idx:]

	fields := strings.Split(s, ";")
	if len(fields) < 2 {
		return Report{}, fmt.Errorf("APP payload has too few ';'-separated fields")
	}

	rep := Report{Source: -1}
	switch fields[0] {
	case "ver=1.0":
		rep.System = SystemSat
	case "ver=1.1":
		rep.System = SystemTerrestrial
	case "ver=1.2":
		rep.System = SystemCable
	default:
		return Report{}, fmt.Errorf("unknown SAT>IP report version %q", fields[0])
	}

	next := 1
	if strings.HasPrefix(fields[next], "src=") {
		rep.Source, _ = strconv.Atoi(strings.TrimPrefix(fields[next], "src="))
		next++
	}
	if next >= len(fields) || !strings.HasPrefix(fields[next], "tuner=") {
		return Report{}, fmt.Errorf("APP payload missing tuner= field")
	}
	params := strings.Split(strings.TrimPrefix(fields[next], "tuner="), ",")
	for len(params) < 14 {
		params = append(params, "")
	}

	rep.FrontendID, _ = strconv.Atoi(params[0])
	rep.Level, _ = strconv.Atoi(params[1])
	if rep.Level > 0 {
		rep.SignalDBm = 40.0*float64(rep.Level-32)/192.0 - 65.0
		rep.Signal0100 = int(0.5 + float64(rep.Level)*100.0/255.0)
	} else {
		rep.SignalDBm = 0
		rep.Signal0100 = -1
	}
	rep.Lock = params[2] == "1"
	rep.Quality, _ = strconv.Atoi(params[3])
	if rep.Lock && rep.Quality >= 0 {
		rep.Quality0100 = int(0.5 + float64(rep.Quality)*100.0/15.0)
	} else {
		rep.Quality0100 = 0
	}
	rep.TunerFields = params[4:]

	for _, f := range fields[next+1:] {
		if strings.HasPrefix(f, "pids=") {
			for _, tok := range strings.Split(strings.TrimPrefix(f, "pids="), ",") {
				if tok == "" {
					continue
				}
				if pid, err := strconv.Atoi(tok); err == nil {
					rep.PIDs = append(rep.PIDs, pid)
				}
			}
		}
	}
	return rep, nil
}

// Sink receives parsed reception reports. Per spec.md §4.3's invariant,
// the receiver never mutates host state directly from the poller thread;
// Sink is expected to forward into a mutex-protected setter on the owning
// Tuner.
type Sink func(Report)

// Receiver owns one RTCP socket (or none, in interleaved mode).
type Receiver struct {
	conn *net.UDPConn
	sink Sink
	buf  []byte
}

func NewReceiver(conn *net.UDPConn, sink Sink) *Receiver {
	return &Receiver{conn: conn, sink: sink, buf: make([]byte, 65535)}
}

func NewInterleavedReceiver(sink Sink) *Receiver {
	return &Receiver{sink: sink}
}

func (r *Receiver) Port() int {
	if r.conn == nil {
		return 0
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *Receiver) Id() uintptr {
	if r.conn == nil {
		return 0
	}
	return reflect.ValueOf(r.conn).Pointer()
}

func (r *Receiver) ReadOnce(budget time.Duration) error {
	if r.conn == nil {
		return nil
	}
	_ = r.conn.SetReadDeadline(time.Now().Add(budget))
	n, err := r.conn.Read(r.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	r.HandlePacket(r.buf[:n])
	return nil
}

// HandlePacket parses compound RTCP packets looking for SR and APP chunks,
// per spec.md §4.3. Decode failures are counted in the log and dropped,
// never fatal.
func (r *Receiver) HandlePacket(data []byte) {
	for len(data) >= 4 {
		version := data[0] >> 6
		if version != 2 {
			log.Debug("rtcp decode error", "err", "bad version")
			return
		}
		pt := data[1]
		length := int(binary.BigEndian.Uint16(data[2:4]))
		chunkLen := (length + 1) * 4
		if chunkLen > len(data) {
			log.Debug("rtcp decode error", "err", "truncated chunk")
			return
		}
		body := data[4:chunkLen]

		switch pt {
		case ptSR:
			if _, err := ParseSenderReport(body); err != nil {
				log.Debug("rtcp SR decode error", "err", err)
			}
		case ptApp:
			// APP body: 4-byte SSRC, 4-byte ASCII name, then payload.
			if len(body) > 8 {
				rep, err := ParseAppReport(body[8:])
				if err != nil {
					log.Debug("rtcp APP decode error", "err", err)
				} else if r.sink != nil {
					r.sink(rep)
				}
			}
		}
		data = data[chunkLen:]
	}
}

func (r *Receiver) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
