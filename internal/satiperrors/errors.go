// Package satiperrors defines the error kinds and sentinel templates used
// across the client. Errors of the kinds below are constructed through a
// Template so that callers can inspect the Kind with errors-go's matching
// helpers instead of string-sniffing; some parsing and validation helpers
// elsewhere return plain errors built with fmt.Errorf or errors.New.
package satiperrors

import (
	"github.com/eluv-io/errors-go"
)

// Kinds mirror the propagation policy: retryable per-packet decode errors,
// fatal session errors that drive the tuner state machine back to Set, and
// configuration errors surfaced at startup.
var (
	ConfigInvalid              = errors.Template("config.invalid", errors.K.Invalid)
	NoServerAvailable          = errors.Template("registry.no_server_available", errors.K.NotExist)
	ConnectTimeout             = errors.Template("rtsp.connect_timeout", errors.K.IO)
	RtspProtocol               = errors.Template("rtsp.protocol_error", errors.K.IO)
	RtspAuth                   = errors.Template("rtsp.auth_failed", errors.K.Permission)
	TransportNegotiationFailed = errors.Template("rtsp.transport_negotiation_failed", errors.K.IO)
	TuningTimeout              = errors.Template("tuner.tuning_timeout", errors.K.IO)
	KeepAliveFailed            = errors.Template("rtsp.keepalive_failed", errors.K.IO)
	DescribeFailed             = errors.Template("rtsp.describe_failed", errors.K.IO)
	RtpDecode                  = errors.Template("rtp.decode_error", errors.K.Invalid)
	RtcpDecode                 = errors.Template("rtcp.decode_error", errors.K.Invalid)
	BufferOverflow             = errors.Template("ring.buffer_overflow", errors.K.Invalid)
	DiscoveryXmlMalformed      = errors.Template("discover.xml_malformed", errors.K.Invalid)
	SocketError                = errors.Template("transport.socket_error", errors.K.IO)
)
