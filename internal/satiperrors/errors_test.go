package satiperrors

import (
	"errors"
	"testing"

	errorsgo "github.com/eluv-io/errors-go"
	"github.com/stretchr/testify/assert"
)

func TestTemplates_ProduceNonNilErrors(t *testing.T) {
	cases := []errorsgo.TemplateFn{
		ConfigInvalid, NoServerAvailable, ConnectTimeout, RtspProtocol, RtspAuth,
		TransportNegotiationFailed, TuningTimeout, KeepAliveFailed, DescribeFailed,
		RtpDecode, RtcpDecode, BufferOverflow, DiscoveryXmlMalformed, SocketError,
	}
	for _, tmpl := range cases {
		err := tmpl("key", "value")
		assert.Error(t, err)
	}
}

func TestConnectTimeout_MentionsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ConnectTimeout("host", "10.0.0.2", "port", 554, "err", cause)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
