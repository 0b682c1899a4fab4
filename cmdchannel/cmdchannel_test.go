package cmdchannel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satipgo/satip-client/internal/config"
	"github.com/satipgo/satip-client/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHost struct {
	cfg       *config.Config
	reg       *registry.Registry
	devices   []string
	scanCount int
	bytesMode bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		cfg:     config.NewDefault(),
		reg:     registry.New(false, nil),
		devices: []string{"device 0: state=locked"},
	}
}

func (f *fakeHost) Config() *config.Config       { return f.cfg }
func (f *fakeHost) Registry() *registry.Registry { return f.reg }
func (f *fakeHost) DeviceInfo(index int) (string, error) {
	if index < 0 || index >= len(f.devices) {
		return "", assert.AnError
	}
	return f.devices[index], nil
}
func (f *fakeHost) DeviceCount() int      { return len(f.devices) }
func (f *fakeHost) TriggerScan()          { f.scanCount++ }
func (f *fakeHost) UseBytesMode() bool    { return f.bytesMode }
func (f *fakeHost) SetUseBytesMode(b bool) { f.bytesMode = b }

func TestHandleVerb_Info(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	reply, err := c.handleVerb("INFO", "0 0")
	require.NoError(t, err)
	assert.Equal(t, "device 0: state=locked", reply)
}

func TestHandleVerb_ModeTogglesAndReports(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	reply, err := c.handleVerb("MODE", "")
	require.NoError(t, err)
	assert.Equal(t, "SATIP information mode: bytes", reply)
	assert.True(t, h.UseBytesMode())

	reply, err = c.handleVerb("MODE", "")
	require.NoError(t, err)
	assert.Equal(t, "SATIP information mode: bits", reply)
}

func TestHandleVerb_ScanTriggersHost(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	_, err := c.handleVerb("SCAN", "")
	require.NoError(t, err)
	assert.Equal(t, 1, h.scanCount)
}

func TestHandleVerb_ListEmptyIsError(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	_, err := c.handleVerb("LIST", "")
	assert.Error(t, err)
}

func TestHandleVerb_AttachDetachUpdateConfig(t *testing.T) {
	h := newFakeHost()
	c := New(h)

	_, err := c.handleVerb("DETA", "")
	require.NoError(t, err)
	assert.True(t, h.cfg.Detached())

	_, err = c.handleVerb("ATTA", "")
	require.NoError(t, err)
	assert.False(t, h.cfg.Detached())
}

func TestHandleVerb_UnknownReturnsError(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	_, err := c.handleVerb("BOGUS", "")
	assert.Error(t, err)
}

func TestHandleVerb_TracSetsAndReportsBitmask(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	reply, err := c.handleVerb("TRAC", "0x2")
	require.NoError(t, err)
	assert.Contains(t, reply, "0x0002")
	assert.Equal(t, uint32(2), h.cfg.DebugBitmask())
}

func TestRouter_InfoEndpoint(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	srv := httptest.NewServer(c.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/info?device=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
}

func TestRouter_ScanEndpointTriggersHost(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	srv := httptest.NewServer(c.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/scan", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, h.scanCount)
}

func TestRouter_ListEndpointReturns550OnEmpty(t *testing.T) {
	h := newFakeHost()
	c := New(h)
	srv := httptest.NewServer(c.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 550, resp.StatusCode)
}
