package poller

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeHandle struct {
	id    uintptr
	reads int32
	fail  bool
}

func (f *fakeHandle) Id() uintptr { return f.id }

func (f *fakeHandle) ReadOnce(budget time.Duration) error {
	atomic.AddInt32(&f.reads, 1)
	if f.fail {
		return errors.New("simulated read failure")
	}
	return nil
}

func TestPoller_DispatchesToRegisteredHandle(t *testing.T) {
	p := New()
	p.Start()
	defer p.Stop(time.Second)

	h := &fakeHandle{id: 1}
	p.Register(h)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&h.reads) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestPoller_UnregisterStopsDispatch(t *testing.T) {
	p := New()
	p.Start()
	defer p.Stop(time.Second)

	h := &fakeHandle{id: 2}
	p.Register(h)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&h.reads) > 0
	}, time.Second, 10*time.Millisecond)

	p.Unregister(h)
	time.Sleep(50 * time.Millisecond)
	countAtUnregister := atomic.LoadInt32(&h.reads)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, countAtUnregister, atomic.LoadInt32(&h.reads))
}

func TestPoller_HandleErrorDoesNotStopReactor(t *testing.T) {
	p := New()
	p.Start()
	defer p.Stop(time.Second)

	bad := &fakeHandle{id: 3, fail: true}
	good := &fakeHandle{id: 4}
	p.Register(bad)
	p.Register(good)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&good.reads) > 2
	}, time.Second, 10*time.Millisecond)
}

func TestPoller_StopIsIdempotentAndWaitsForDrain(t *testing.T) {
	p := New()
	p.Start()
	p.Stop(time.Second)
	p.Stop(time.Second) // second call must not panic or block
}
