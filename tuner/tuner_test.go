package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/satipgo/satip-client/sectionfilter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBuildPidQuery_AddAndDelete(t *testing.T) {
	q := buildPidQuery([]int{100, 101}, []int{200}, nil, false)
	assert.Contains(t, q, "addpids=100,101")
	assert.Contains(t, q, "delpids=200")
}

func TestBuildPidQuery_PlayPidsQuirkUsesFullPidSet(t *testing.T) {
	q := buildPidQuery([]int{100}, nil, []int{50, 100, 101}, true)
	assert.Equal(t, "pids=50,100,101", q)
	assert.NotContains(t, q, "addpids")
	assert.NotContains(t, q, "delpids")
}

func TestBuildPidQuery_EmptyWhenNoChanges(t *testing.T) {
	assert.Equal(t, "", buildPidQuery(nil, nil, nil, false))
}

func TestMergedPidSet_AddsAndRemovesSortedAscending(t *testing.T) {
	active := map[int]bool{100: true, 200: true}
	add := map[int]bool{50: true}
	del := map[int]bool{200: true}
	assert.Equal(t, []int{50, 100}, mergedPidSet(active, add, del))
}

func TestJoinInts(t *testing.T) {
	assert.Equal(t, "", joinInts(nil))
	assert.Equal(t, "5", joinInts([]int{5}))
	assert.Equal(t, "5,6,7", joinInts([]int{5, 6, 7}))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "locked", StateLocked.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestRequestState_InternalAlwaysWinsOverExternal(t *testing.T) {
	tr := New(0, nil, nil, 4096)

	tr.requestState(StateSet, sourceExternal)
	tr.requestState(StateLocked, sourceInternal)
	tr.updateCurrentState()

	assert.Equal(t, StateLocked, tr.State())
}

func TestRequestState_ExternalIgnoredAfterInternalPending(t *testing.T) {
	tr := New(0, nil, nil, 4096)

	tr.requestState(StateSet, sourceInternal)
	tr.requestState(StateLocked, sourceExternal)
	tr.updateCurrentState()

	assert.Equal(t, StateSet, tr.State())
}

func TestSetPid_SkipsDeleteWhenSectionFilterStillUsesPid(t *testing.T) {
	tr := New(0, nil, nil, 4096)
	_, err := tr.filters.Open(500, 0, 0xFF, func([]byte) {})
	assert.NoError(t, err)

	tr.SetPid(500, true)
	tr.SetPid(500, false)

	tr.mu.Lock()
	_, stillPendingDelete := tr.delPids[500]
	tr.mu.Unlock()
	assert.False(t, stillPendingDelete, "PID still used by a section filter must not be queued for delete")
}

func TestSetPid_DeletesWhenNoFilterUsesPid(t *testing.T) {
	tr := New(0, nil, nil, 4096)
	tr.SetPid(600, true)
	tr.SetPid(600, false)

	tr.mu.Lock()
	_, pendingDelete := tr.delPids[600]
	tr.mu.Unlock()
	assert.True(t, pendingDelete)
}

func TestFilters_ReturnsHub(t *testing.T) {
	tr := New(0, nil, nil, 4096)
	assert.IsType(t, &sectionfilter.Hub{}, tr.Filters())
}
