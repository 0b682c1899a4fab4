package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved  []ServerRecord
	toLoad []ServerRecord
}

func (f *fakeStore) Save(rec ServerRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) Load() ([]ServerRecord, error) {
	return f.toLoad, nil
}

func TestRegistry_AddServer_SavesNewEntryToStore(t *testing.T) {
	store := &fakeStore{}
	reg := New(false, store)

	reg.AddServer("", "10.0.0.5", 554, "DVBS2-2", "", "Tuner1", 0)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "10.0.0.5", store.saved[0].Address)

	// Dedup refresh must not re-save.
	reg.AddServer("", "10.0.0.5", 554, "DVBS2-2", "", "Tuner1", 0)
	assert.Len(t, store.saved, 1)
}

func TestRegistry_LoadPersisted_RestoresFromStore(t *testing.T) {
	store := &fakeStore{toLoad: []ServerRecord{
		{Address: "10.0.0.6", Port: 554, Model: "DVBT-1", Description: "Restored"},
	}}
	reg := New(false, store)

	require.NoError(t, reg.LoadPersisted())
	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "10.0.0.6", list[0].Address)
}

func TestRegistry_LoadPersisted_NilStoreIsNoop(t *testing.T) {
	reg := New(false, nil)
	assert.NoError(t, reg.LoadPersisted())
	assert.Empty(t, reg.List())
}

func TestDetectQuirks_OctopusNet(t *testing.T) {
	q := DetectQuirks("OctopusNet", false)
	assert.True(t, q.Has(QuirkCiXpmt))
	assert.False(t, q.Has(QuirkRtpOverTcp))
}

func TestDetectQuirks_DisabledReturnsZero(t *testing.T) {
	q := DetectQuirks("minisatip", true)
	assert.Equal(t, Quirk(0), q)
}

func TestAddServer_DedupRefreshesLastSeen(t *testing.T) {
	reg := New(false, nil)
	s1 := reg.AddServer("", "10.0.0.2", 554, "DVBS2-2", "", "minisatip", 0)
	firstSeen := s1.LastSeenAt()

	s2 := reg.AddServer("", "10.0.0.2", 554, "DVBS2-2", "", "minisatip", 0)
	assert.Same(t, s1, s2, "re-adding the same server must return the same instance")
	assert.False(t, s2.LastSeenAt().Before(firstSeen))
	assert.Len(t, reg.List(), 1)
}

func TestAddServer_DifferentDescriptionIsDistinct(t *testing.T) {
	reg := New(false, nil)
	reg.AddServer("", "10.0.0.2", 554, "DVBS2-2", "", "minisatip", 0)
	reg.AddServer("", "10.0.0.2", 554, "DVBS2-2", "", "other-box", 0)
	assert.Len(t, reg.List(), 2)
}

func TestFrontendPool_AssignThenAttachThenDetach(t *testing.T) {
	s := NewServer("", "10.0.0.2", 554, "DVBS2-2", "", "minisatip", 0, false)
	require.True(t, s.HasFreeFrontend(SystemS2))

	fe, ok := s.AssignFrontend(SystemS2, 0, 12345)
	require.True(t, ok)
	require.NotNil(t, fe)
	assert.True(t, s.Matches(SystemS2, 0, 12345))

	assert.True(t, s.Attach(SystemS2, 0, 12345))
	assert.True(t, s.Detach(SystemS2, 0, 12345))
}

func TestFrontendPool_ExhaustionReturnsFalse(t *testing.T) {
	s := NewServer("", "10.0.0.2", 554, "DVBS2-1", "", "minisatip", 0, false)
	_, ok := s.AssignFrontend(SystemS2, 0, 1)
	require.True(t, ok)
	_, ok = s.AssignFrontend(SystemS2, 1, 2)
	assert.False(t, ok, "single-frontend server must reject a second concurrent assignment")
}

func TestNewServer_EmptyFieldsDefault(t *testing.T) {
	s := NewServer("", "10.0.0.2", 554, "", "", "", 0, false)
	assert.Equal(t, "MyBrokenHardware", s.Description)
	assert.Equal(t, "DVBS-1", s.Model)
}
