package rwconfig

import (
	"context"
	"testing"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	groups store.GroupAgent
	rtcs   []store.Rtc
	writes map[uuid.UUID]map[uuid.UUID]store.ReaderConfigItem // rtc -> reader -> item
}

func newFakeStore() *fakeStore {
	return &fakeStore{writes: map[uuid.UUID]map[uuid.UUID]store.ReaderConfigItem{}}
}

func (f *fakeStore) GetGroups(ctx context.Context, roomID id.RoomID) (*store.GroupAgent, error) {
	return &f.groups, nil
}

func (f *fakeStore) SetGroups(ctx context.Context, roomID id.RoomID, groups store.GroupList) error {
	f.groups = store.GroupAgent{RoomID: uuid.UUID(roomID), Groups: groups}
	return nil
}

func (f *fakeStore) ListRtcsByRoom(ctx context.Context, roomID id.RoomID) ([]store.Rtc, error) {
	return f.rtcs, nil
}

func (f *fakeStore) UpsertReaderConfigs(ctx context.Context, rtcID id.RtcID, items []store.ReaderConfigItem, now time.Time) error {
	rtcUUID := uuid.UUID(rtcID)
	if f.writes[rtcUUID] == nil {
		f.writes[rtcUUID] = map[uuid.UUID]store.ReaderConfigItem{}
	}
	for _, it := range items {
		f.writes[rtcUUID][uuid.UUID(it.ReaderID)] = it
	}
	return nil
}

func (f *fakeStore) UpdateWriterConfig(ctx context.Context, rtcID id.RtcID, sendVideo, sendAudio bool, videoRemb *int64, updatedBy *id.AgentID, now time.Time) error {
	return nil
}

func rtcOwnedBy(owner uuid.UUID) store.Rtc {
	return store.Rtc{ID: uuid.New(), CreatedBy: owner}
}

// TestReconcileTeacherCase reproduces spec §8 scenario 4: g1={pupil1,
// teacher}, g2={pupil2, teacher}. Expected: pupil1<->teacher peers,
// pupil2<->teacher peers, pupil1<->pupil2 non-peers.
func TestReconcileTeacherCase(t *testing.T) {
	pupil1, pupil2, teacher := uuid.New(), uuid.New(), uuid.New()

	fs := newFakeStore()
	fs.groups = store.GroupAgent{
		Groups: store.GroupList{
			{Number: 1, Agents: []uuid.UUID{pupil1, teacher}},
			{Number: 2, Agents: []uuid.UUID{pupil2, teacher}},
		},
	}
	rtcPupil1 := rtcOwnedBy(pupil1)
	rtcPupil2 := rtcOwnedBy(pupil2)
	rtcTeacher := rtcOwnedBy(teacher)
	fs.rtcs = []store.Rtc{rtcPupil1, rtcPupil2, rtcTeacher}

	e := NewEngine(fs)
	require.NoError(t, e.Reconcile(context.Background(), id.RoomID(uuid.New()), time.Now()))

	// pupil1's rtc: teacher reads it as peer, pupil2 as non-peer.
	pupil1Reads := fs.writes[rtcPupil1.ID]
	assert.True(t, pupil1Reads[teacher].ReceiveVideo)
	assert.True(t, pupil1Reads[teacher].ReceiveAudio)
	assert.False(t, pupil1Reads[pupil2].ReceiveVideo)
	assert.False(t, pupil1Reads[pupil2].ReceiveAudio)

	// pupil2's rtc: teacher is peer, pupil1 is not.
	pupil2Reads := fs.writes[rtcPupil2.ID]
	assert.True(t, pupil2Reads[teacher].ReceiveVideo)
	assert.False(t, pupil2Reads[pupil1].ReceiveVideo)

	// teacher's rtc: both pupils see the teacher as peer.
	teacherReads := fs.writes[rtcTeacher.ID]
	assert.True(t, teacherReads[pupil1].ReceiveVideo)
	assert.True(t, teacherReads[pupil2].ReceiveVideo)
}

func TestReconcileSkipsSelfReader(t *testing.T) {
	a := uuid.New()
	fs := newFakeStore()
	fs.groups = store.GroupAgent{Groups: store.GroupList{{Number: 0, Agents: []uuid.UUID{a}}}}
	rtc := rtcOwnedBy(a)
	fs.rtcs = []store.Rtc{rtc}

	e := NewEngine(fs)
	require.NoError(t, e.Reconcile(context.Background(), id.RoomID(uuid.New()), time.Now()))

	_, ok := fs.writes[rtc.ID][a]
	assert.False(t, ok, "owner is never its own reader entry")
}

// TestUpdateGroupsReconcilesImmediately covers group.update (spec §4.3,
// "reconciliation runs whenever groups change"): the new partition must
// already be in effect by the time UpdateGroups returns, not just stored.
func TestUpdateGroupsReconcilesImmediately(t *testing.T) {
	pupil, teacher := uuid.New(), uuid.New()
	fs := newFakeStore()
	rtcPupil := rtcOwnedBy(pupil)
	rtcTeacher := rtcOwnedBy(teacher)
	fs.rtcs = []store.Rtc{rtcPupil, rtcTeacher}

	e := NewEngine(fs)
	roomID := id.RoomID(uuid.New())
	newGroups := store.GroupList{{Number: 1, Agents: []uuid.UUID{pupil, teacher}}}

	require.NoError(t, e.UpdateGroups(context.Background(), roomID, newGroups, time.Now()))

	assert.Equal(t, newGroups, fs.groups.Groups)
	pupilReads := fs.writes[rtcPupil.ID]
	assert.True(t, pupilReads[teacher].ReceiveVideo, "reconciliation must run against the just-set partition")
}

func TestSetReaderConfigRejectsOversizedBatch(t *testing.T) {
	fs := newFakeStore()
	e := NewEngine(fs)

	items := make([]store.ReaderConfigItem, store.MaxConfigBatch+1)
	err := e.SetReaderConfig(context.Background(), id.NewRtcID(), items, time.Now())
	assert.Error(t, err)
}
