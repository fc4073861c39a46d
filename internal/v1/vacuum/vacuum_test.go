package vacuum

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/foxford-conf/conferenced/pkg/janusclient"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	orphans         []store.OrphanedRoom
	closed          map[uuid.UUID]bool
	rooms           []store.Room
	disconnected    []uuid.UUID
	recordings      map[uuid.UUID][]store.Recording
	rtcByID         map[uuid.UUID]store.Rtc
	completed       map[uuid.UUID]bool
	missing         map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		closed:     map[uuid.UUID]bool{},
		recordings: map[uuid.UUID][]store.Recording{},
		rtcByID:    map[uuid.UUID]store.Rtc{},
		completed:  map[uuid.UUID]bool{},
		missing:    map[uuid.UUID]bool{},
	}
}

func (f *fakeStore) TimedOutOrphans(ctx context.Context, now time.Time, threshold time.Duration) ([]store.OrphanedRoom, error) {
	return f.orphans, nil
}

func (f *fakeStore) CloseRoom(ctx context.Context, roomID id.RoomID, closedBy *id.AgentID, timedOut bool, now time.Time) (bool, error) {
	rid := uuid.UUID(roomID)
	if f.closed[rid] {
		return false, nil
	}
	f.closed[rid] = true
	return true, nil
}

func (f *fakeStore) GetRoom(ctx context.Context, roomID id.RoomID) (*store.Room, error) {
	rid := uuid.UUID(roomID)
	for _, r := range f.rooms {
		if r.ID == rid {
			return &r, nil
		}
	}
	return &store.Room{ID: rid}, nil
}

func (f *fakeStore) RoomsAwaitingUpload(ctx context.Context, now time.Time) ([]store.Room, error) {
	return f.rooms, nil
}

func (f *fakeStore) DisconnectRoomForVacuum(ctx context.Context, roomID id.RoomID) error {
	f.disconnected = append(f.disconnected, uuid.UUID(roomID))
	return nil
}

func (f *fakeStore) InProgressRecordingsForRoom(ctx context.Context, roomID id.RoomID) ([]store.Recording, error) {
	return f.recordings[uuid.UUID(roomID)], nil
}

func (f *fakeStore) GetRtc(ctx context.Context, rtcID id.RtcID) (*store.Rtc, error) {
	r := f.rtcByID[uuid.UUID(rtcID)]
	return &r, nil
}

func (f *fakeStore) CompleteRecording(ctx context.Context, rtcID id.RtcID, segments store.JSONSegments, dumpURIs store.JSONStrings) error {
	f.completed[uuid.UUID(rtcID)] = true
	return nil
}

func (f *fakeStore) MarkRecordingMissing(ctx context.Context, rtcID id.RtcID) error {
	f.missing[uuid.UUID(rtcID)] = true
	return nil
}

type fakePool struct {
	clients map[string]*janusclient.Client
}

func (p *fakePool) Get(backendID string) (*janusclient.Client, bool) {
	c, ok := p.clients[backendID]
	return c, ok
}

type fakeBroker struct {
	published []string
}

func (b *fakeBroker) Publish(ctx context.Context, topic, label string, payload any) error {
	b.published = append(b.published, label)
	return nil
}

type fakeBuckets struct {
	bucket string
	ok     bool
}

func (f *fakeBuckets) ResolveBucket(policy store.SharingPolicy, audience string) (string, bool) {
	return f.bucket, f.ok
}

func TestTriggerOrphanVacuumClosesAndBroadcasts(t *testing.T) {
	roomID := uuid.New()
	fs := newFakeStore()
	fs.orphans = []store.OrphanedRoom{{RoomID: roomID, HostLeftAt: time.Now().Add(-time.Hour)}}
	broker := &fakeBroker{}
	svc := NewService(fs, &fakePool{}, broker, &fakeBuckets{}, 10*time.Minute)

	require.NoError(t, svc.TriggerOrphanVacuum(context.Background(), time.Now()))
	assert.True(t, fs.closed[roomID])
	assert.Contains(t, broker.published, "room.close")
}

func TestTriggerOrphanVacuumSkipsAlreadyClosed(t *testing.T) {
	roomID := uuid.New()
	fs := newFakeStore()
	fs.closed[roomID] = true
	fs.orphans = []store.OrphanedRoom{{RoomID: roomID}}
	broker := &fakeBroker{}
	svc := NewService(fs, &fakePool{}, broker, &fakeBuckets{}, 10*time.Minute)

	require.NoError(t, svc.TriggerOrphanVacuum(context.Background(), time.Now()))
	assert.Empty(t, broker.published)
}

func TestTriggerUploadVacuumRequestsStreamUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"janus":"success","data":{"id":1}}`))
	}))
	defer srv.Close()

	backendID := id.NewBackendID()
	rtcID := id.NewRtcID()
	roomID := uuid.New()
	classroomID := uuid.New()
	bid := uuid.UUID(backendID)

	fs := newFakeStore()
	fs.rooms = []store.Room{{
		ID:               roomID,
		Audience:         "example.org",
		ClassroomID:      classroomID,
		BackendID:        &bid,
		RtcSharingPolicy: store.SharingPolicyShared,
	}}
	fs.recordings[roomID] = []store.Recording{{RtcID: uuid.UUID(rtcID), Status: store.RecordingStatusInProgress}}
	fs.rtcByID[uuid.UUID(rtcID)] = store.Rtc{ID: uuid.UUID(rtcID), RoomID: roomID}

	client := janusclient.NewClient(backendID.String(), srv.URL)
	pool := &fakePool{clients: map[string]*janusclient.Client{backendID.String(): client}}
	broker := &fakeBroker{}
	buckets := &fakeBuckets{bucket: "shared-bucket", ok: true}

	svc := NewService(fs, pool, broker, buckets, 10*time.Minute)
	require.NoError(t, svc.TriggerUploadVacuum(context.Background(), time.Now()))

	assert.Contains(t, fs.disconnected, roomID)
}

func TestRequestUploadForRoomDrivesSameSequenceAsTick(t *testing.T) {
	rtcID := id.NewRtcID()
	roomID := uuid.New()

	fs := newFakeStore()
	fs.rooms = []store.Room{{ID: roomID, RtcSharingPolicy: store.SharingPolicyShared}}
	fs.recordings[roomID] = []store.Recording{{RtcID: uuid.UUID(rtcID), Status: store.RecordingStatusInProgress}}

	svc := NewService(fs, &fakePool{}, &fakeBroker{}, &fakeBuckets{}, 10*time.Minute)
	require.NoError(t, svc.RequestUploadForRoom(context.Background(), id.RoomID(roomID)))

	assert.Contains(t, fs.disconnected, roomID)
	assert.True(t, fs.missing[uuid.UUID(rtcID)], "room has no bound backend, so the recording is marked missing")
}

func TestTriggerUploadVacuumMarksMissingWithoutBackend(t *testing.T) {
	rtcID := id.NewRtcID()
	roomID := uuid.New()

	fs := newFakeStore()
	fs.rooms = []store.Room{{ID: roomID, RtcSharingPolicy: store.SharingPolicyShared}}
	fs.recordings[roomID] = []store.Recording{{RtcID: uuid.UUID(rtcID), Status: store.RecordingStatusInProgress}}

	svc := NewService(fs, &fakePool{}, &fakeBroker{}, &fakeBuckets{}, 10*time.Minute)
	require.NoError(t, svc.TriggerUploadVacuum(context.Background(), time.Now()))
	assert.True(t, fs.missing[uuid.UUID(rtcID)])
}

func TestReportUploadCompletesAndBroadcasts(t *testing.T) {
	rtcID := id.NewRtcID()
	agentID := id.NewAgentID()
	fs := newFakeStore()
	fs.rtcByID[uuid.UUID(rtcID)] = store.Rtc{ID: uuid.UUID(rtcID), CreatedBy: uuid.UUID(agentID)}
	broker := &fakeBroker{}
	svc := NewService(fs, &fakePool{}, broker, &fakeBuckets{}, 10*time.Minute)

	err := svc.ReportUpload(context.Background(), UploadReport{
		RtcID:    rtcID,
		Audience: "example.org",
		Status:   store.RecordingStatusReady,
	})
	require.NoError(t, err)
	assert.True(t, fs.completed[uuid.UUID(rtcID)])
	assert.Contains(t, broker.published, "room.upload")
}
