package ingress

import (
	"context"
	"encoding/json"
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
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	upserted    *store.JanusBackend
	deleted     id.BackendID
	streams     []store.JanusRtcStream
	rtcByID     map[uuid.UUID]store.Rtc
}

func (f *fakeStore) UpsertBackend(ctx context.Context, b *store.JanusBackend, now time.Time) error {
	f.upserted = b
	return nil
}

func (f *fakeStore) DeleteBackend(ctx context.Context, backendID id.BackendID, now time.Time) error {
	f.deleted = backendID
	return nil
}

func (f *fakeStore) ActiveStreamsByBackend(ctx context.Context, backendID id.BackendID) ([]store.JanusRtcStream, error) {
	return f.streams, nil
}

func (f *fakeStore) GetRtc(ctx context.Context, rtcID id.RtcID) (*store.Rtc, error) {
	r := f.rtcByID[uuid.UUID(rtcID)]
	return &r, nil
}

type fakePool struct {
	put     map[string]*janusclient.Client
	removed string
}

func (p *fakePool) Put(backendID string, c *janusclient.Client) {
	if p.put == nil {
		p.put = map[string]*janusclient.Client{}
	}
	p.put[backendID] = c
}

func (p *fakePool) Get(backendID string) (*janusclient.Client, bool) {
	c, ok := p.put[backendID]
	return c, ok
}

func (p *fakePool) Remove(backendID string) { p.removed = backendID }

type fakeBroker struct {
	published []string
}

func (b *fakeBroker) Publish(ctx context.Context, topic, label string, payload any) error {
	b.published = append(b.published, label)
	return nil
}

type fakeOrchestrator struct {
	webrtcUpHandle int64
	endedHandle    int64
}

func (o *fakeOrchestrator) OnWebRTCUp(ctx context.Context, backendID string, handleID int64, now time.Time) error {
	o.webrtcUpHandle = handleID
	return nil
}

func (o *fakeOrchestrator) OnStreamEnded(ctx context.Context, handleID int64, now time.Time) error {
	o.endedHandle = handleID
	return nil
}

func newJanusStub(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"janus": "success",
			"data":  map[string]int64{"id": 42},
		})
	}))
}

func TestOnlineRegistersBackendAndStartsPoller(t *testing.T) {
	srv := newJanusStub(t)
	defer srv.Close()

	fs := &fakeStore{}
	pool := &fakePool{}
	broker := &fakeBroker{}
	orch := &fakeOrchestrator{}
	m := NewManager(fs, pool, broker, orch, "janus.plugin.videoroom")

	backendID := id.NewBackendID()
	err := m.Online(context.Background(), OnlineRequest{
		BackendID: backendID,
		JanusURL:  srv.URL,
	}, time.Now())
	require.NoError(t, err)

	assert.NotNil(t, fs.upserted)
	assert.Equal(t, int64(42), fs.upserted.SessionID)
	assert.Equal(t, int64(42), fs.upserted.HandleID)

	client, ok := pool.Get(backendID.String())
	require.True(t, ok)
	assert.Equal(t, int64(42), client.SessionID)

	require.NoError(t, m.Offline(context.Background(), backendID, time.Now()))
	assert.Equal(t, backendID, fs.deleted)
	assert.Equal(t, backendID.String(), pool.removed)
}

func TestOfflineBroadcastsPerActiveStream(t *testing.T) {
	rtcID := id.NewRtcID()
	roomID := uuid.New()
	backendID := id.NewBackendID()

	fs := &fakeStore{
		streams: []store.JanusRtcStream{
			{ID: uuid.New(), RtcID: uuid.UUID(rtcID), BackendID: uuid.UUID(backendID), Label: "main"},
		},
		rtcByID: map[uuid.UUID]store.Rtc{
			uuid.UUID(rtcID): {ID: uuid.UUID(rtcID), RoomID: roomID},
		},
	}
	pool := &fakePool{}
	broker := &fakeBroker{}
	orch := &fakeOrchestrator{}
	m := NewManager(fs, pool, broker, orch, "plugin")

	require.NoError(t, m.Offline(context.Background(), backendID, time.Now()))
	assert.Contains(t, broker.published, "rtc_stream.update")
}

func TestDispatchRoutesWebRTCUpAndHangup(t *testing.T) {
	fs := &fakeStore{}
	pool := &fakePool{}
	broker := &fakeBroker{}
	orch := &fakeOrchestrator{}
	m := NewManager(fs, pool, broker, orch, "plugin")

	m.Dispatch(context.Background(), "backend-1", janusclient.PollEvent{Kind: janusclient.EventWebRTCUp, HandleID: 7})
	assert.Equal(t, int64(7), orch.webrtcUpHandle)

	m.Dispatch(context.Background(), "backend-1", janusclient.PollEvent{Kind: janusclient.EventHangup, HandleID: 9})
	assert.Equal(t, int64(9), orch.endedHandle)

	m.Dispatch(context.Background(), "backend-1", janusclient.PollEvent{Kind: janusclient.EventDetached, HandleID: 11})
	assert.Equal(t, int64(11), orch.endedHandle)

	orch.webrtcUpHandle = 0
	m.Dispatch(context.Background(), "backend-1", janusclient.PollEvent{Kind: janusclient.EventKeepalive, HandleID: 99})
	assert.Equal(t, int64(0), orch.webrtcUpHandle)
}
