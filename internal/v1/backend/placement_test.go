package backend

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

// fakeStore implements Store against in-memory fixtures, keyed the same
// way the real queries are, so placement logic can be tested without a
// database.
type fakeStore struct {
	backends []store.JanusBackend
	rooms    map[uuid.UUID][]store.Room // backend id -> rooms
	taken    map[uuid.UUID]int64        // room id -> taken load
}

func (f *fakeStore) ListBackendsInGroup(ctx context.Context, group string) ([]store.JanusBackend, error) {
	if group == "" {
		return f.backends, nil
	}
	var out []store.JanusBackend
	for _, b := range f.backends {
		if b.Group != nil && *b.Group == group {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveRoomsByBackend(ctx context.Context, backendID id.BackendID, now time.Time) ([]store.Room, error) {
	return f.rooms[uuid.UUID(backendID)], nil
}

func (f *fakeStore) TakenLoadForRoom(ctx context.Context, roomID id.RoomID) (int64, error) {
	return f.taken[uuid.UUID(roomID)], nil
}

func cap32(v int32) *int32 { return &v }

func TestPlaceMostLoadedCapable(t *testing.T) {
	b1 := uuid.New()
	b2 := uuid.New()
	r1 := uuid.New() // bound to b1, reserve-load 500
	r2 := uuid.New() // bound to b2, reserve-load 400

	fs := &fakeStore{
		backends: []store.JanusBackend{
			{ID: b1, APIVersion: "v2", Capacity: cap32(800), BalancerCapacity: cap32(800)},
			{ID: b2, APIVersion: "v2", Capacity: cap32(800), BalancerCapacity: cap32(800)},
		},
		rooms: map[uuid.UUID][]store.Room{
			b1: {{ID: r1, Reserve: cap32(500)}},
			b2: {{ID: r2, Reserve: cap32(400)}},
		},
		taken: map[uuid.UUID]int64{r1: 0, r2: 0},
	}

	m := NewLoadModel(fs)
	picked, err := m.Place(context.Background(), "", "v2", 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, id.BackendID(b1), picked, "most-loaded capable backend should win")
}

func TestPlaceFallsBackToLeastLoadedWhenNoneCapable(t *testing.T) {
	b1 := uuid.New()
	b2 := uuid.New()
	r1 := uuid.New()
	r2 := uuid.New()

	fs := &fakeStore{
		backends: []store.JanusBackend{
			{ID: b1, APIVersion: "v2", Capacity: cap32(800), BalancerCapacity: cap32(800)},
			{ID: b2, APIVersion: "v2", Capacity: cap32(800), BalancerCapacity: cap32(800)},
		},
		rooms: map[uuid.UUID][]store.Room{
			b1: {{ID: r1, Reserve: cap32(400)}},
			b2: {{ID: r2, Reserve: cap32(500)}},
		},
		taken: map[uuid.UUID]int64{r1: 0, r2: 0},
	}

	m := NewLoadModel(fs)
	// reserve=500 exceeds slack on both (800-400=400 < 500, 800-500=300 < 500)
	picked, err := m.Place(context.Background(), "", "v2", 500, time.Now())
	require.NoError(t, err)
	assert.Equal(t, id.BackendID(b1), picked, "least-loaded (b1, load 400) should win the fallback")
}

func TestPlaceNoBackendsInGroup(t *testing.T) {
	fs := &fakeStore{}
	m := NewLoadModel(fs)
	_, err := m.Place(context.Background(), "missing-group", "v2", 0, time.Now())
	assert.Error(t, err)
}

func TestFreeReaderSlotsClampsToZero(t *testing.T) {
	roomID := uuid.New()
	b := store.JanusBackend{ID: uuid.New(), Capacity: cap32(2)}
	room := store.Room{ID: roomID}

	fs := &fakeStore{
		rooms: map[uuid.UUID][]store.Room{b.ID: {room}},
		taken: map[uuid.UUID]int64{roomID: 2},
	}
	m := NewLoadModel(fs)
	free, err := m.FreeReaderSlots(context.Background(), b, room, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), free)
}
