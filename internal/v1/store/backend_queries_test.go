package store

import (
	"context"
	"testing"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDeleteBackendDisconnectsAgentConnections covers spec §4.7 and
// literal scenario 6: backend.offline must bulk-disconnect every
// agent_connection on rooms bound to that backend, not just stop streams
// and drop the registry row.
func TestDeleteBackendDisconnectsAgentConnections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	backendID := uuid.New()
	otherBackendID := uuid.New()

	boundRoom := insertTestRoom(t, db, Room{BackendID: &backendID})
	otherRoom := insertTestRoom(t, db, Room{BackendID: &otherBackendID})

	rtc := Rtc{ID: uuid.New(), RoomID: boundRoom.ID, CreatedBy: uuid.New(), CreatedAt: now}
	require.NoError(t, db.Create(&rtc).Error)
	otherRtc := Rtc{ID: uuid.New(), RoomID: otherRoom.ID, CreatedBy: uuid.New(), CreatedAt: now}
	require.NoError(t, db.Create(&otherRtc).Error)

	// Four agent connections on rooms bound to the offlining backend
	// (spec §4.7 scenario 6: "4 agent_connections removed").
	for i := 0; i < 4; i++ {
		conn := AgentConnection{ID: uuid.New(), AgentID: uuid.New(), RoomID: boundRoom.ID, RtcID: rtc.ID, CreatedAt: now}
		require.NoError(t, db.Create(&conn).Error)
	}
	// One connection on a room bound to a different backend must survive.
	unaffected := AgentConnection{ID: uuid.New(), AgentID: uuid.New(), RoomID: otherRoom.ID, RtcID: otherRtc.ID, CreatedAt: now}
	require.NoError(t, db.Create(&unaffected).Error)

	stream := JanusRtcStream{ID: uuid.New(), HandleID: 1, RtcID: rtc.ID, BackendID: backendID, CreatedAt: now}
	require.NoError(t, db.Create(&stream).Error)

	backend := JanusBackend{ID: backendID, JanusURL: "wss://janus.example", CreatedAt: now}
	require.NoError(t, db.Create(&backend).Error)

	require.NoError(t, db.DeleteBackend(ctx, id.BackendID(backendID), now))

	var remaining int64
	require.NoError(t, db.Model(&AgentConnection{}).Where("room_id = ?", boundRoom.ID).Count(&remaining).Error)
	assert.Zero(t, remaining, "all 4 agent_connections on the offlined backend's rooms must be removed")

	var survivorCount int64
	require.NoError(t, db.Model(&AgentConnection{}).Where("room_id = ?", otherRoom.ID).Count(&survivorCount).Error)
	assert.Equal(t, int64(1), survivorCount, "connections on other backends' rooms must be untouched")

	var gotStream JanusRtcStream
	require.NoError(t, db.First(&gotStream, "id = ?", stream.ID).Error)
	assert.NotNil(t, gotStream.TimeEnd)

	var backendCount int64
	require.NoError(t, db.Model(&JanusBackend{}).Where("id = ?", backendID).Count(&backendCount).Error)
	assert.Zero(t, backendCount)
}
