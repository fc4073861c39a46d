package store

import (
	"context"
	"testing"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateRtcArmsUnboundedRoomOnFirstRtc covers spec §4.2/§6: an
// unbounded room's first rtc arms the room's end at
// start+MaxWebinarDuration.
func TestCreateRtcArmsUnboundedRoomOnFirstRtc(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	start := now.Add(-time.Minute)
	room := insertTestRoom(t, db, Room{TimeStart: &start, RtcSharingPolicy: SharingPolicyShared})

	createdBy := uuid.New()
	rtc, err := db.CreateRtc(ctx, room.RoomID(), id.AgentID(createdBy), now)
	require.NoError(t, err)
	assert.Equal(t, room.ID, rtc.RoomID)

	var gotRoom Room
	require.NoError(t, db.First(&gotRoom, "id = ?", room.ID).Error)
	require.NotNil(t, gotRoom.TimeEnd)
	assert.WithinDuration(t, start.Add(MaxWebinarDuration), *gotRoom.TimeEnd, time.Second)
}

// TestCreateRtcRejectsSecondOwnedRtcFromSameAgent covers the owned
// sharing policy's at-most-one-rtc-per-agent constraint.
func TestCreateRtcRejectsSecondOwnedRtcFromSameAgent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	start := now.Add(-time.Minute)
	end := now.Add(time.Hour)
	room := insertTestRoom(t, db, Room{TimeStart: &start, TimeEnd: &end, RtcSharingPolicy: SharingPolicyOwned})

	agentID := id.AgentID(uuid.New())
	_, err := db.CreateRtc(ctx, room.RoomID(), agentID, now)
	require.NoError(t, err)

	_, err = db.CreateRtc(ctx, room.RoomID(), agentID, now)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidPayload, appErr.Kind)
}

// TestCreateRtcRejectsSecondSharedRtc covers the shared sharing policy's
// at-most-one-rtc-per-room constraint.
func TestCreateRtcRejectsSecondSharedRtc(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	start := now.Add(-time.Minute)
	end := now.Add(time.Hour)
	room := insertTestRoom(t, db, Room{TimeStart: &start, TimeEnd: &end, RtcSharingPolicy: SharingPolicyShared})

	_, err := db.CreateRtc(ctx, room.RoomID(), id.AgentID(uuid.New()), now)
	require.NoError(t, err)

	_, err = db.CreateRtc(ctx, room.RoomID(), id.AgentID(uuid.New()), now)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidPayload, appErr.Kind)
}

// TestCreateRtcRejectsClosedRoom covers the §4.2 precondition that
// rtc.create requires an Open room.
func TestCreateRtcRejectsClosedRoom(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	end := now.Add(-time.Hour)
	room := insertTestRoom(t, db, Room{TimeEnd: &end})

	_, err := db.CreateRtc(ctx, room.RoomID(), id.AgentID(uuid.New()), now)
	require.Error(t, err)
}
