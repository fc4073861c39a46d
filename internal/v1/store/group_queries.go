package store

import (
	"context"
	"errors"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (db *DB) GetGroups(ctx context.Context, roomID id.RoomID) (*GroupAgent, error) {
	var g GroupAgent
	err := db.WithContext(ctx).First(&g, "room_id = ?", uuid.UUID(roomID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &GroupAgent{RoomID: uuid.UUID(roomID)}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &g, nil
}

// SetGroups replaces the whole group partition for a room (spec §4.3,
// the host-driven group-assignment operation).
func (db *DB) SetGroups(ctx context.Context, roomID id.RoomID, groups GroupList) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO group_agent (room_id, groups) VALUES (?, ?)
		 ON CONFLICT (room_id) DO UPDATE SET groups = EXCLUDED.groups`,
		uuid.UUID(roomID), groups).Error
}
