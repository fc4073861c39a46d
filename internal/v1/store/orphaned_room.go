package store

import (
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// OrphanedRoom marks a room whose host has left, armed for vacuum once
// host_left_at is older than the configured threshold (spec §3, §4.2).
type OrphanedRoom struct {
	RoomID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	HostLeftAt time.Time
}

func (OrphanedRoom) TableName() string { return "orphaned_room" }

func (o OrphanedRoom) RoomIDTyped() id.RoomID { return id.RoomID(o.RoomID) }
