package store

import (
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// Rtc is a single addressable media stream slot inside a room (spec §3).
type Rtc struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID    uuid.UUID `gorm:"type:uuid;index"`
	CreatedBy uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time
}

func (Rtc) TableName() string { return "rtc" }

func (r Rtc) RtcID() id.RtcID         { return id.RtcID(r.ID) }
func (r Rtc) RoomIDTyped() id.RoomID  { return id.RoomID(r.RoomID) }
func (r Rtc) CreatedByTyped() id.AgentID { return id.AgentID(r.CreatedBy) }
