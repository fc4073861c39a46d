package store

import (
	"encoding/json"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// SharingPolicy controls how Rtcs map to participants within a room.
type SharingPolicy string

const (
	SharingPolicyNone   SharingPolicy = "none"
	SharingPolicyShared SharingPolicy = "shared"
	SharingPolicyOwned  SharingPolicy = "owned"
)

// Room is the conference container (spec §3).
type Room struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Audience        string    `gorm:"index"`
	ClassroomID     uuid.UUID `gorm:"type:uuid;index"`
	TimeStart       *time.Time
	TimeEnd         *time.Time
	RtcSharingPolicy SharingPolicy
	Reserve         *int32
	BackendID       *uuid.UUID `gorm:"type:uuid;index"`
	Host            *uuid.UUID `gorm:"type:uuid"`
	Tags            json.RawMessage `gorm:"type:jsonb"`
	TimedOut        bool
	ClosedBy        *uuid.UUID `gorm:"type:uuid"`
	Infinite        bool
	CreatedAt       time.Time
}

func (Room) TableName() string { return "room" }

// RoomID returns the typed id of this row.
func (r Room) RoomID() id.RoomID { return id.RoomID(r.ID) }

// Interval returns the half-open time range of the room.
func (r Room) Interval() Interval {
	var iv Interval
	if r.TimeStart != nil {
		iv.Start = *r.TimeStart
	}
	if r.TimeEnd != nil {
		iv.End = *r.TimeEnd
	}
	return iv
}

// ClassroomIDTyped returns the typed classroom id.
func (r Room) ClassroomIDTyped() id.ClassroomID { return id.ClassroomID(r.ClassroomID) }

// BackendIDTyped returns the typed backend id, with ok=false when unset.
func (r Room) BackendIDTyped() (id.BackendID, bool) {
	if r.BackendID == nil {
		return id.BackendID{}, false
	}
	return id.BackendID(*r.BackendID), true
}

// HostTyped returns the typed host agent id, with ok=false when unset.
func (r Room) HostTyped() (id.AgentID, bool) {
	if r.Host == nil {
		return id.AgentID{}, false
	}
	return id.AgentID(*r.Host), true
}
