package store

import (
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// RecordingStatus is the lifecycle of a per-RTC recording.
type RecordingStatus string

const (
	RecordingStatusInProgress RecordingStatus = "in_progress"
	RecordingStatusReady      RecordingStatus = "ready"
	RecordingStatusMissing    RecordingStatus = "missing"
)

// Segment is a half-open millisecond interval within a recording.
type Segment struct {
	Lo int64 `json:"lo"`
	Hi int64 `json:"hi"`
}

// Recording is the per-RTC recording descriptor (spec §3). RtcID is the
// primary key: at most one recording row per RTC.
type Recording struct {
	RtcID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status       RecordingStatus
	StartedAt    *time.Time
	Segments     JSONSegments `gorm:"type:jsonb"`
	MjrDumpsURIs JSONStrings  `gorm:"type:jsonb"`
}

func (Recording) TableName() string { return "recording" }

func (r Recording) RtcIDTyped() id.RtcID { return id.RtcID(r.RtcID) }
