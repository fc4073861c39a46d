package store

import (
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// JanusBackend is a registered media server instance (spec §3). Its
// presence is authoritative: absence of the row means offline.
type JanusBackend struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID         int64
	HandleID          int64
	JanusURL          string
	Capacity          *int32
	BalancerCapacity  *int32
	Group             *string `gorm:"index"`
	APIVersion        string
	CreatedAt         time.Time
}

func (JanusBackend) TableName() string { return "janus_backend" }

func (b JanusBackend) BackendIDTyped() id.BackendID   { return id.BackendID(b.ID) }
func (b JanusBackend) SessionIDTyped() id.SessionID   { return id.SessionID(b.SessionID) }
func (b JanusBackend) ServiceHandleTyped() id.HandleID { return id.HandleID(b.HandleID) }

// JanusRtcStream is a publisher stream instance on a backend (spec §3).
type JanusRtcStream struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	HandleID  int64
	RtcID     uuid.UUID `gorm:"type:uuid;index"`
	BackendID uuid.UUID `gorm:"type:uuid;index"`
	Label     string
	SentBy    uuid.UUID `gorm:"type:uuid"`
	TimeStart *time.Time
	TimeEnd   *time.Time
	CreatedAt time.Time
}

func (JanusRtcStream) TableName() string { return "janus_rtc_stream" }

func (s JanusRtcStream) RtcIDTyped() id.RtcID         { return id.RtcID(s.RtcID) }
func (s JanusRtcStream) BackendIDTyped() id.BackendID { return id.BackendID(s.BackendID) }
func (s JanusRtcStream) SentByTyped() id.AgentID      { return id.AgentID(s.SentBy) }

// Interval returns the stream's open-while-publishing time range.
func (s JanusRtcStream) Interval() Interval {
	var iv Interval
	if s.TimeStart != nil {
		iv.Start = *s.TimeStart
	}
	if s.TimeEnd != nil {
		iv.End = *s.TimeEnd
	}
	return iv
}

// Started reports whether the stream has an open-or-closed start, i.e.
// actually started publishing at some point.
func (s JanusRtcStream) Started() bool { return s.TimeStart != nil }
