package store

import (
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// RtcReaderConfig holds per-(rtc, reader) flags. Default when absent:
// both true (spec §3).
type RtcReaderConfig struct {
	RtcID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReaderID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReceiveVideo bool
	ReceiveAudio bool
	UpdatedAt    time.Time
}

func (RtcReaderConfig) TableName() string { return "rtc_reader_config" }

func (c RtcReaderConfig) RtcIDTyped() id.RtcID       { return id.RtcID(c.RtcID) }
func (c RtcReaderConfig) ReaderIDTyped() id.AgentID { return id.AgentID(c.ReaderID) }

// RtcWriterConfig holds per-rtc publisher flags (spec §3).
type RtcWriterConfig struct {
	RtcID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	SendVideo          bool
	SendAudio          bool
	VideoRemb          *int64
	SendAudioUpdatedBy *uuid.UUID `gorm:"type:uuid"`
	UpdatedAt          time.Time
	UpdatedAtNs        int64
}

func (RtcWriterConfig) TableName() string { return "rtc_writer_config" }

func (c RtcWriterConfig) RtcIDTyped() id.RtcID { return id.RtcID(c.RtcID) }

// RtcWriterConfigSnapshot is an append-only history row of writer-config
// changes (spec §3).
type RtcWriterConfigSnapshot struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RtcID     uuid.UUID `gorm:"type:uuid;index"`
	SendVideo *bool
	SendAudio *bool
	CreatedAt time.Time
}

func (RtcWriterConfigSnapshot) TableName() string { return "rtc_writer_config_snapshot" }

func (s RtcWriterConfigSnapshot) RtcIDTyped() id.RtcID { return id.RtcID(s.RtcID) }
