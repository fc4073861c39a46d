package store

import (
	"context"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxConfigBatch is the upper bound on items accepted by a single
// reader/writer config update request (spec §4.3).
const MaxConfigBatch = 20

// ReaderConfigItem is one (reader, flags) entry of a batched update.
type ReaderConfigItem struct {
	ReaderID     id.AgentID
	ReceiveVideo bool
	ReceiveAudio bool
}

// UpsertReaderConfigs batch-upserts reader config rows for rtcID. The
// batch size is validated by the caller against MaxConfigBatch (spec
// §4.3).
func (db *DB) UpsertReaderConfigs(ctx context.Context, rtcID id.RtcID, items []ReaderConfigItem, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			if err := tx.Exec(
				`INSERT INTO rtc_reader_config (rtc_id, reader_id, receive_video, receive_audio, updated_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (rtc_id, reader_id) DO UPDATE SET
				   receive_video = EXCLUDED.receive_video,
				   receive_audio = EXCLUDED.receive_audio,
				   updated_at = EXCLUDED.updated_at`,
				uuid.UUID(rtcID), uuid.UUID(it.ReaderID), it.ReceiveVideo, it.ReceiveAudio, now).Error; err != nil {
				return apperr.Wrap(apperr.KindDBQueryFailed, err)
			}
		}
		return nil
	})
}

func (db *DB) ReaderConfig(ctx context.Context, rtcID id.RtcID, readerID id.AgentID) (*RtcReaderConfig, error) {
	var c RtcReaderConfig
	err := db.WithContext(ctx).First(&c, "rtc_id = ? AND reader_id = ?", uuid.UUID(rtcID), uuid.UUID(readerID)).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &c, nil
}

func (db *DB) ListReaderConfigs(ctx context.Context, rtcID id.RtcID) ([]RtcReaderConfig, error) {
	var out []RtcReaderConfig
	err := db.WithContext(ctx).Where("rtc_id = ?", uuid.UUID(rtcID)).Find(&out).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// UpdateWriterConfig upserts the writer config and, when send_video or
// send_audio actually changes, appends a snapshot row in the same
// transaction (spec §4.3).
func (db *DB) UpdateWriterConfig(ctx context.Context, rtcID id.RtcID, sendVideo, sendAudio bool, videoRemb *int64, updatedBy *id.AgentID, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev RtcWriterConfig
		hadPrev := tx.First(&prev, "rtc_id = ?", uuid.UUID(rtcID)).Error == nil

		var updatedByCol any
		if updatedBy != nil {
			u := uuid.UUID(*updatedBy)
			updatedByCol = u
		}

		if err := tx.Exec(
			`INSERT INTO rtc_writer_config (rtc_id, send_video, send_audio, video_remb, send_audio_updated_by, updated_at, updated_at_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (rtc_id) DO UPDATE SET
			   send_video = EXCLUDED.send_video,
			   send_audio = EXCLUDED.send_audio,
			   video_remb = EXCLUDED.video_remb,
			   send_audio_updated_by = EXCLUDED.send_audio_updated_by,
			   updated_at = EXCLUDED.updated_at,
			   updated_at_ns = EXCLUDED.updated_at_ns`,
			uuid.UUID(rtcID), sendVideo, sendAudio, videoRemb, updatedByCol, now, now.UnixNano()).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}

		changed := !hadPrev || prev.SendVideo != sendVideo || prev.SendAudio != sendAudio
		if changed {
			snap := RtcWriterConfigSnapshot{
				ID:        uuid.New(),
				RtcID:     uuid.UUID(rtcID),
				SendVideo: &sendVideo,
				SendAudio: &sendAudio,
				CreatedAt: now,
			}
			if err := tx.Create(&snap).Error; err != nil {
				return apperr.Wrap(apperr.KindDBQueryFailed, err)
			}
		}
		return nil
	})
}

func (db *DB) WriterConfig(ctx context.Context, rtcID id.RtcID) (*RtcWriterConfig, error) {
	var c RtcWriterConfig
	err := db.WithContext(ctx).First(&c, "rtc_id = ?", uuid.UUID(rtcID)).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &c, nil
}
