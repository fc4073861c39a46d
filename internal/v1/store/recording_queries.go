package store

import (
	"context"
	"errors"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EnsureRecording idempotently inserts an in_progress recording row for
// rtcID if one does not already exist. Used on every first write-connect
// to an RTC that did not itself trigger placement (spec §4.4 step 1,
// "Recording(rtc_id, status=in_progress) is inserted transactionally").
func (db *DB) EnsureRecording(ctx context.Context, rtcID id.RtcID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO recording (rtc_id, status, started_at) VALUES (?, ?, ?)
		 ON CONFLICT (rtc_id) DO NOTHING`,
		uuid.UUID(rtcID), RecordingStatusInProgress, now).Error
}

// InProgressRecordingsForRoom lists every still-in_progress recording
// belonging to roomID, the set the upload vacuum requests from the
// backend (spec §4.6).
func (db *DB) InProgressRecordingsForRoom(ctx context.Context, roomID id.RoomID) ([]Recording, error) {
	var out []Recording
	err := db.WithContext(ctx).
		Joins("JOIN rtc ON rtc.id = recording.rtc_id").
		Where("rtc.room_id = ? AND recording.status = ?", uuid.UUID(roomID), RecordingStatusInProgress).
		Find(&out).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

func (db *DB) GetRecording(ctx context.Context, rtcID id.RtcID) (*Recording, error) {
	var r Recording
	err := db.WithContext(ctx).First(&r, "rtc_id = ?", uuid.UUID(rtcID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &r, nil
}

// CompleteRecording marks an uploaded recording ready with its final
// segment list and dump URIs (spec §4.6).
func (db *DB) CompleteRecording(ctx context.Context, rtcID id.RtcID, segments JSONSegments, dumpURIs JSONStrings) error {
	return db.WithContext(ctx).Model(&Recording{}).
		Where("rtc_id = ?", uuid.UUID(rtcID)).
		Updates(map[string]any{
			"status":         RecordingStatusReady,
			"segments":       segments,
			"mjr_dumps_uris": dumpURIs,
		}).Error
}

// MarkRecordingMissing flags a recording that could not be produced, e.g.
// the stream never started publishing (spec §4.6).
func (db *DB) MarkRecordingMissing(ctx context.Context, rtcID id.RtcID) error {
	return db.WithContext(ctx).Model(&Recording{}).
		Where("rtc_id = ?", uuid.UUID(rtcID)).
		Update("status", RecordingStatusMissing).Error
}
