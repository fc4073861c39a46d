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

// UpsertBackend registers or refreshes a backend's service session/handle
// on a backend.online event (spec §4.7). Capacity, balancer capacity and
// group are always replaced by the values in b, nil included.
func (db *DB) UpsertBackend(ctx context.Context, b *JanusBackend, now time.Time) error {
	b.CreatedAt = now
	return db.WithContext(ctx).Exec(
		`INSERT INTO janus_backend (id, session_id, handle_id, janus_url, capacity, balancer_capacity, "group", api_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   session_id = EXCLUDED.session_id,
		   handle_id = EXCLUDED.handle_id,
		   janus_url = EXCLUDED.janus_url,
		   capacity = EXCLUDED.capacity,
		   balancer_capacity = EXCLUDED.balancer_capacity,
		   "group" = EXCLUDED."group",
		   api_version = EXCLUDED.api_version`,
		b.ID, b.SessionID, b.HandleID, b.JanusURL, b.Capacity, b.BalancerCapacity, b.Group, b.APIVersion, b.CreatedAt).Error
}

// DeleteBackend removes the registry row on backend.offline, cascading to
// every active stream and agent connection hosted on it (spec §4.7).
func (db *DB) DeleteBackend(ctx context.Context, backendID id.BackendID, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&JanusRtcStream{}).
			Where("backend_id = ? AND time_end IS NULL", uuid.UUID(backendID)).
			Update("time_end", now).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		if err := tx.Where("room_id IN (?)", tx.Model(&Room{}).Select("id").Where("backend_id = ?", uuid.UUID(backendID))).
			Delete(&AgentConnection{}).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		if err := tx.Where("id = ?", uuid.UUID(backendID)).Delete(&JanusBackend{}).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		return nil
	})
}

func (db *DB) GetBackend(ctx context.Context, backendID id.BackendID) (*JanusBackend, error) {
	var b JanusBackend
	err := db.WithContext(ctx).First(&b, "id = ?", uuid.UUID(backendID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNoAvailableBackends, backendID.String())
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &b, nil
}

// ListBackendsInGroup returns every registered backend that serves group
// (or every backend when group is empty), the candidate set the
// placement algorithm ranks (spec §4.1).
func (db *DB) ListBackendsInGroup(ctx context.Context, group string) ([]JanusBackend, error) {
	q := db.WithContext(ctx)
	if group != "" {
		q = q.Where(`"group" = ?`, group)
	}
	var out []JanusBackend
	if err := q.Find(&out).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

// CountBackends returns how many backends are currently registered,
// the readiness probe's signal that at least one Janus backend is
// reachable (spec §4.7).
func (db *DB) CountBackends(ctx context.Context) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&JanusBackend{}).Count(&count).Error; err != nil {
		return 0, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return count, nil
}

// ActiveRoomsByBackend returns every room currently bound to backendID
// that has not yet closed, the set the load model sums over (spec §4.1).
func (db *DB) ActiveRoomsByBackend(ctx context.Context, backendID id.BackendID, now time.Time) ([]Room, error) {
	var rooms []Room
	err := db.WithContext(ctx).
		Where("backend_id = ? AND (time_end IS NULL OR time_end > ?)", uuid.UUID(backendID), now).
		Find(&rooms).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return rooms, nil
}

// takenRow is one (connection, its rtc's configured video_remb) pair.
type takenRow struct {
	VideoRemb *int64
}

// TakenLoadForRoom sums max(1, video_remb_MBits) over every active
// agent_connection in roomID, defaulting to 1 Mbit/s when the
// connection's rtc has no writer config yet (spec §4.1).
func (db *DB) TakenLoadForRoom(ctx context.Context, roomID id.RoomID) (int64, error) {
	var rows []takenRow
	err := db.WithContext(ctx).Table("agent_connection").
		Select("rtc_writer_config.video_remb as video_remb").
		Joins("JOIN rtc ON rtc.id = agent_connection.rtc_id").
		Joins("LEFT JOIN rtc_writer_config ON rtc_writer_config.rtc_id = rtc.id").
		Where("rtc.room_id = ?", uuid.UUID(roomID)).
		Scan(&rows).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}

	var total int64
	for _, r := range rows {
		remb := int64(1)
		if r.VideoRemb != nil {
			if mbits := *r.VideoRemb / 1_000_000; mbits > 1 {
				remb = mbits
			}
		}
		total += remb
	}
	return total, nil
}

func (db *DB) InsertStream(ctx context.Context, s *JanusRtcStream, now time.Time) error {
	s.ID = uuid.New()
	s.CreatedAt = now
	return db.WithContext(ctx).Create(s).Error
}

func (db *DB) StartStream(ctx context.Context, streamID uuid.UUID, now time.Time) error {
	return db.WithContext(ctx).Model(&JanusRtcStream{}).
		Where("id = ? AND time_start IS NULL", streamID).
		Update("time_start", now).Error
}

func (db *DB) StopStream(ctx context.Context, streamID uuid.UUID, now time.Time) error {
	return db.WithContext(ctx).Model(&JanusRtcStream{}).
		Where("id = ? AND time_end IS NULL", streamID).
		Update("time_end", now).Error
}

func (db *DB) ActiveStreamByHandle(ctx context.Context, handleID int64) (*JanusRtcStream, error) {
	var s JanusRtcStream
	err := db.WithContext(ctx).Where("handle_id = ? AND time_end IS NULL", handleID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &s, nil
}

// ActiveStreamsByBackend snapshots every still-publishing stream hosted on
// backendID, taken before DeleteBackend closes them out, so the caller can
// broadcast rtc_stream.update for each one (spec §4.7).
func (db *DB) ActiveStreamsByBackend(ctx context.Context, backendID id.BackendID) ([]JanusRtcStream, error) {
	var out []JanusRtcStream
	err := db.WithContext(ctx).
		Where("backend_id = ? AND time_end IS NULL", uuid.UUID(backendID)).
		Find(&out).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

func (db *DB) ActiveStreamsByRtc(ctx context.Context, rtcID id.RtcID) ([]JanusRtcStream, error) {
	var out []JanusRtcStream
	err := db.WithContext(ctx).Where("rtc_id = ? AND time_end IS NULL", uuid.UUID(rtcID)).Find(&out).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}
