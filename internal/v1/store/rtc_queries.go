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

// InsertRtc creates an rtc row. Under SharingPolicy owned, at most one rtc
// per (room, created_by) is allowed; callers enforce that via
// RtcOwnedByExists before calling this (spec §4.2).
func (db *DB) InsertRtc(ctx context.Context, r *Rtc) error {
	r.ID = uuid.New()
	return db.WithContext(ctx).Create(r).Error
}

// CreateRtc implements rtc.create end to end in one transaction (spec
// §4.2): the room must be Open, the owned/shared at-most-one-RTC
// constraint is enforced, the row is inserted, and an unbounded room's
// first RTC arms its end at start+MaxWebinarDuration.
func (db *DB) CreateRtc(ctx context.Context, roomID id.RoomID, createdBy id.AgentID, now time.Time) (*Rtc, error) {
	var result Rtc

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room Room
		if err := tx.Clauses().First(&room, "id = ?", uuid.UUID(roomID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindRoomNotFound, roomID.String())
			}
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		if roomPhase(room, now) != phaseOpen {
			return apperr.New(apperr.KindRoomClosed, roomID.String())
		}

		var existingCount int64
		if err := tx.Model(&Rtc{}).Where("room_id = ?", uuid.UUID(roomID)).Count(&existingCount).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}

		switch room.RtcSharingPolicy {
		case SharingPolicyShared:
			if existingCount > 0 {
				return apperr.New(apperr.KindInvalidPayload, "shared room already has an rtc")
			}
		case SharingPolicyOwned:
			var ownedCount int64
			if err := tx.Model(&Rtc{}).
				Where("room_id = ? AND created_by = ?", uuid.UUID(roomID), uuid.UUID(createdBy)).
				Count(&ownedCount).Error; err != nil {
				return apperr.Wrap(apperr.KindDBQueryFailed, err)
			}
			if ownedCount > 0 {
				return apperr.New(apperr.KindInvalidPayload, "agent already owns an rtc in this room")
			}
		}

		rtc := Rtc{ID: uuid.New(), RoomID: uuid.UUID(roomID), CreatedBy: uuid.UUID(createdBy), CreatedAt: now}
		if err := tx.Clauses().Create(&rtc).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}

		if existingCount == 0 && room.TimeStart != nil {
			if err := armMaxDurationTx(tx, roomID, *room.TimeStart); err != nil {
				return err
			}
		}

		result = rtc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (db *DB) GetRtc(ctx context.Context, rtcID id.RtcID) (*Rtc, error) {
	var r Rtc
	err := db.WithContext(ctx).First(&r, "id = ?", uuid.UUID(rtcID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindRtcNotFound, rtcID.String())
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &r, nil
}

func (db *DB) RtcOwnedByExists(ctx context.Context, roomID id.RoomID, createdBy id.AgentID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Rtc{}).
		Where("room_id = ? AND created_by = ?", uuid.UUID(roomID), uuid.UUID(createdBy)).
		Count(&count).Error
	if err != nil {
		return false, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return count > 0, nil
}

func (db *DB) ListRtcsByRoom(ctx context.Context, roomID id.RoomID) ([]Rtc, error) {
	var out []Rtc
	err := db.WithContext(ctx).Where("room_id = ?", uuid.UUID(roomID)).Find(&out).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}
