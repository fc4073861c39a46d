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

// TimeRequirement is the closed set of time-phase preconditions a handler
// can declare on its target room (spec §4.2).
type TimeRequirement int

const (
	// Any accepts the room regardless of phase.
	Any TimeRequirement = iota
	// NotClosed accepts not-yet-opened or open rooms.
	NotClosed
	// Open accepts only rooms currently in their open phase.
	Open
)

// MaxWebinarDuration is the fallback end-of-time guard applied to an
// unbounded room on its first RTC creation (spec §4.2).
const MaxWebinarDuration = 6 * time.Hour

func (db *DB) InsertRoom(ctx context.Context, r *Room) error {
	r.ID = uuid.New()
	return db.WithContext(ctx).Create(r).Error
}

func (db *DB) GetRoom(ctx context.Context, roomID id.RoomID) (*Room, error) {
	var r Room
	err := db.WithContext(ctx).First(&r, "id = ?", uuid.UUID(roomID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindRoomNotFound, roomID.String())
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &r, nil
}

// RequireRoom loads the room and enforces a time requirement, the single
// chokepoint that replaces ad-hoc phase checks throughout handlers (spec
// §4.2). A mismatch yields room_closed if the room already ended,
// room_not_found if the row is absent.
func (db *DB) RequireRoom(ctx context.Context, roomID id.RoomID, req TimeRequirement, now time.Time) (*Room, error) {
	r, err := db.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	phase := roomPhase(*r, now)
	switch req {
	case Any:
		return r, nil
	case NotClosed:
		if phase == phaseClosed {
			return nil, apperr.New(apperr.KindRoomClosed, roomID.String())
		}
		return r, nil
	case Open:
		if phase != phaseOpen {
			return nil, apperr.New(apperr.KindRoomClosed, roomID.String())
		}
		return r, nil
	}
	return r, nil
}

type roomPhaseKind int

const (
	phaseNotYetOpened roomPhaseKind = iota
	phaseOpen
	phaseClosed
)

func roomPhase(r Room, now time.Time) roomPhaseKind {
	if r.ClosedBy != nil || r.TimedOut {
		return phaseClosed
	}
	iv := r.Interval()
	if r.Infinite {
		if iv.NotStarted(now) {
			return phaseNotYetOpened
		}
		return phaseOpen
	}
	if iv.Ended(now) {
		return phaseClosed
	}
	if iv.NotStarted(now) {
		return phaseNotYetOpened
	}
	return phaseOpen
}

// UpdateRoom applies a partial update under the §4.2 constraints: the
// start is pinned once the room has opened; reducing end below now is
// coerced to now and treated as an explicit closure, running the same
// disconnect/stop-stream/orphan-clear side effects as CloseRoom in the
// same transaction (spec §4.2 scenario 5); rtc_sharing_policy is
// immutable after creation. The returned bool reports whether this call
// performed a closure, so the caller can request upload and broadcast
// room.close exactly once.
func (db *DB) UpdateRoom(ctx context.Context, roomID id.RoomID, newStart, newEnd *time.Time, now time.Time) (*Room, bool, error) {
	var closed bool
	var result Room

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Room
		if err := tx.Clauses().First(&r, "id = ?", uuid.UUID(roomID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindRoomNotFound, roomID.String())
			}
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}

		if roomPhase(r, now) == phaseClosed {
			return apperr.New(apperr.KindRoomClosed, roomID.String())
		}

		if newStart != nil {
			if roomPhase(r, now) == phaseOpen {
				return apperr.New(apperr.KindRoomTimeChangingForbidden, "start is pinned once the room has opened")
			}
			if err := tx.Model(&Room{}).Where("id = ?", uuid.UUID(roomID)).Update("time_start", *newStart).Error; err != nil {
				return apperr.Wrap(apperr.KindDBQueryFailed, err)
			}
		}

		if newEnd != nil {
			end := *newEnd
			if !end.After(now) {
				if err := closeRoomTx(tx, roomID, nil, false, now); err != nil {
					return err
				}
				closed = true
			} else if err := tx.Model(&Room{}).Where("id = ?", uuid.UUID(roomID)).Update("time_end", end).Error; err != nil {
				return apperr.Wrap(apperr.KindDBQueryFailed, err)
			}
		}

		if err := tx.First(&result, "id = ?", uuid.UUID(roomID)).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, closed, nil
}

// BindBackend monotonically sets room.backend_id in the same transaction
// that inserts the room's first Recording row (spec §4.1). The binding
// never changes once set.
func (db *DB) BindBackend(ctx context.Context, roomID id.RoomID, backendID id.BackendID, rtcID id.RtcID, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Room
		if err := tx.Clauses().First(&r, "id = ?", uuid.UUID(roomID)).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		if r.BackendID == nil {
			bid := uuid.UUID(backendID)
			if err := tx.Model(&Room{}).Where("id = ? AND backend_id IS NULL", uuid.UUID(roomID)).
				Update("backend_id", bid).Error; err != nil {
				return apperr.Wrap(apperr.KindDBQueryFailed, err)
			}
		}

		rec := Recording{RtcID: uuid.UUID(rtcID), Status: RecordingStatusInProgress, StartedAt: &now}
		if err := tx.Clauses().Create(&rec).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		return nil
	})
}

// closeRoomTx applies the room.close side effects within an existing
// transaction: marks the room closed, disconnects all agents, stops any
// still-publishing streams, and clears the orphan marker. Shared by
// CloseRoom and UpdateRoom's closure-coercion path so both exercise the
// exact same invariant (spec §4.2 closure triggers).
func closeRoomTx(tx *gorm.DB, roomID id.RoomID, closedBy *id.AgentID, timedOut bool, now time.Time) error {
	updates := map[string]any{"time_end": now}
	if closedBy != nil {
		cb := uuid.UUID(*closedBy)
		updates["closed_by"] = cb
	}
	if timedOut {
		updates["timed_out"] = true
	}
	if err := tx.Model(&Room{}).Where("id = ?", uuid.UUID(roomID)).Updates(updates).Error; err != nil {
		return apperr.Wrap(apperr.KindDBQueryFailed, err)
	}

	if err := tx.Where("room_id = ?", uuid.UUID(roomID)).Delete(&Agent{}).Error; err != nil {
		return apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	if err := tx.Where("room_id = ?", uuid.UUID(roomID)).Delete(&AgentConnection{}).Error; err != nil {
		return apperr.Wrap(apperr.KindDBQueryFailed, err)
	}

	var rtcIDs []uuid.UUID
	if err := tx.Model(&Rtc{}).Where("room_id = ?", uuid.UUID(roomID)).Pluck("id", &rtcIDs).Error; err != nil {
		return apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	if len(rtcIDs) > 0 {
		if err := tx.Model(&JanusRtcStream{}).
			Where("rtc_id IN ? AND time_end IS NULL", rtcIDs).
			Update("time_end", now).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
	}

	if err := tx.Where("room_id = ?", uuid.UUID(roomID)).Delete(&OrphanedRoom{}).Error; err != nil {
		return apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// CloseRoom idempotently closes a room: marks it closed, disconnects all
// agents, stops active streams, and clears the orphan marker. Returns
// true if this call performed the closure (exactly-once room.close
// semantics, spec §4.2). Recording upload is requested by the caller
// (vacuum.Service.RequestUploadForRoom) once didClose is true, so every
// closure path — orphan vacuum, room.update coercion — drives upload the
// same way.
func (db *DB) CloseRoom(ctx context.Context, roomID id.RoomID, closedBy *id.AgentID, timedOut bool, now time.Time) (bool, error) {
	var didClose bool

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Room
		if err := tx.Clauses().First(&r, "id = ?", uuid.UUID(roomID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindRoomNotFound, roomID.String())
			}
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}

		if roomPhase(r, now) == phaseClosed {
			return nil // idempotent: already closed, no-op
		}

		if err := closeRoomTx(tx, roomID, closedBy, timedOut, now); err != nil {
			return err
		}

		didClose = true
		return nil
	})

	return didClose, err
}

// DisconnectRoomForVacuum deletes every Agent row (and, transitively,
// their AgentConnections) for roomID in one transaction, the first step
// of the upload vacuum's per-room pass (spec §4.6).
func (db *DB) DisconnectRoomForVacuum(ctx context.Context, roomID id.RoomID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", uuid.UUID(roomID)).Delete(&Agent{}).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		if err := tx.Where("room_id = ?", uuid.UUID(roomID)).Delete(&AgentConnection{}).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		return nil
	})
}

// RoomsAwaitingUpload returns every closed room with at least one
// in_progress recording (spec §4.6 vacuum candidate set).
func (db *DB) RoomsAwaitingUpload(ctx context.Context, now time.Time) ([]Room, error) {
	var rooms []Room
	err := db.WithContext(ctx).
		Joins("JOIN rtc ON rtc.room_id = room.id").
		Joins("JOIN recording ON recording.rtc_id = rtc.id").
		Where("recording.status = ?", RecordingStatusInProgress).
		Where("room.time_end IS NOT NULL AND room.time_end <= ?", now).
		Distinct().
		Find(&rooms).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return rooms, nil
}

// TimedOutOrphans returns orphan rooms whose host left more than
// threshold ago (spec §4.2, §4.6).
func (db *DB) TimedOutOrphans(ctx context.Context, now time.Time, threshold time.Duration) ([]OrphanedRoom, error) {
	var rows []OrphanedRoom
	cutoff := now.Add(-threshold)
	err := db.WithContext(ctx).Where("host_left_at <= ?", cutoff).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return rows, nil
}

// MarkOrphan inserts or refreshes the orphan marker for a room whose host
// just left (spec §4.2).
func (db *DB) MarkOrphan(ctx context.Context, roomID id.RoomID, now time.Time) error {
	return db.WithContext(ctx).
		Exec(`INSERT INTO orphaned_room (room_id, host_left_at) VALUES (?, ?)
		      ON CONFLICT (room_id) DO UPDATE SET host_left_at = EXCLUDED.host_left_at`,
			uuid.UUID(roomID), now).Error
}

// ClearOrphan removes the orphan marker, e.g. when the host re-enters
// before the threshold (spec §4.2).
func (db *DB) ClearOrphan(ctx context.Context, roomID id.RoomID) error {
	return db.WithContext(ctx).Where("room_id = ?", uuid.UUID(roomID)).Delete(&OrphanedRoom{}).Error
}

// armMaxDurationTx sets roomID's end to start + MaxWebinarDuration within
// an existing transaction, only if still unbounded (spec §4.2). Shared by
// CreateRtc (which already has start in hand from its own room load) and
// the standalone ArmMaxDuration.
func armMaxDurationTx(tx *gorm.DB, roomID id.RoomID, start time.Time) error {
	if err := tx.Model(&Room{}).
		Where("id = ? AND time_end IS NULL AND NOT infinite", uuid.UUID(roomID)).
		Update("time_end", start.Add(MaxWebinarDuration)).Error; err != nil {
		return apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// ArmMaxDuration sets an unbounded room's end to start + MaxWebinarDuration
// on first RTC creation (spec §4.2), only if still unbounded.
func (db *DB) ArmMaxDuration(ctx context.Context, roomID id.RoomID) error {
	r, err := db.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.TimeStart == nil {
		return nil
	}
	return armMaxDurationTx(db.WithContext(ctx), roomID, *r.TimeStart)
}
