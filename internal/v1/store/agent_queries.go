package store

import (
	"context"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EnterRoom upserts the agent's presence row to in_progress. The caller
// is expected to transition it to ready/connected once the broker
// dynamic subscription is confirmed (spec §4.2, component 8).
func (db *DB) EnterRoom(ctx context.Context, roomID id.RoomID, agentID id.AgentID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO agent (id, agent_id, room_id, status, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT ON CONSTRAINT agent_room DO UPDATE SET status = EXCLUDED.status`,
		uuid.New(), uuid.UUID(agentID), uuid.UUID(roomID), AgentStatusInProgress, now).Error
}

func (db *DB) SetAgentStatus(ctx context.Context, roomID id.RoomID, agentID id.AgentID, status AgentStatus) error {
	return db.WithContext(ctx).Model(&Agent{}).
		Where("room_id = ? AND agent_id = ?", uuid.UUID(roomID), uuid.UUID(agentID)).
		Update("status", status).Error
}

// LeaveRoom removes the agent's presence row. Returns true if this was
// the room's host, so the caller can arm the orphan timer (spec §4.2).
func (db *DB) LeaveRoom(ctx context.Context, roomID id.RoomID, agentID id.AgentID) (wasHost bool, err error) {
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Room
		if dbErr := tx.First(&r, "id = ?", uuid.UUID(roomID)).Error; dbErr != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, dbErr)
		}
		wasHost = r.Host != nil && *r.Host == uuid.UUID(agentID)

		if dbErr := tx.Where("room_id = ? AND agent_id = ?", uuid.UUID(roomID), uuid.UUID(agentID)).
			Delete(&Agent{}).Error; dbErr != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, dbErr)
		}
		if dbErr := tx.Where("room_id = ? AND agent_id = ?", uuid.UUID(roomID), uuid.UUID(agentID)).
			Delete(&AgentConnection{}).Error; dbErr != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, dbErr)
		}
		return nil
	})
	return wasHost, err
}

func (db *DB) AgentPresent(ctx context.Context, roomID id.RoomID, agentID id.AgentID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Agent{}).
		Where("room_id = ? AND agent_id = ?", uuid.UUID(roomID), uuid.UUID(agentID)).
		Count(&count).Error
	if err != nil {
		return false, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return count > 0, nil
}

func (db *DB) CountAgents(ctx context.Context, roomID id.RoomID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Agent{}).Where("room_id = ?", uuid.UUID(roomID)).Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return count, nil
}

// UpsertConnection records the agent's handle binding for an rtc, used to
// resolve inbound Janus plugin events back to (agent, room, rtc) (spec
// §4.7).
func (db *DB) UpsertConnection(ctx context.Context, roomID id.RoomID, agentID id.AgentID, rtcID id.RtcID, handleID int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO agent_connection (id, agent_id, room_id, rtc_id, handle_id, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT ON CONSTRAINT agentconn_agent_rtc DO UPDATE SET handle_id = EXCLUDED.handle_id`,
		uuid.New(), uuid.UUID(agentID), uuid.UUID(roomID), uuid.UUID(rtcID), handleID, now).Error
}

// ConnectAgent performs the rtc.connect transactional write (spec §4.4
// step "f"): writes the AgentConnection row and flips the agent's status
// to connected, atomically.
func (db *DB) ConnectAgent(ctx context.Context, roomID id.RoomID, agentID id.AgentID, rtcID id.RtcID, handleID int64, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO agent_connection (id, agent_id, room_id, rtc_id, handle_id, created_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT ON CONSTRAINT agentconn_agent_rtc DO UPDATE SET handle_id = EXCLUDED.handle_id`,
			uuid.New(), uuid.UUID(agentID), uuid.UUID(roomID), uuid.UUID(rtcID), handleID, now).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		if err := tx.Model(&Agent{}).
			Where("room_id = ? AND agent_id = ?", uuid.UUID(roomID), uuid.UUID(agentID)).
			Update("status", AgentStatusConnected).Error; err != nil {
			return apperr.Wrap(apperr.KindDBQueryFailed, err)
		}
		return nil
	})
}

// ListConnectionsByRoom returns every agent_connection currently open in
// roomID. The cascade-disconnect path on publisher hangup (spec §4.4
// step 3) uses DeleteConnectionsByRoom instead, and backend-offline
// ingress (spec §4.7) uses DeleteBackend.
func (db *DB) ListConnectionsByRoom(ctx context.Context, roomID id.RoomID) ([]AgentConnection, error) {
	var out []AgentConnection
	err := db.WithContext(ctx).Where("room_id = ?", uuid.UUID(roomID)).Find(&out).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return out, nil
}

func (db *DB) FindConnectionByHandle(ctx context.Context, handleID int64) (*AgentConnection, error) {
	var c AgentConnection
	err := db.WithContext(ctx).First(&c, "handle_id = ?", handleID).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDBQueryFailed, err)
	}
	return &c, nil
}

func (db *DB) DeleteConnectionsByRoom(ctx context.Context, roomID id.RoomID) error {
	return db.WithContext(ctx).Where("room_id = ?", uuid.UUID(roomID)).Delete(&AgentConnection{}).Error
}
