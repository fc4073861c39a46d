package store

import (
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// AgentStatus is the presence state of an Agent row.
type AgentStatus string

const (
	AgentStatusInProgress AgentStatus = "in_progress"
	AgentStatusReady      AgentStatus = "ready"
	AgentStatusConnected  AgentStatus = "connected"
)

// Agent is a participant currently attached to a room from the signaling
// side (spec §3). (agent_id, room_id) is unique.
type Agent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AgentID   uuid.UUID `gorm:"type:uuid;uniqueIndex:agent_room"`
	RoomID    uuid.UUID `gorm:"type:uuid;uniqueIndex:agent_room"`
	Status    AgentStatus
	CreatedAt time.Time
}

func (Agent) TableName() string { return "agent" }

func (a Agent) AgentIDTyped() id.AgentID { return id.AgentID(a.AgentID) }
func (a Agent) RoomIDTyped() id.RoomID   { return id.RoomID(a.RoomID) }

// AgentConnection is the media-plane presence of an agent on a specific
// Rtc (spec §3). (agent_id, rtc_id) is unique.
type AgentConnection struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AgentID   uuid.UUID `gorm:"type:uuid;uniqueIndex:agentconn_agent_rtc"`
	RoomID    uuid.UUID `gorm:"type:uuid;index"`
	RtcID     uuid.UUID `gorm:"type:uuid;uniqueIndex:agentconn_agent_rtc;index"`
	HandleID  int64
	CreatedAt time.Time
}

func (AgentConnection) TableName() string { return "agent_connection" }

func (c AgentConnection) AgentIDTyped() id.AgentID    { return id.AgentID(c.AgentID) }
func (c AgentConnection) RoomIDTyped() id.RoomID      { return id.RoomID(c.RoomID) }
func (c AgentConnection) RtcIDTyped() id.RtcID        { return id.RtcID(c.RtcID) }
func (c AgentConnection) HandleIDTyped() id.HandleID  { return id.HandleID(c.HandleID) }
