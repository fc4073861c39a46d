package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/google/uuid"
)

// Group is one integer-numbered bucket of agent ids inside a room. Group
// 0 is the default/landing group (spec §3).
type Group struct {
	Number int          `json:"number"`
	Agents []uuid.UUID  `json:"agents"`
}

// GroupList is the jsonb-backed array of Group rows.
type GroupList []Group

func (g GroupList) Value() (driver.Value, error) {
	if g == nil {
		return "[]", nil
	}
	return json.Marshal(g)
}

func (g *GroupList) Scan(value any) error {
	if value == nil {
		*g = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("GroupList: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, g)
}

// GroupAgent is the per-room partitioning of agents into groups (spec §3).
// One row per room.
type GroupAgent struct {
	RoomID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Groups GroupList `gorm:"type:jsonb"`
}

func (GroupAgent) TableName() string { return "group_agent" }

func (g GroupAgent) RoomIDTyped() id.RoomID { return id.RoomID(g.RoomID) }

// GroupsOf returns every group number a holds, in the order the groups
// appear in g.Groups.
func (g GroupAgent) GroupsOf(a id.AgentID) []int {
	var out []int
	for _, grp := range g.Groups {
		for _, member := range grp.Agents {
			if member == uuid.UUID(a) {
				out = append(out, grp.Number)
				break
			}
		}
	}
	return out
}
