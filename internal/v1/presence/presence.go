// Package presence implements the agent connection lifecycle glue (spec
// §4.2, component 8): room.enter/leave, broker dynamic-subscription
// create/delete, and the host/orphan-timer coupling.
package presence

import (
	"context"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/store"
)

// Store is the subset of *store.DB presence needs.
type Store interface {
	EnterRoom(ctx context.Context, roomID id.RoomID, agentID id.AgentID, now time.Time) error
	SetAgentStatus(ctx context.Context, roomID id.RoomID, agentID id.AgentID, status store.AgentStatus) error
	LeaveRoom(ctx context.Context, roomID id.RoomID, agentID id.AgentID) (wasHost bool, err error)
	MarkOrphan(ctx context.Context, roomID id.RoomID, now time.Time) error
	ClearOrphan(ctx context.Context, roomID id.RoomID) error
}

// Broker is the subset of broker.Service presence needs.
type Broker interface {
	SubscribeCreate(ctx context.Context, roomID, agentID string) error
	SubscribeDelete(ctx context.Context, roomID, agentID string) error
}

type Service struct {
	store  Store
	broker Broker
}

func NewService(s Store, b Broker) *Service {
	return &Service{store: s, broker: b}
}

// Enter implements room.enter: creates the Agent row in_progress, then
// requests a dynamic subscription. On broker confirmation the row
// advances to ready (spec §4.2).
func (svc *Service) Enter(ctx context.Context, roomID id.RoomID, agentID id.AgentID, now time.Time) error {
	if err := svc.store.EnterRoom(ctx, roomID, agentID, now); err != nil {
		return err
	}
	if err := svc.broker.SubscribeCreate(ctx, roomID.String(), agentID.String()); err != nil {
		return err
	}
	return svc.store.SetAgentStatus(ctx, roomID, agentID, store.AgentStatusReady)
}

// Leave implements room.leave: deletes the Agent (and its connections via
// cascade in the store layer), issues a subscription-delete, and arms the
// orphan timer when the leaving agent was the room's host (spec §4.2).
func (svc *Service) Leave(ctx context.Context, roomID id.RoomID, agentID id.AgentID, now time.Time) error {
	wasHost, err := svc.store.LeaveRoom(ctx, roomID, agentID)
	if err != nil {
		return err
	}
	if err := svc.broker.SubscribeDelete(ctx, roomID.String(), agentID.String()); err != nil {
		return err
	}
	if wasHost {
		return svc.store.MarkOrphan(ctx, roomID, now)
	}
	return nil
}

// Rejoin clears a room's orphan marker, used when the host re-enters
// before the timeout threshold elapses (spec §4.2).
func (svc *Service) Rejoin(ctx context.Context, roomID id.RoomID, agentID id.AgentID, now time.Time, isHost bool) error {
	if err := svc.Enter(ctx, roomID, agentID, now); err != nil {
		return err
	}
	if isHost {
		return svc.store.ClearOrphan(ctx, roomID)
	}
	return nil
}
