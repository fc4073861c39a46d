// Package rwconfig implements the reader/writer configuration engine
// (spec §4.3): explicit per-reader and per-writer flag updates, and the
// group-derived reader config reconciliation run whenever a room's
// groups change.
package rwconfig

import (
	"context"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/google/uuid"
)

// Store is the subset of *store.DB the reconciler and update paths need.
type Store interface {
	GetGroups(ctx context.Context, roomID id.RoomID) (*store.GroupAgent, error)
	SetGroups(ctx context.Context, roomID id.RoomID, groups store.GroupList) error
	ListRtcsByRoom(ctx context.Context, roomID id.RoomID) ([]store.Rtc, error)
	UpsertReaderConfigs(ctx context.Context, rtcID id.RtcID, items []store.ReaderConfigItem, now time.Time) error
	UpdateWriterConfig(ctx context.Context, rtcID id.RtcID, sendVideo, sendAudio bool, videoRemb *int64, updatedBy *id.AgentID, now time.Time) error
}

// Engine runs explicit and group-derived reader/writer config updates.
type Engine struct {
	store Store
}

func NewEngine(s Store) *Engine {
	return &Engine{store: s}
}

// hasCommonGroup reports whether a1 and a2 belong to at least one
// identical group number. No transitive inference is performed: an
// agent in several groups at once (the multi-group teacher case) is a
// direct member of each, but membership never propagates between
// distinct groups (spec §4.3 multi-group exception).
func hasCommonGroup(g1, g2 []int) bool {
	set := make(map[int]struct{}, len(g1))
	for _, n := range g1 {
		set[n] = struct{}{}
	}
	for _, n := range g2 {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

// Reconcile recomputes every derived reader config for roomID from its
// current group partition and owned rtcs, writing the result in batched
// upserts keyed by (rtc_id, reader_id) (spec §4.3). Meaningful only for
// rooms using SharingPolicyOwned, since a shared-policy room has no
// per-owner rtc to derive from; neither Reconcile nor UpdateGroups checks
// the room's policy.
func (e *Engine) Reconcile(ctx context.Context, roomID id.RoomID, now time.Time) error {
	groups, err := e.store.GetGroups(ctx, roomID)
	if err != nil {
		return err
	}
	rtcs, err := e.store.ListRtcsByRoom(ctx, roomID)
	if err != nil {
		return err
	}

	agents := distinctAgents(groups)
	groupsOf := make(map[uuid.UUID][]int, len(agents))
	for _, a := range agents {
		groupsOf[a] = groups.GroupsOf(id.AgentID(a))
	}

	for _, rtc := range rtcs {
		owner := rtc.CreatedBy
		var items []store.ReaderConfigItem
		for _, reader := range agents {
			if reader == owner {
				continue
			}
			peer := hasCommonGroup(groupsOf[reader], groupsOf[owner])
			items = append(items, store.ReaderConfigItem{
				ReaderID:     id.AgentID(reader),
				ReceiveVideo: peer,
				ReceiveAudio: peer,
			})
		}
		if len(items) == 0 {
			continue
		}
		if err := batchedUpsert(ctx, e.store, rtc.RtcID(), items, now); err != nil {
			return err
		}
	}
	return nil
}

// UpdateGroups implements group.update (spec §4.3): replaces roomID's
// group partition, then reconciles every owned rtc's derived reader
// config against the new partition in the same call, so group changes
// take effect immediately rather than waiting for the next writer
// config push.
func (e *Engine) UpdateGroups(ctx context.Context, roomID id.RoomID, groups store.GroupList, now time.Time) error {
	if err := e.store.SetGroups(ctx, roomID, groups); err != nil {
		return err
	}
	return e.Reconcile(ctx, roomID, now)
}

func distinctAgents(g *store.GroupAgent) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, grp := range g.Groups {
		for _, a := range grp.Agents {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				out = append(out, a)
			}
		}
	}
	return out
}

func batchedUpsert(ctx context.Context, s Store, rtcID id.RtcID, items []store.ReaderConfigItem, now time.Time) error {
	for start := 0; start < len(items); start += store.MaxConfigBatch {
		end := start + store.MaxConfigBatch
		if end > len(items) {
			end = len(items)
		}
		if err := s.UpsertReaderConfigs(ctx, rtcID, items[start:end], now); err != nil {
			return err
		}
	}
	return nil
}

// SetReaderConfig applies an explicit, caller-supplied batch of reader
// config updates (spec §4.3). Rejects batches over store.MaxConfigBatch.
func (e *Engine) SetReaderConfig(ctx context.Context, rtcID id.RtcID, items []store.ReaderConfigItem, now time.Time) error {
	if len(items) > store.MaxConfigBatch {
		return apperr.New(apperr.KindInvalidPayload, "reader config batch exceeds maximum size")
	}
	return e.store.UpsertReaderConfigs(ctx, rtcID, items, now)
}

// SetWriterConfig applies an explicit writer config update, snapshotting
// on change (spec §4.3).
func (e *Engine) SetWriterConfig(ctx context.Context, rtcID id.RtcID, sendVideo, sendAudio bool, videoRemb *int64, updatedBy *id.AgentID, now time.Time) error {
	return e.store.UpdateWriterConfig(ctx, rtcID, sendVideo, sendAudio, videoRemb, updatedBy, now)
}
