// Package backend implements the media-backend registry's load model and
// placement algorithm (spec §4.1): which Janus instance a new room binds
// to, and how much headroom a reader has left once bound.
package backend

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/logging"
	"github.com/foxford-conf/conferenced/internal/v1/metrics"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"go.uber.org/zap"
)

// Store is the subset of *store.DB the load model needs, narrowed so
// placement can be unit tested against a fake.
type Store interface {
	ListBackendsInGroup(ctx context.Context, group string) ([]store.JanusBackend, error)
	ActiveRoomsByBackend(ctx context.Context, backendID id.BackendID, now time.Time) ([]store.Room, error)
	TakenLoadForRoom(ctx context.Context, roomID id.RoomID) (int64, error)
}

// LoadModel ranks backends for placement and answers reader-admission
// questions.
type LoadModel struct {
	store Store
}

func NewLoadModel(s Store) *LoadModel {
	return &LoadModel{store: s}
}

// candidate is a backend with its computed current load.
type candidate struct {
	backend store.JanusBackend
	load    int64
	slack   int64
}

// load returns max(taken, reserve) summed across a backend's active
// rooms, the figure both placement and admission read from (spec §4.1).
func (m *LoadModel) load(ctx context.Context, b store.JanusBackend, now time.Time) (int64, error) {
	load, _, err := m.loadAndTaken(ctx, b, now)
	return load, err
}

// loadAndTaken returns both load (sum of max(taken, reserve)) and
// taken_total (plain sum of taken) across a backend's active rooms. §4.1
// reader admission needs both figures at once.
func (m *LoadModel) loadAndTaken(ctx context.Context, b store.JanusBackend, now time.Time) (load int64, takenTotal int64, err error) {
	rooms, err := m.store.ActiveRoomsByBackend(ctx, id.BackendID(b.ID), now)
	if err != nil {
		return 0, 0, err
	}
	for _, r := range rooms {
		taken, err := m.store.TakenLoadForRoom(ctx, r.RoomID())
		if err != nil {
			return 0, 0, err
		}
		takenTotal += taken

		reserve := int64(0)
		if r.Reserve != nil {
			reserve = int64(*r.Reserve)
		}
		if reserve > taken {
			load += reserve
		} else {
			load += taken
		}
	}
	return load, takenTotal, nil
}

func balancerCapacity(b store.JanusBackend) int64 {
	if b.BalancerCapacity != nil {
		return int64(*b.BalancerCapacity)
	}
	if b.Capacity != nil {
		return int64(*b.Capacity)
	}
	return 0
}

// Place chooses a backend for a new room binding, per the §4.1 primary/
// fallback rule: most-loaded among backends with enough balancer slack
// for reserve, matching group and apiVersion; ties broken randomly.
// Falling back to least-loaded overall is logged as a warning and still
// counted against PlacementDecisions with outcome "fallback".
func (m *LoadModel) Place(ctx context.Context, group, apiVersion string, reserve int64, now time.Time) (id.BackendID, error) {
	backends, err := m.store.ListBackendsInGroup(ctx, group)
	if err != nil {
		return id.BackendID{}, err
	}

	var matching []store.JanusBackend
	for _, b := range backends {
		if b.APIVersion == apiVersion {
			matching = append(matching, b)
		}
	}
	if len(matching) == 0 {
		metrics.PlacementDecisions.WithLabelValues("no_backends").Inc()
		return id.BackendID{}, apperr.New(apperr.KindNoAvailableBackends, group)
	}

	var capable, all []candidate
	for _, b := range matching {
		load, err := m.load(ctx, b, now)
		if err != nil {
			return id.BackendID{}, err
		}
		slack := balancerCapacity(b) - load
		c := candidate{backend: b, load: load, slack: slack}
		all = append(all, c)
		if slack >= reserve {
			capable = append(capable, c)
		}
	}

	if len(capable) > 0 {
		picked := mostLoaded(capable)
		metrics.PlacementDecisions.WithLabelValues("primary").Inc()
		return id.BackendID(picked.backend.ID), nil
	}

	picked := leastLoaded(all)
	logging.Warn(ctx, "placement fallback: no backend has enough slack for reserve, picking least-loaded",
		zap.String("group", group), zap.Int64("reserve", reserve), zap.String("backend_id", picked.backend.ID.String()))
	metrics.PlacementDecisions.WithLabelValues("fallback").Inc()
	return id.BackendID(picked.backend.ID), nil
}

// mostLoaded returns the candidate with the highest load, breaking ties
// randomly (spec §4.1, "packing" intent — never switch to least-loaded
// here).
func mostLoaded(cs []candidate) candidate {
	best := cs[0]
	var ties []candidate
	for _, c := range cs {
		switch {
		case c.load > best.load:
			best = c
			ties = []candidate{c}
		case c.load == best.load:
			ties = append(ties, c)
		}
	}
	if len(ties) <= 1 {
		return best
	}
	return ties[rand.IntN(len(ties))]
}

func leastLoaded(cs []candidate) candidate {
	best := cs[0]
	var ties []candidate
	for _, c := range cs {
		switch {
		case c.load < best.load:
			best = c
			ties = []candidate{c}
		case c.load == best.load:
			ties = append(ties, c)
		}
	}
	if len(ties) <= 1 {
		return best
	}
	return ties[rand.IntN(len(ties))]
}

// FreeReaderSlots computes a room's remaining reader admission count
// (spec §4.1): clamp(capacity - taken_total, 0, max(reserve - taken_room,
// capacity - load)). A full backend yields (0, nil); mapping zero to
// apperr.KindCapacityExceeded is left to the caller.
func (m *LoadModel) FreeReaderSlots(ctx context.Context, b store.JanusBackend, room store.Room, now time.Time) (int64, error) {
	capacity := int64(0)
	if b.Capacity != nil {
		capacity = int64(*b.Capacity)
	}

	load, takenTotal, err := m.loadAndTaken(ctx, b, now)
	if err != nil {
		return 0, err
	}
	takenRoom, err := m.store.TakenLoadForRoom(ctx, room.RoomID())
	if err != nil {
		return 0, err
	}

	reserve := int64(0)
	if room.Reserve != nil {
		reserve = int64(*room.Reserve)
	}

	bound1 := reserve - takenRoom
	bound2 := capacity - load
	bound := bound1
	if bound2 > bound1 {
		bound = bound2
	}

	free := capacity - takenTotal
	if free < 0 {
		free = 0
	}
	if free > bound {
		free = bound
	}
	if free < 0 {
		free = 0
	}
	return free, nil
}
