// Package cache provides bounded, TTL-expiring lookaside caches for the
// three entities handlers re-fetch most often (room by id, room by rtc
// id, rtc by id), backed by the same Redis instance as
// internal/v1/broker. Every write path is expected to call the matching
// Invalidate after its transaction commits.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// entityCache is a single Redis-backed lookaside cache for one key
// namespace. Boundedness is delegated to Redis's own maxmemory/eviction
// policy (operator-configured, spec §6 cache_configs[].capacity is
// advisory sizing guidance for that policy, not enforced here); TTL
// expiry is enforced per entry via SETEX.
type entityCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func newEntityCache(client *redis.Client, namespace string, ttl time.Duration) *entityCache {
	return &entityCache{client: client, namespace: namespace, ttl: ttl}
}

func (e *entityCache) key(k string) string { return fmt.Sprintf("cache:%s:%s", e.namespace, k) }

func (e *entityCache) get(ctx context.Context, k string, out any) error {
	raw, err := e.client.Get(ctx, e.key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (e *entityCache) set(ctx context.Context, k string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.client.Set(ctx, e.key(k), raw, e.ttl).Err()
}

func (e *entityCache) invalidate(ctx context.Context, k string) error {
	return e.client.Del(ctx, e.key(k)).Err()
}

// Caches bundles the three entity caches the rest of the service uses.
type Caches struct {
	roomByID    *entityCache
	roomByRtcID *entityCache
	rtcByID     *entityCache
}

// TTLs configures the per-namespace expiry, sourced from
// config.Config.CacheConfigs by kind ("RoomById", "RoomByRtcId",
// "RtcById"); namespaces left unset fall back to defaultTTL.
type TTLs struct {
	RoomByID, RoomByRtcID, RtcByID time.Duration
}

const defaultTTL = 30 * time.Second

// New builds the three caches against client, applying ttls with
// defaultTTL for any zero value.
func New(client *redis.Client, ttls TTLs) *Caches {
	fill := func(d time.Duration) time.Duration {
		if d <= 0 {
			return defaultTTL
		}
		return d
	}
	return &Caches{
		roomByID:    newEntityCache(client, "room_by_id", fill(ttls.RoomByID)),
		roomByRtcID: newEntityCache(client, "room_by_rtc_id", fill(ttls.RoomByRtcID)),
		rtcByID:     newEntityCache(client, "rtc_by_id", fill(ttls.RtcByID)),
	}
}

// GetRoom returns the cached room, or ErrMiss.
func (c *Caches) GetRoom(ctx context.Context, roomID id.RoomID) (*store.Room, error) {
	var r store.Room
	if err := c.roomByID.get(ctx, roomID.String(), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PutRoom caches r under its own id.
func (c *Caches) PutRoom(ctx context.Context, r *store.Room) error {
	return c.roomByID.set(ctx, r.RoomID().String(), r)
}

// InvalidateRoom drops the cached entry for roomID. Call after any
// write to the room row.
func (c *Caches) InvalidateRoom(ctx context.Context, roomID id.RoomID) error {
	return c.roomByID.invalidate(ctx, roomID.String())
}

// GetRoomIDByRtc returns the room id owning rtcID, or ErrMiss.
func (c *Caches) GetRoomIDByRtc(ctx context.Context, rtcID id.RtcID) (id.RoomID, error) {
	var s string
	if err := c.roomByRtcID.get(ctx, rtcID.String(), &s); err != nil {
		return id.RoomID{}, err
	}
	return id.ParseRoomID(s)
}

// PutRoomIDByRtc caches the rtc→room mapping, set once at rtc creation
// (it never changes for the rtc's lifetime).
func (c *Caches) PutRoomIDByRtc(ctx context.Context, rtcID id.RtcID, roomID id.RoomID) error {
	return c.roomByRtcID.set(ctx, rtcID.String(), roomID.String())
}

// InvalidateRoomIDByRtc drops the rtc→room mapping, e.g. when the rtc
// row itself is deleted.
func (c *Caches) InvalidateRoomIDByRtc(ctx context.Context, rtcID id.RtcID) error {
	return c.roomByRtcID.invalidate(ctx, rtcID.String())
}

// GetRtc returns the cached rtc, or ErrMiss.
func (c *Caches) GetRtc(ctx context.Context, rtcID id.RtcID) (*store.Rtc, error) {
	var r store.Rtc
	if err := c.rtcByID.get(ctx, rtcID.String(), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PutRtc caches r under its own id.
func (c *Caches) PutRtc(ctx context.Context, r *store.Rtc) error {
	return c.rtcByID.set(ctx, r.RtcID().String(), r)
}

// InvalidateRtc drops the cached entry for rtcID. Call after any write
// to the rtc row (including indirectly, e.g. CloseRoom ending its
// streams).
func (c *Caches) InvalidateRtc(ctx context.Context, rtcID id.RtcID) error {
	return c.rtcByID.invalidate(ctx, rtcID.String())
}
