package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestTopicNaming(t *testing.T) {
	assert.Equal(t, "rooms/r1/events", RoomTopic("r1"))
	assert.Equal(t, "audiences/a1/events", AudienceTopic("a1"))
	assert.Equal(t, "classrooms/c1/events", ClassroomTopic("c1"))
}

func TestNewServicePings(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NoError(t, svc.Ping(context.Background()))
}

func TestPublishDeliversEnvelope(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	topic := RoomTopic("room-1")

	sub := svc.client.Subscribe(ctx, topic)
	defer func() { _ = sub.Close() }()
	time.Sleep(50 * time.Millisecond)

	err := svc.Publish(ctx, topic, "room.close", map[string]string{"reason": "timed_out"})
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "room.close", env.Label)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "timed_out", payload["reason"])
}

func TestSubscribeCreateDeleteRoundTrip(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	require.NoError(t, svc.SubscribeCreate(ctx, "room-1", "agent-1"))

	ok, err := svc.Subscribed(ctx, "room-1", "agent-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.SubscribeDelete(ctx, "room-1", "agent-1"))

	ok, err = svc.Subscribed(ctx, "room-1", "agent-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilServiceDegradesGracefully(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Publish(context.Background(), "x", "y", nil))
	assert.NoError(t, svc.SubscribeCreate(context.Background(), "r", "a"))
	ok, err := svc.Subscribed(context.Background(), "r", "a")
	assert.NoError(t, err)
	assert.False(t, ok)
}
