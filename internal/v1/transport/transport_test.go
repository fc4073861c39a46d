package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponseMarshalsPayload(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resp, err := NewResponse(200, map[string]string{"room_id": "r1"}, now)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, now, resp.Timestamp)
	assert.Nil(t, resp.ElapsedAuthz)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.Equal(t, "r1", payload["room_id"])
}

func TestWithAuthzElapsedSetsField(t *testing.T) {
	resp, err := NewResponse(200, map[string]string{}, time.Now())
	require.NoError(t, err)

	resp = resp.WithAuthzElapsed(42 * time.Millisecond)
	require.NotNil(t, resp.ElapsedAuthz)
	assert.Equal(t, 42*time.Millisecond, *resp.ElapsedAuthz)
}

func TestNewNotificationMarshalsPayload(t *testing.T) {
	n, err := NewNotification("rooms/r1/events", "room.close", map[string]string{"room_id": "r1"})
	require.NoError(t, err)

	assert.Equal(t, "rooms/r1/events", n.Topic)
	assert.Equal(t, "room.close", n.Label)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	assert.Equal(t, "r1", payload["room_id"])
}

func TestRequestRoundTripsJSON(t *testing.T) {
	req := Request{Operation: "room.create", Payload: json.RawMessage(`{"audience":"example.org"}`)}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "room.create", decoded.Operation)
	assert.JSONEq(t, `{"audience":"example.org"}`, string(decoded.Payload))
}
