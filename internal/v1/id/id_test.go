package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDsAreNonZero(t *testing.T) {
	assert.False(t, NewRoomID().IsZero())
	assert.False(t, NewRtcID().IsZero())
	assert.False(t, NewAgentID().IsZero())
	assert.False(t, NewBackendID().IsZero())
	assert.False(t, NewClassroomID().IsZero())
}

func TestZeroValueIsZero(t *testing.T) {
	var r RoomID
	assert.True(t, r.IsZero())
}

func TestParseRoundTrip(t *testing.T) {
	want := NewRoomID()
	got, err := ParseRoomID(want.String())
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseRoomIDRejectsGarbage(t *testing.T) {
	_, err := ParseRoomID("not-a-uuid")
	assert.Error(t, err)
}
