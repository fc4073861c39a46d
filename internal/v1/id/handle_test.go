package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleRoundTrip(t *testing.T) {
	h := Handle{
		RtcStreamID:  NewRtcID(),
		RtcID:        NewRtcID(),
		JanusHandle:  HandleID(123),
		JanusSession: SessionID(456),
		BackendID:    NewBackendID(),
	}

	parsed, err := ParseHandle(h.String())
	assert.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHandleWrongComponentCount(t *testing.T) {
	_, err := ParseHandle("a.b.c")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestParseHandleBadComponent(t *testing.T) {
	h := Handle{RtcStreamID: NewRtcID(), RtcID: NewRtcID(), JanusHandle: 1, JanusSession: 2, BackendID: NewBackendID()}
	s := h.String()
	// corrupt the handle-id numeric field
	bad := s[:len(h.RtcStreamID.String())+1+len(h.RtcID.String())+1] + "not-a-number.2." + h.BackendID.String()
	_, err := ParseHandle(bad)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestParseHandleEmptyString(t *testing.T) {
	_, err := ParseHandle("")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
