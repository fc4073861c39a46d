package id

import (
	"fmt"
	"strconv"
	"strings"
)

// Handle is the composite descriptor returned by rtc.connect and parsed
// back by rtc_signal.create. Its wire form is
// "{rtc_stream_id}.{rtc_id}.{janus_handle_id}.{janus_session_id}.{backend_agent_id}".
type Handle struct {
	RtcStreamID RtcID
	RtcID       RtcID
	JanusHandle HandleID
	JanusSession SessionID
	BackendID   BackendID
}

// ErrInvalidHandle is returned when a handle descriptor does not parse.
// Component count mismatches and malformed segments both fail this way;
// callers map it to the apperr.InvalidHandleID kind.
var ErrInvalidHandle = fmt.Errorf("invalid handle id")

func (h Handle) String() string {
	return fmt.Sprintf("%s.%s.%d.%d.%s",
		h.RtcStreamID.String(), h.RtcID.String(), h.JanusHandle, h.JanusSession, h.BackendID.String())
}

// ParseHandle is the inverse of Handle.String. A mismatched component
// count (not exactly 5) is always invalid, independent of content.
func ParseHandle(s string) (Handle, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 5 {
		return Handle{}, ErrInvalidHandle
	}

	rtcStreamID, err := ParseRtcID(parts[0])
	if err != nil {
		return Handle{}, ErrInvalidHandle
	}
	rtcID, err := ParseRtcID(parts[1])
	if err != nil {
		return Handle{}, ErrInvalidHandle
	}
	handleID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Handle{}, ErrInvalidHandle
	}
	sessionID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Handle{}, ErrInvalidHandle
	}
	backendID, err := ParseBackendID(parts[4])
	if err != nil {
		return Handle{}, ErrInvalidHandle
	}

	return Handle{
		RtcStreamID:  rtcStreamID,
		RtcID:        rtcID,
		JanusHandle:  HandleID(handleID),
		JanusSession: SessionID(sessionID),
		BackendID:    backendID,
	}, nil
}
