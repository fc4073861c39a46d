// Package apperr implements the control plane's closed error taxonomy
// (spec §7). Every failure a handler can return is one of a fixed set of
// Kinds, each carrying an HTTP-style status, a stable machine id, a title,
// and whether it should be forwarded to error reporting.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration, represented as a tagged variant rather
// than by string dispatch or subclassing (spec §9 sum-types note).
type Kind int

const (
	KindUnknown Kind = iota
	KindAccessDenied
	KindAuthenticationFailed
	KindAgentNotEnteredRoom
	KindRoomClosed
	KindRoomNotFound
	KindInvalidPayload
	KindInvalidSDPType
	KindInvalidHandleID
	KindInvalidRoomTime
	KindCapacityExceeded
	KindNoAvailableBackends
	KindBackendRequestFailed
	KindBackendClientCreationFailed
	KindJanusResponseTimeout
	KindDBQueryFailed
	KindDBConnAcquisitionFailed
	KindNATSPublishFailed
	KindMQTTPublishFailed
	KindNATSClientNotFound
	KindRtcNotFound
	KindRoomTimeChangingForbidden
)

// descriptor holds the static facts about a Kind.
type descriptor struct {
	status  int
	machine string
	title   string
	sentry  bool
}

var descriptors = map[Kind]descriptor{
	KindAccessDenied:                {403, "access_denied", "Access denied", false},
	KindAuthenticationFailed:        {401, "authentication_failed", "Authentication failed", true},
	KindAgentNotEnteredRoom:         {404, "agent_not_entered_the_room", "Agent has not entered the room", false},
	KindRoomClosed:                  {404, "room_closed", "Room is closed", false},
	KindRoomNotFound:                {404, "room_not_found", "Room not found", false},
	KindInvalidPayload:              {400, "invalid_payload", "Invalid payload", false},
	KindInvalidSDPType:              {400, "invalid_sdp_type", "Invalid SDP type", false},
	KindInvalidHandleID:             {400, "invalid_handle_id", "Invalid handle id", false},
	KindInvalidRoomTime:             {400, "invalid_room_time", "Invalid room time", false},
	KindCapacityExceeded:            {503, "capacity_exceeded", "Backend capacity exceeded", true},
	KindNoAvailableBackends:         {503, "no_available_backends", "No available backends", true},
	KindBackendRequestFailed:        {424, "backend_request_failed", "Backend request failed", true},
	KindBackendClientCreationFailed: {424, "backend_client_creation_failed", "Backend client creation failed", true},
	KindJanusResponseTimeout:        {424, "janus_response_timeout", "Janus response timed out", true},
	KindDBQueryFailed:               {422, "db_query_failed", "Database query failed", true},
	KindDBConnAcquisitionFailed:     {422, "db_conn_acquisition_failed", "Database connection acquisition failed", true},
	KindNATSPublishFailed:           {422, "nats_publish_failed", "NATS publish failed", true},
	KindMQTTPublishFailed:           {424, "mqtt_publish_failed", "MQTT publish failed", true},
	KindNATSClientNotFound:          {422, "nats_client_not_found", "NATS client not found", true},
	KindRtcNotFound:                 {404, "rtc_not_found", "RTC not found", false},
	KindRoomTimeChangingForbidden:   {422, "room_time_changing_forbidden", "Room time changing forbidden", false},
}

// Error is a taxonomy-bound application error. It always wraps a Kind and
// optionally a source error that triggered it.
type Error struct {
	Kind   Kind
	Detail string
	Source error
}

func (e *Error) Error() string {
	d := descriptors[e.Kind]
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", d.machine, e.Detail)
	}
	return d.machine
}

func (e *Error) Unwrap() error { return e.Source }

// New builds an Error for kind with an optional human-readable detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an Error for kind from an underlying source error, the
// propagation path that keeps a real stack trace available for Sentry.
func Wrap(kind Kind, source error) *Error {
	return &Error{Kind: kind, Source: source}
}

// Status returns the HTTP-style status code for kind.
func Status(kind Kind) int { return descriptors[kind].status }

// MachineID returns the stable machine-readable identifier for kind.
func MachineID(kind Kind) string { return descriptors[kind].machine }

// Title returns the human title for kind.
func Title(kind Kind) string { return descriptors[kind].title }

// ShouldReport reports whether kind should be forwarded to error reporting.
// Per spec §7, only kinds whose flag is set, and only when a source chain
// is present, are actually reported — see Reporter.Report.
func ShouldReport(kind Kind) bool { return descriptors[kind].sentry }

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
