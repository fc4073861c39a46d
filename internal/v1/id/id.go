// Package id defines the opaque identifier types used throughout the
// control plane. IDs are 128-bit UUIDs wrapped in distinct Go types so the
// compiler rejects mixing, say, a RoomID where a BackendID is expected.
package id

import "github.com/google/uuid"

// RoomID identifies a conference room.
type RoomID uuid.UUID

// RtcID identifies a single addressable real-time connection slot.
type RtcID uuid.UUID

// AgentID identifies an authenticated client principal.
type AgentID uuid.UUID

// BackendID identifies a registered Janus backend (also an agent id).
type BackendID uuid.UUID

// ClassroomID is the external logical class key used for authorization.
// It is semantically distinct from RoomID even though both are UUIDs: a
// classroom may be reused across several rooms over time, and
// authorization always keys off ClassroomID, never RoomID.
type ClassroomID uuid.UUID

// HandleID is a Janus plugin handle id, scoped to a backend session.
type HandleID int64

// SessionID is a Janus session id, scoped to a backend.
type SessionID int64

func NewRoomID() RoomID           { return RoomID(uuid.New()) }
func NewRtcID() RtcID             { return RtcID(uuid.New()) }
func NewAgentID() AgentID         { return AgentID(uuid.New()) }
func NewBackendID() BackendID     { return BackendID(uuid.New()) }
func NewClassroomID() ClassroomID { return ClassroomID(uuid.New()) }

func (r RoomID) String() string      { return uuid.UUID(r).String() }
func (r RtcID) String() string       { return uuid.UUID(r).String() }
func (a AgentID) String() string     { return uuid.UUID(a).String() }
func (b BackendID) String() string   { return uuid.UUID(b).String() }
func (c ClassroomID) String() string { return uuid.UUID(c).String() }

func (r RoomID) IsZero() bool      { return uuid.UUID(r) == uuid.Nil }
func (r RtcID) IsZero() bool       { return uuid.UUID(r) == uuid.Nil }
func (a AgentID) IsZero() bool     { return uuid.UUID(a) == uuid.Nil }
func (b BackendID) IsZero() bool   { return uuid.UUID(b) == uuid.Nil }
func (c ClassroomID) IsZero() bool { return uuid.UUID(c) == uuid.Nil }

func ParseRoomID(s string) (RoomID, error) {
	u, err := uuid.Parse(s)
	return RoomID(u), err
}

func ParseRtcID(s string) (RtcID, error) {
	u, err := uuid.Parse(s)
	return RtcID(u), err
}

func ParseAgentID(s string) (AgentID, error) {
	u, err := uuid.Parse(s)
	return AgentID(u), err
}

func ParseBackendID(s string) (BackendID, error) {
	u, err := uuid.Parse(s)
	return BackendID(u), err
}

func ParseClassroomID(s string) (ClassroomID, error) {
	u, err := uuid.Parse(s)
	return ClassroomID(u), err
}
