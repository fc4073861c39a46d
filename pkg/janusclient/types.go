// Package janusclient implements the control plane's side of the Janus
// Gateway HTTP protocol: per-backend clients, transaction-tag correlated
// requests, and the long-poll event task (spec §4.5).
package janusclient

import (
	"encoding/json"
	"fmt"
)

// Tag identifies the originating operation of an outgoing request. It
// labels the Janus request metrics only: the Janus "transaction" field
// carries a random hex id from newTransaction, not the tag, and the
// waitlist is keyed by transaction id.
type Tag string

const (
	TagCreateSession      Tag = "create_session"
	TagAttach             Tag = "attach"
	TagCreateStream       Tag = "create_stream"
	TagReadStream         Tag = "read_stream"
	TagUpdateReaderConfig Tag = "update_reader_config"
	TagUpdateWriterConfig Tag = "update_writer_config"
	TagUploadStream       Tag = "upload_stream"
	TagAgentLeave         Tag = "agent_leave"
	TagTrickle            Tag = "trickle"
	TagDetach             Tag = "detach"
)

// Envelope is the Janus wire request/response shape: {janus, transaction,
// session_id, handle_id, body, jsep}.
type Envelope struct {
	Janus       string          `json:"janus"`
	Transaction string          `json:"transaction,omitempty"`
	SessionID   int64           `json:"session_id,omitempty"`
	HandleID    int64           `json:"handle_id,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Jsep        *Jsep           `json:"jsep,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	PluginData  json.RawMessage `json:"plugindata,omitempty"`
	ErrorText   string          `json:"error,omitempty"`
}

// Jsep is a JSEP SDP payload, classified as offer/answer/ice-candidate by
// the signaling orchestrator (spec §4.4).
type Jsep struct {
	Type      string `json:"type,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

// JsepKind is the closed classification of an incoming Jsep.
type JsepKind int

const (
	JsepUnknown JsepKind = iota
	JsepOffer
	JsepAnswer
	JsepICECandidate
)

// Classify implements spec §4.4's offer/answer/ice-candidate inspection.
// answer is never accepted from a client (always server-originated); the
// caller is responsible for rejecting it.
func (j *Jsep) Classify() JsepKind {
	if j == nil {
		return JsepUnknown
	}
	switch j.Type {
	case "offer":
		return JsepOffer
	case "answer":
		return JsepAnswer
	}
	if j.Candidate != "" {
		return JsepICECandidate
	}
	return JsepUnknown
}

// IsRecvOnly reports whether the offer's SDP is recvonly across all media
// sections, the subscriber-vs-publisher routing signal spec §4.4 names. A
// line-oriented scan is sufficient: a publisher offer always carries at
// least one sendonly/sendrecv media section.
func (j *Jsep) IsRecvOnly() bool {
	if j == nil || j.SDP == "" {
		return false
	}
	sawMedia := false
	sawRecvOnly := false
	for _, line := range splitLines(j.SDP) {
		switch {
		case len(line) >= 2 && line[:2] == "m=":
			sawMedia = true
		case line == "a=sendrecv", line == "a=sendonly":
			return false
		case line == "a=recvonly":
			sawRecvOnly = true
		}
	}
	return sawMedia && sawRecvOnly
}

func splitLines(sdp string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(sdp); i++ {
		if sdp[i] == '\n' {
			line := sdp[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(sdp) {
		lines = append(lines, sdp[start:])
	}
	return lines
}

// PollEventKind is the closed set of long-poll dispatch variants (spec
// §4.5).
type PollEventKind string

const (
	EventKeepalive PollEventKind = "keepalive"
	EventWebRTCUp  PollEventKind = "webrtcup"
	EventHangup    PollEventKind = "hangup"
	EventDetached  PollEventKind = "detached"
	EventMedia     PollEventKind = "media"
	EventSlowLink  PollEventKind = "slowlink"
	EventTimeout   PollEventKind = "timeout"
	EventGeneric   PollEventKind = "event"
)

// PollEvent is a single dispatched long-poll result.
type PollEvent struct {
	Kind        PollEventKind
	HandleID    int64
	Transaction string
	PluginData  json.RawMessage
	Jsep        *Jsep
}

// ReaderConfigEntry is one row of a reader_config.update batch (spec §6).
type ReaderConfigEntry struct {
	ReaderID     string `json:"reader_id"`
	StreamID     string `json:"stream_id"`
	ReceiveVideo bool   `json:"receive_video"`
	ReceiveAudio bool   `json:"receive_audio"`
}

// WriterConfigEntry is one row of a writer_config.update batch (spec §6).
type WriterConfigEntry struct {
	StreamID  string `json:"stream_id"`
	SendVideo bool   `json:"send_video"`
	SendAudio bool   `json:"send_audio"`
	VideoRemb *int64 `json:"video_remb,omitempty"`
}

// UploadStreamRequest is the upload.stream backend request body (spec §4.6,
// §6).
type UploadStreamRequest struct {
	RtcID   string `json:"rtc_id"`
	Backend string `json:"backend"`
	Bucket  string `json:"bucket"`
	Object  string `json:"object"`
}

// ErrSessionNotFound is returned when the backend reports a 404-equivalent
// "session not found" error. It is not a fatal poller error (spec §4.5).
var ErrSessionNotFound = fmt.Errorf("janusclient: session not found")

// ErrUnknownTransaction is returned/logged when a response carries a
// transaction tag the waitlist has no entry for.
var ErrUnknownTransaction = fmt.Errorf("janusclient: unknown transaction")
