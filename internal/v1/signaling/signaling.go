// Package signaling implements the rtc.connect / rtc_signal.create
// orchestrator (spec §4.4): connect-time placement/capacity checks,
// per-connection Janus handle allocation, JSEP classification and
// routing, and the event-driven stream transitions the poller feeds back
// in (spec §4.5, §4.7).
package signaling

import (
	"context"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/foxford-conf/conferenced/pkg/janusclient"
	"github.com/google/uuid"
)

// Intent is the closed read/write set rtc.connect declares (spec §4.4).
type Intent string

const (
	IntentRead  Intent = "read"
	IntentWrite Intent = "write"
)

// Store is the subset of *store.DB the orchestrator needs.
type Store interface {
	RequireRoom(ctx context.Context, roomID id.RoomID, req store.TimeRequirement, now time.Time) (*store.Room, error)
	GetRtc(ctx context.Context, rtcID id.RtcID) (*store.Rtc, error)
	GetBackend(ctx context.Context, backendID id.BackendID) (*store.JanusBackend, error)
	BindBackend(ctx context.Context, roomID id.RoomID, backendID id.BackendID, rtcID id.RtcID, now time.Time) error
	EnsureRecording(ctx context.Context, rtcID id.RtcID, now time.Time) error
	ConnectAgent(ctx context.Context, roomID id.RoomID, agentID id.AgentID, rtcID id.RtcID, handleID int64, now time.Time) error
	InsertStream(ctx context.Context, s *store.JanusRtcStream, now time.Time) error
	StartStream(ctx context.Context, streamID uuid.UUID, now time.Time) error
	StopStream(ctx context.Context, streamID uuid.UUID, now time.Time) error
	ActiveStreamByHandle(ctx context.Context, handleID int64) (*store.JanusRtcStream, error)
	ListConnectionsByRoom(ctx context.Context, roomID id.RoomID) ([]store.AgentConnection, error)
	DeleteConnectionsByRoom(ctx context.Context, roomID id.RoomID) error
}

// Backend is the subset of backend.LoadModel the orchestrator needs.
type Backend interface {
	Place(ctx context.Context, group, apiVersion string, reserve int64, now time.Time) (id.BackendID, error)
	FreeReaderSlots(ctx context.Context, b store.JanusBackend, room store.Room, now time.Time) (int64, error)
}

// Pool is the subset of janusclient.Pool the orchestrator needs.
type Pool interface {
	Get(backendID string) (*janusclient.Client, bool)
}

// Broker is the subset of broker.Service the orchestrator needs.
type Broker interface {
	Publish(ctx context.Context, topic, label string, payload any) error
}

type Orchestrator struct {
	store   Store
	backend Backend
	pool    Pool
	broker  Broker
	plugin  string
}

func NewOrchestrator(s Store, b Backend, p Pool, broker Broker, plugin string) *Orchestrator {
	return &Orchestrator{store: s, backend: b, pool: p, broker: broker, plugin: plugin}
}

// ConnectRequest is the rtc.connect payload.
type ConnectRequest struct {
	RoomID  id.RoomID
	RtcID   id.RtcID
	AgentID id.AgentID
	Intent  Intent
	Group   string
}

// Connect implements spec §4.4 step 1.
func (o *Orchestrator) Connect(ctx context.Context, req ConnectRequest, now time.Time) (id.Handle, error) {
	room, err := o.store.RequireRoom(ctx, req.RoomID, store.Open, now)
	if err != nil {
		return id.Handle{}, err
	}

	rtc, err := o.store.GetRtc(ctx, req.RtcID)
	if err != nil {
		return id.Handle{}, err
	}

	if err := checkPolicyIntent(*rtc, req.AgentID, req.Intent); err != nil {
		return id.Handle{}, err
	}

	backendID, bound := room.BackendIDTyped()
	switch req.Intent {
	case IntentWrite:
		if !bound {
			reserve := int64(0)
			if room.Reserve != nil {
				reserve = int64(*room.Reserve)
			}
			placed, perr := o.backend.Place(ctx, req.Group, "", reserve, now)
			if perr != nil {
				return id.Handle{}, perr
			}
			if berr := o.store.BindBackend(ctx, req.RoomID, placed, req.RtcID, now); berr != nil {
				return id.Handle{}, berr
			}
			backendID = placed
		} else {
			if eerr := o.store.EnsureRecording(ctx, req.RtcID, now); eerr != nil {
				return id.Handle{}, eerr
			}
		}
	case IntentRead:
		if !bound {
			return id.Handle{}, apperr.New(apperr.KindNoAvailableBackends, "room has no backend bound yet")
		}
		backend, berr := o.store.GetBackend(ctx, backendID)
		if berr != nil {
			return id.Handle{}, berr
		}
		free, ferr := o.backend.FreeReaderSlots(ctx, *backend, *room, now)
		if ferr != nil {
			return id.Handle{}, ferr
		}
		if free <= 0 {
			return id.Handle{}, apperr.New(apperr.KindCapacityExceeded, req.RtcID.String())
		}
	default:
		return id.Handle{}, apperr.New(apperr.KindInvalidPayload, "intent must be read or write")
	}

	client, ok := o.pool.Get(backendID.String())
	if !ok {
		return id.Handle{}, apperr.New(apperr.KindBackendClientCreationFailed, backendID.String())
	}

	handleID, err := client.AttachNewHandle(ctx, o.plugin)
	if err != nil {
		return id.Handle{}, apperr.Wrap(apperr.KindBackendRequestFailed, err)
	}

	if err := o.store.ConnectAgent(ctx, req.RoomID, req.AgentID, req.RtcID, handleID, now); err != nil {
		return id.Handle{}, err
	}

	return id.Handle{
		RtcStreamID:  req.RtcID,
		RtcID:        req.RtcID,
		JanusHandle:  id.HandleID(handleID),
		JanusSession: client.SessionIDTyped(),
		BackendID:    backendID,
	}, nil
}

// checkPolicyIntent enforces spec §4.4 step "b": only the rtc's owner may
// write to it, under both shared and owned policy (shared's single RTC
// belongs to whichever agent created it first).
func checkPolicyIntent(rtc store.Rtc, agentID id.AgentID, intent Intent) error {
	if intent != IntentWrite {
		return nil
	}
	if rtc.CreatedByTyped() != agentID {
		return apperr.New(apperr.KindAccessDenied, "only the rtc's creator may connect with intent=write")
	}
	return nil
}

// SignalRequest is the rtc_signal.create payload.
type SignalRequest struct {
	Handle id.Handle
	Jsep   *janusclient.Jsep
	Label  string
}

// Signal implements spec §4.4 step 2: classifies the JSEP and routes it to
// the owning backend as a subscriber read, a publisher create, or a
// trickled ICE candidate. answer is always server-originated and is
// rejected from a client.
func (o *Orchestrator) Signal(ctx context.Context, req SignalRequest, now time.Time) (*janusclient.Jsep, error) {
	client, ok := o.pool.Get(req.Handle.BackendID.String())
	if !ok {
		return nil, apperr.New(apperr.KindBackendClientCreationFailed, req.Handle.BackendID.String())
	}

	switch req.Jsep.Classify() {
	case janusclient.JsepAnswer:
		return nil, apperr.New(apperr.KindInvalidSDPType, "answer is always server-originated")

	case janusclient.JsepOffer:
		if req.Jsep.IsRecvOnly() {
			resp, err := client.StreamRead(ctx, int64(req.Handle.JanusHandle), req.Handle.RtcStreamID.String(), req.Jsep)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindBackendRequestFailed, err)
			}
			return resp.Jsep, nil
		}

		rtc, err := o.store.GetRtc(ctx, req.Handle.RtcID)
		if err != nil {
			return nil, err
		}
		stream := &store.JanusRtcStream{
			HandleID:  int64(req.Handle.JanusHandle),
			RtcID:     uuid.UUID(req.Handle.RtcID),
			BackendID: uuid.UUID(req.Handle.BackendID),
			Label:     req.Label,
			SentBy:    uuid.UUID(rtc.CreatedByTyped()),
		}
		if err := o.store.InsertStream(ctx, stream, now); err != nil {
			return nil, err
		}
		resp, err := client.StreamCreate(ctx, int64(req.Handle.JanusHandle), req.Label, req.Jsep)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindBackendRequestFailed, err)
		}
		return resp.Jsep, nil

	case janusclient.JsepICECandidate:
		if err := client.Trickle(ctx, int64(req.Handle.JanusHandle), req.Jsep.Candidate); err != nil {
			return nil, apperr.Wrap(apperr.KindBackendRequestFailed, err)
		}
		return nil, nil

	default:
		return nil, apperr.New(apperr.KindInvalidSDPType, "jsep is neither offer, answer, nor ice-candidate")
	}
}

// StreamUpdate is the rtc_stream.update notification payload broadcast on
// a room's topic (spec §4.4 step 3, §6).
type StreamUpdate struct {
	RtcID    string `json:"rtc_id"`
	Label    string `json:"label"`
	SentBy   string `json:"sent_by"`
	Started  bool   `json:"started"`
}

// OnWebRTCUp implements spec §4.4 step 3's webrtcup transition: resolves
// the publisher stream by handle, marks it open-from-now, and broadcasts
// rtc_stream.update.
func (o *Orchestrator) OnWebRTCUp(ctx context.Context, backendID string, handleID int64, now time.Time) error {
	stream, err := o.store.ActiveStreamByHandle(ctx, handleID)
	if err != nil {
		return err
	}
	if stream == nil {
		return nil
	}
	if err := o.store.StartStream(ctx, stream.ID, now); err != nil {
		return err
	}
	rtc, err := o.store.GetRtc(ctx, stream.RtcIDTyped())
	if err != nil {
		return err
	}
	return o.broadcastStreamUpdate(ctx, *stream, *rtc, true)
}

// OnStreamEnded implements spec §4.4 step 3's hangup/detached transition.
// Ordering guarantee (ii): a stop without a preceding start is
// suppressed — no broadcast, no cascade-disconnect.
func (o *Orchestrator) OnStreamEnded(ctx context.Context, handleID int64, now time.Time) error {
	stream, err := o.store.ActiveStreamByHandle(ctx, handleID)
	if err != nil {
		return err
	}
	if stream == nil {
		return nil
	}
	if err := o.store.StopStream(ctx, stream.ID, now); err != nil {
		return err
	}
	if !stream.Started() {
		return nil
	}
	rtc, err := o.store.GetRtc(ctx, stream.RtcIDTyped())
	if err != nil {
		return err
	}
	if err := o.broadcastStreamUpdate(ctx, *stream, *rtc, false); err != nil {
		return err
	}
	return o.store.DeleteConnectionsByRoom(ctx, rtc.RoomIDTyped())
}

func (o *Orchestrator) broadcastStreamUpdate(ctx context.Context, stream store.JanusRtcStream, rtc store.Rtc, started bool) error {
	update := StreamUpdate{
		RtcID:   stream.RtcIDTyped().String(),
		Label:   stream.Label,
		SentBy:  stream.SentByTyped().String(),
		Started: started,
	}
	topic := "rooms/" + rtc.RoomIDTyped().String() + "/events"
	return o.broker.Publish(ctx, topic, "rtc_stream.update", update)
}
