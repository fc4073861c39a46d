// Package ingress handles the media-plane side of the backend protocol
// (spec §4.7): backend status online/offline registration and the
// per-session plugin events the long-poll task dispatches back.
package ingress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/signaling"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/foxford-conf/conferenced/pkg/janusclient"
	"github.com/google/uuid"
)

// Store is the subset of *store.DB the manager needs.
type Store interface {
	UpsertBackend(ctx context.Context, b *store.JanusBackend, now time.Time) error
	DeleteBackend(ctx context.Context, backendID id.BackendID, now time.Time) error
	ActiveStreamsByBackend(ctx context.Context, backendID id.BackendID) ([]store.JanusRtcStream, error)
	GetRtc(ctx context.Context, rtcID id.RtcID) (*store.Rtc, error)
}

// Pool is the subset of *janusclient.Pool the manager needs.
type Pool interface {
	Put(backendID string, c *janusclient.Client)
	Get(backendID string) (*janusclient.Client, bool)
	Remove(backendID string)
}

// Broker is the subset of broker.Service the manager needs.
type Broker interface {
	Publish(ctx context.Context, topic, label string, payload any) error
}

// Orchestrator is the subset of *signaling.Orchestrator the dispatched
// plugin events drive.
type Orchestrator interface {
	OnWebRTCUp(ctx context.Context, backendID string, handleID int64, now time.Time) error
	OnStreamEnded(ctx context.Context, handleID int64, now time.Time) error
}

// OnlineRequest is the backend registration payload a `status online`
// announcement carries (spec §4.7, §6).
type OnlineRequest struct {
	BackendID        id.BackendID
	JanusURL         string
	Capacity         *int32
	BalancerCapacity *int32
	Group            *string
	APIVersion       string
}

// Manager owns the online backend set: it creates each backend's Janus
// session and long-lived service handle, registers it in the pool and
// store, and starts its long-poll task; it tears all three down on
// offline.
type Manager struct {
	store  Store
	pool   Pool
	broker Broker
	orch   Orchestrator
	plugin string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewManager(s Store, p Pool, b Broker, orch Orchestrator, plugin string) *Manager {
	return &Manager{
		store:   s,
		pool:    p,
		broker:  b,
		orch:    orch,
		plugin:  plugin,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Online implements `status online` (spec §4.7 step 1): opens a Janus
// session and service handle, registers the backend in the store and
// pool, and starts its long-poll task. The poller runs detached from ctx
// (ctx only bounds the setup calls) and keeps going until Offline cancels
// it.
func (m *Manager) Online(ctx context.Context, req OnlineRequest, now time.Time) error {
	client := janusclient.NewClient(req.BackendID.String(), req.JanusURL)

	if err := client.CreateSession(ctx); err != nil {
		return apperr.Wrap(apperr.KindBackendRequestFailed, err)
	}
	if err := client.AttachHandle(ctx, m.plugin); err != nil {
		return apperr.Wrap(apperr.KindBackendRequestFailed, err)
	}

	backend := &store.JanusBackend{
		ID:               uuid.UUID(req.BackendID),
		SessionID:        client.SessionID,
		HandleID:         client.HandleID,
		JanusURL:         req.JanusURL,
		Capacity:         req.Capacity,
		BalancerCapacity: req.BalancerCapacity,
		Group:            req.Group,
		APIVersion:       req.APIVersion,
	}
	if err := m.store.UpsertBackend(ctx, backend, now); err != nil {
		return err
	}

	m.pool.Put(req.BackendID.String(), client)
	m.startPoller(req.BackendID.String(), client)
	return nil
}

func (m *Manager) startPoller(backendID string, client *janusclient.Client) {
	pollCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if old, ok := m.cancels[backendID]; ok {
		old()
	}
	m.cancels[backendID] = cancel
	m.mu.Unlock()

	go janusclient.RunPoller(pollCtx, client, m)
}

// Offline implements `status offline` (spec §4.7 step 2): snapshots every
// still-publishing stream on the backend, stops its poller, removes it
// from the pool, and deletes the registry row, which cascades to closing
// those same streams in the store. Once the row is deleted, each
// snapshotted stream gets its rtc_stream.update broadcast.
func (m *Manager) Offline(ctx context.Context, backendID id.BackendID, now time.Time) error {
	streams, err := m.store.ActiveStreamsByBackend(ctx, backendID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if cancel, ok := m.cancels[backendID.String()]; ok {
		cancel()
		delete(m.cancels, backendID.String())
	}
	m.mu.Unlock()

	m.pool.Remove(backendID.String())

	if err := m.store.DeleteBackend(ctx, backendID, now); err != nil {
		return err
	}

	for _, s := range streams {
		rtc, err := m.store.GetRtc(ctx, s.RtcIDTyped())
		if err != nil {
			slog.Error("ingress: could not resolve rtc for offline stream broadcast", "rtc_id", s.RtcIDTyped(), "error", err)
			continue
		}
		update := signaling.StreamUpdate{
			RtcID:   s.RtcIDTyped().String(),
			Label:   s.Label,
			SentBy:  s.SentByTyped().String(),
			Started: false,
		}
		topic := "rooms/" + rtc.RoomIDTyped().String() + "/events"
		if err := m.broker.Publish(ctx, topic, "rtc_stream.update", update); err != nil {
			slog.Error("ingress: could not broadcast offline stream update", "rtc_id", s.RtcIDTyped(), "error", err)
		}
	}
	return nil
}

// Dispatch implements janusclient.Sink: it routes the plugin-event
// variants the signaling orchestrator cares about and drops the rest.
// media/slowlink/timeout/keepalive are observability-only at this layer
// (spec §4.7); a correlated response (a reply to an outstanding request)
// never reaches here because RunPoller fires it to the waitlist first.
func (m *Manager) Dispatch(ctx context.Context, backendID string, ev janusclient.PollEvent) {
	now := time.Now()
	var err error
	switch ev.Kind {
	case janusclient.EventWebRTCUp:
		err = m.orch.OnWebRTCUp(ctx, backendID, ev.HandleID, now)
	case janusclient.EventHangup, janusclient.EventDetached:
		err = m.orch.OnStreamEnded(ctx, ev.HandleID, now)
	default:
		return
	}
	if err != nil {
		slog.Error("ingress: event dispatch failed", "backend_id", backendID, "kind", ev.Kind, "handle_id", ev.HandleID, "error", err)
	}
}
