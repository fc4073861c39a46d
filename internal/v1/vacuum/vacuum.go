// Package vacuum runs the two periodic background tasks spec §4.6
// describes: closing timed-out orphan rooms, and requesting recording
// upload from backends for rooms that have already closed.
package vacuum

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/broker"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/metrics"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/foxford-conf/conferenced/pkg/janusclient"
)

// Store is the subset of *store.DB the vacuum tasks need.
type Store interface {
	TimedOutOrphans(ctx context.Context, now time.Time, threshold time.Duration) ([]store.OrphanedRoom, error)
	CloseRoom(ctx context.Context, roomID id.RoomID, closedBy *id.AgentID, timedOut bool, now time.Time) (bool, error)
	GetRoom(ctx context.Context, roomID id.RoomID) (*store.Room, error)
	RoomsAwaitingUpload(ctx context.Context, now time.Time) ([]store.Room, error)
	DisconnectRoomForVacuum(ctx context.Context, roomID id.RoomID) error
	InProgressRecordingsForRoom(ctx context.Context, roomID id.RoomID) ([]store.Recording, error)
	GetRtc(ctx context.Context, rtcID id.RtcID) (*store.Rtc, error)
	CompleteRecording(ctx context.Context, rtcID id.RtcID, segments store.JSONSegments, dumpURIs store.JSONStrings) error
	MarkRecordingMissing(ctx context.Context, rtcID id.RtcID) error
}

// Pool is the subset of *janusclient.Pool the upload task needs.
type Pool interface {
	Get(backendID string) (*janusclient.Client, bool)
}

// Broker is the subset of broker.Service the vacuum tasks need.
type Broker interface {
	Publish(ctx context.Context, topic, label string, payload any) error
}

// BucketResolver resolves the configured (backend group, bucket) pair for
// a room's sharing policy and audience (spec §6 configuration key
// `upload.{shared,owned}.{audience: {backend, bucket}}`).
type BucketResolver interface {
	ResolveBucket(policy store.SharingPolicy, audience string) (bucket string, ok bool)
}

// Service runs the orphan and upload vacuum passes.
type Service struct {
	store     Store
	pool      Pool
	broker    Broker
	buckets   BucketResolver
	threshold time.Duration
}

func NewService(s Store, p Pool, b Broker, buckets BucketResolver, orphanThreshold time.Duration) *Service {
	return &Service{store: s, pool: p, broker: b, buckets: buckets, threshold: orphanThreshold}
}

// RunOrphanVacuum ticks TriggerOrphanVacuum every interval until ctx is
// canceled. Meant to be started as its own long-lived goroutine at
// startup (spec §4.6, "background tasks... spawned at startup").
func (s *Service) RunOrphanVacuum(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.TriggerOrphanVacuum(ctx, now); err != nil {
				slog.Error("orphan vacuum pass failed", "error", err)
			}
		}
	}
}

// TriggerOrphanVacuum closes every room whose host has been gone longer
// than the configured threshold (spec §4.2, §4.6).
func (s *Service) TriggerOrphanVacuum(ctx context.Context, now time.Time) error {
	orphans, err := s.store.TimedOutOrphans(ctx, now, s.threshold)
	if err != nil {
		return err
	}

	for _, o := range orphans {
		roomID := o.RoomIDTyped()
		didClose, err := s.store.CloseRoom(ctx, roomID, nil, true, now)
		if err != nil {
			slog.Error("orphan vacuum: close room failed", "room_id", roomID, "error", err)
			continue
		}
		if !didClose {
			continue
		}
		metrics.VacuumRoomsClosed.WithLabelValues("orphan").Inc()
		if err := s.RequestUploadForRoom(ctx, roomID); err != nil {
			slog.Error("orphan vacuum: upload request failed", "room_id", roomID, "error", err)
		}
		if err := s.broker.Publish(ctx, broker.RoomTopic(roomID.String()), "room.close", map[string]string{"room_id": roomID.String()}); err != nil {
			slog.Error("orphan vacuum: room.close broadcast failed", "room_id", roomID, "error", err)
		}
	}
	return nil
}

// RunUploadVacuum ticks TriggerUploadVacuum every interval until ctx is
// canceled.
func (s *Service) RunUploadVacuum(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.TriggerUploadVacuum(ctx, now); err != nil {
				slog.Error("upload vacuum pass failed", "error", err)
			}
		}
	}
}

// TriggerUploadVacuum implements spec §4.6: for every closed room with at
// least one in_progress recording, disconnects remaining agents, then
// requests stream upload from the owning backend for each such RTC. The
// request is fire-and-forget; completion is reported back later via
// ReportUpload.
func (s *Service) TriggerUploadVacuum(ctx context.Context, now time.Time) error {
	rooms, err := s.store.RoomsAwaitingUpload(ctx, now)
	if err != nil {
		return err
	}

	for _, room := range rooms {
		s.requestUpload(ctx, room)
	}
	return nil
}

// RequestUploadForRoom drives the same disconnect/upload-request sequence
// as the periodic upload vacuum pass, but for a single room, invoked
// immediately from a closure path (room.close, room.update's closure
// coercion) instead of waiting for the next tick (spec §4.2, §4.6: "room
// closure requests upload").
func (s *Service) RequestUploadForRoom(ctx context.Context, roomID id.RoomID) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	s.requestUpload(ctx, *room)
	return nil
}

// requestUpload disconnects any agents still attached to room and, for
// every in-progress recording, requests upload from the owning backend.
// The request is fire-and-forget; completion is reported back later via
// ReportUpload.
func (s *Service) requestUpload(ctx context.Context, room store.Room) {
	roomID := room.RoomID()
	if err := s.store.DisconnectRoomForVacuum(ctx, roomID); err != nil {
		slog.Error("upload vacuum: disconnect failed", "room_id", roomID, "error", err)
		return
	}

	recordings, err := s.store.InProgressRecordingsForRoom(ctx, roomID)
	if err != nil {
		slog.Error("upload vacuum: load recordings failed", "room_id", roomID, "error", err)
		return
	}
	if len(recordings) == 0 {
		return
	}

	backendID, bound := room.BackendIDTyped()
	if !bound {
		for _, rec := range recordings {
			_ = s.store.MarkRecordingMissing(ctx, rec.RtcIDTyped())
		}
		return
	}
	client, ok := s.pool.Get(backendID.String())
	if !ok {
		slog.Warn("upload vacuum: backend offline, deferring", "room_id", roomID, "backend_id", backendID)
		return
	}
	bucket, ok := s.buckets.ResolveBucket(room.RtcSharingPolicy, room.Audience)
	if !ok {
		slog.Error("upload vacuum: no bucket configured for audience", "audience", room.Audience, "policy", room.RtcSharingPolicy)
		return
	}

	for _, rec := range recordings {
		rtc, err := s.store.GetRtc(ctx, rec.RtcIDTyped())
		if err != nil {
			slog.Error("upload vacuum: rtc lookup failed", "rtc_id", rec.RtcIDTyped(), "error", err)
			continue
		}
		object := fmt.Sprintf("%s/%s.source.webm", room.ClassroomIDTyped(), rtc.RtcID())
		_, err = client.UploadStream(ctx, janusclient.UploadStreamRequest{
			RtcID:   rtc.RtcID().String(),
			Backend: backendID.String(),
			Bucket:  bucket,
			Object:  object,
		})
		if err != nil {
			slog.Error("upload vacuum: upload.stream request failed", "rtc_id", rtc.RtcID(), "error", err)
		}
	}
}

// UploadReport is the backend's later out-of-band report of a completed
// (or failed) upload (spec §4.6: "when the backend later reports segments
// and status, a room.upload event is broadcast").
type UploadReport struct {
	RtcID     id.RtcID
	Audience  string
	Status    store.RecordingStatus
	Segments  store.JSONSegments
	DumpURIs  store.JSONStrings
	StartedAt time.Time
}

// ReportUpload records the backend's upload outcome and broadcasts
// room.upload on the room's audience topic.
func (s *Service) ReportUpload(ctx context.Context, report UploadReport) error {
	switch report.Status {
	case store.RecordingStatusReady:
		if err := s.store.CompleteRecording(ctx, report.RtcID, report.Segments, report.DumpURIs); err != nil {
			return err
		}
	case store.RecordingStatusMissing:
		if err := s.store.MarkRecordingMissing(ctx, report.RtcID); err != nil {
			return err
		}
	}

	rtc, err := s.store.GetRtc(ctx, report.RtcID)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"rtc_id":     report.RtcID.String(),
		"status":     report.Status,
		"segments":   report.Segments,
		"started_at": report.StartedAt,
		"created_by": rtc.CreatedByTyped().String(),
	}
	return s.broker.Publish(ctx, broker.AudienceTopic(report.Audience), "room.upload", payload)
}
