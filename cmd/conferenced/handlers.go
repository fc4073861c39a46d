package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/broker"
	"github.com/foxford-conf/conferenced/internal/v1/cache"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/ingress"
	"github.com/foxford-conf/conferenced/internal/v1/logging"
	"github.com/foxford-conf/conferenced/internal/v1/middleware"
	"github.com/foxford-conf/conferenced/internal/v1/presence"
	"github.com/foxford-conf/conferenced/internal/v1/rwconfig"
	"github.com/foxford-conf/conferenced/internal/v1/signaling"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/foxford-conf/conferenced/internal/v1/transport"
	"github.com/foxford-conf/conferenced/internal/v1/vacuum"
	"github.com/foxford-conf/conferenced/pkg/janusclient"
)

// writeError maps an *apperr.Error to its documented HTTP status (spec
// §7); any other error is a bug, not a classified outcome, so it is
// reported as 500 without leaking its text.
func writeError(c *gin.Context, err error) {
	if appErr, ok := apperr.As(err); ok {
		c.JSON(apperr.Status(appErr.Kind), gin.H{"error": apperr.MachineID(appErr.Kind), "title": apperr.Title(appErr.Kind)})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func respond(c *gin.Context, status int, v any) {
	resp, err := transport.NewResponse(status, v, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, resp)
}

type createRoomRequest struct {
	Audience         string              `json:"audience" binding:"required"`
	ClassroomID      string              `json:"classroom_id" binding:"required"`
	TimeStart        *time.Time          `json:"time_start"`
	TimeEnd          *time.Time          `json:"time_end"`
	RtcSharingPolicy store.SharingPolicy `json:"rtc_sharing_policy"`
	Reserve          *int32              `json:"reserve"`
}

func handleCreateRoom(db *store.DB, caches *cache.Caches) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		classroomID, err := id.ParseClassroomID(req.ClassroomID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_classroom_id"})
			return
		}

		room := &store.Room{
			ID:               uuid.UUID(id.NewRoomID()),
			Audience:         req.Audience,
			ClassroomID:      uuid.UUID(classroomID),
			TimeStart:        req.TimeStart,
			TimeEnd:          req.TimeEnd,
			RtcSharingPolicy: req.RtcSharingPolicy,
			Reserve:          req.Reserve,
		}
		if err := db.InsertRoom(c.Request.Context(), room); err != nil {
			writeError(c, err)
			return
		}
		if err := caches.PutRoom(c.Request.Context(), room); err != nil {
			logging.Warn(c.Request.Context(), "room cache populate failed", zap.Error(err))
		}
		respond(c, http.StatusCreated, gin.H{"id": room.RoomID().String()})
	}
}

func handleGetRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomVal, _ := c.Get(middleware.RoomKey)
		room := roomVal.(*store.Room)
		respond(c, http.StatusOK, gin.H{
			"id":                 room.RoomID().String(),
			"audience":           room.Audience,
			"classroom_id":       room.ClassroomIDTyped().String(),
			"rtc_sharing_policy": room.RtcSharingPolicy,
		})
	}
}

func handleEnterRoom(svc *presence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomVal, _ := c.Get(middleware.RoomKey)
		room := roomVal.(*store.Room)
		agentID := agentIDFromContext(c)

		if err := svc.Enter(c.Request.Context(), room.RoomID(), agentID, time.Now()); err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"status": "entered"})
	}
}

func handleLeaveRoom(svc *presence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomVal, _ := c.Get(middleware.RoomKey)
		room := roomVal.(*store.Room)
		agentID := agentIDFromContext(c)

		if err := svc.Leave(c.Request.Context(), room.RoomID(), agentID, time.Now()); err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"status": "left"})
	}
}

func agentIDFromContext(c *gin.Context) id.AgentID {
	v, _ := c.Get(middleware.AgentIDKey)
	agentID, _ := v.(id.AgentID)
	return agentID
}

type rtcConnectRequest struct {
	RoomID string           `json:"room_id" binding:"required"`
	RtcID  string           `json:"rtc_id" binding:"required"`
	Intent signaling.Intent `json:"intent" binding:"required"`
	Group  string           `json:"group"`
}

func handleRtcConnect(orch *signaling.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rtcConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		roomID, err := id.ParseRoomID(req.RoomID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
			return
		}
		rtcID, err := id.ParseRtcID(req.RtcID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rtc_id"})
			return
		}

		handle, err := orch.Connect(c.Request.Context(), signaling.ConnectRequest{
			RoomID:  roomID,
			RtcID:   rtcID,
			AgentID: agentIDFromContext(c),
			Intent:  req.Intent,
			Group:   req.Group,
		}, time.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"handle": handle.String()})
	}
}

type rtcSignalRequest struct {
	Handle string            `json:"handle" binding:"required"`
	Jsep   *janusclient.Jsep `json:"jsep" binding:"required"`
	Label  string            `json:"label"`
}

func handleRtcSignal(orch *signaling.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rtcSignalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		handle, err := id.ParseHandle(req.Handle)
		if err != nil {
			writeError(c, apperr.Wrap(apperr.KindInvalidHandleID, err))
			return
		}

		jsep, err := orch.Signal(c.Request.Context(), signaling.SignalRequest{
			Handle: handle,
			Jsep:   req.Jsep,
			Label:  req.Label,
		}, time.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"jsep": jsep})
	}
}

type backendOnlineRequest struct {
	BackendID        string  `json:"backend_id" binding:"required"`
	JanusURL         string  `json:"janus_url" binding:"required"`
	Capacity         *int32  `json:"capacity"`
	BalancerCapacity *int32  `json:"balancer_capacity"`
	Group            *string `json:"group"`
	APIVersion       string  `json:"api_version"`
}

func handleBackendOnline(mgr *ingress.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req backendOnlineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		backendID, err := id.ParseBackendID(req.BackendID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_backend_id"})
			return
		}

		err = mgr.Online(c.Request.Context(), ingress.OnlineRequest{
			BackendID:        backendID,
			JanusURL:         req.JanusURL,
			Capacity:         req.Capacity,
			BalancerCapacity: req.BalancerCapacity,
			Group:            req.Group,
			APIVersion:       req.APIVersion,
		}, time.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"status": "online"})
	}
}

type readerConfigRequest struct {
	Items []struct {
		ReaderID     string `json:"reader_id" binding:"required"`
		ReceiveVideo bool   `json:"receive_video"`
		ReceiveAudio bool   `json:"receive_audio"`
	} `json:"items" binding:"required"`
}

func handleSetReaderConfig(eng *rwconfig.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rtcID, err := id.ParseRtcID(c.Param("rtc_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rtc_id"})
			return
		}
		var req readerConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		if len(req.Items) > store.MaxConfigBatch {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch_too_large"})
			return
		}

		items := make([]store.ReaderConfigItem, 0, len(req.Items))
		for _, it := range req.Items {
			readerID, err := id.ParseAgentID(it.ReaderID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reader_id"})
				return
			}
			items = append(items, store.ReaderConfigItem{
				ReaderID:     readerID,
				ReceiveVideo: it.ReceiveVideo,
				ReceiveAudio: it.ReceiveAudio,
			})
		}

		if err := eng.SetReaderConfig(c.Request.Context(), rtcID, items, time.Now()); err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"status": "updated"})
	}
}

type writerConfigRequest struct {
	SendVideo bool   `json:"send_video"`
	SendAudio bool   `json:"send_audio"`
	VideoRemb *int64 `json:"video_remb"`
}

func handleSetWriterConfig(eng *rwconfig.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rtcID, err := id.ParseRtcID(c.Param("rtc_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rtc_id"})
			return
		}
		var req writerConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}

		agentID := agentIDFromContext(c)
		if err := eng.SetWriterConfig(c.Request.Context(), rtcID, req.SendVideo, req.SendAudio, req.VideoRemb, &agentID, time.Now()); err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"status": "updated"})
	}
}

type updateRoomRequest struct {
	TimeStart *time.Time `json:"time_start"`
	TimeEnd   *time.Time `json:"time_end"`
}

// handleUpdateRoom implements room.update (spec §4.2): a partial update
// to time_start/time_end that, when it coerces the room's end into the
// past, closes the room with the exact same side effects as room.close —
// disconnect agents, stop streams, request upload, broadcast room.close —
// instead of leaving those to the next vacuum tick (spec §4.2 scenario 5).
func handleUpdateRoom(db *store.DB, vacuumSvc *vacuum.Service, brokerSvc *broker.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomVal, _ := c.Get(middleware.RoomKey)
		room := roomVal.(*store.Room)

		var req updateRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}

		now := time.Now()
		updated, closed, err := db.UpdateRoom(c.Request.Context(), room.RoomID(), req.TimeStart, req.TimeEnd, now)
		if err != nil {
			writeError(c, err)
			return
		}

		if closed {
			roomID := updated.RoomID()
			if err := vacuumSvc.RequestUploadForRoom(c.Request.Context(), roomID); err != nil {
				logging.Warn(c.Request.Context(), "upload request after room.update closure failed", zap.Error(err))
			}
			payload := map[string]string{"room_id": roomID.String()}
			if err := brokerSvc.Publish(c.Request.Context(), broker.RoomTopic(roomID.String()), "room.close", payload); err != nil {
				logging.Warn(c.Request.Context(), "room.close broadcast after room.update failed", zap.Error(err))
			}
			if err := brokerSvc.Publish(c.Request.Context(), broker.AudienceTopic(updated.Audience), "room.update", payload); err != nil {
				logging.Warn(c.Request.Context(), "room.update broadcast failed", zap.Error(err))
			}
		}

		respond(c, http.StatusOK, gin.H{
			"id":     updated.RoomID().String(),
			"time":   updated.Interval(),
			"closed": closed,
		})
	}
}

// handleRtcCreate implements rtc.create (spec §4.2, §6): the room must
// be Open, the owned/shared at-most-one-rtc constraint is enforced, and
// an unbounded room's first rtc arms its end at start+MaxWebinarDuration.
func handleRtcCreate(db *store.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomVal, _ := c.Get(middleware.RoomKey)
		room := roomVal.(*store.Room)
		agentID := agentIDFromContext(c)

		rtc, err := db.CreateRtc(c.Request.Context(), room.RoomID(), agentID, time.Now())
		if err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusCreated, gin.H{"id": rtc.RtcID().String()})
	}
}

type updateGroupsRequest struct {
	Groups store.GroupList `json:"groups"`
}

// handleUpdateGroups implements group.update (spec §4.3): replaces the
// room's group partition and reconciles every owned rtc's derived
// reader config in the same call, so the new partition takes effect
// immediately.
func handleUpdateGroups(eng *rwconfig.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomVal, _ := c.Get(middleware.RoomKey)
		room := roomVal.(*store.Room)

		var req updateGroupsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}

		if err := eng.UpdateGroups(c.Request.Context(), room.RoomID(), req.Groups, time.Now()); err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"status": "updated"})
	}
}

func handleBackendOffline(mgr *ingress.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		backendID, err := id.ParseBackendID(c.Param("backend_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_backend_id"})
			return
		}
		if err := mgr.Offline(c.Request.Context(), backendID, time.Now()); err != nil {
			writeError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"status": "offline"})
	}
}
