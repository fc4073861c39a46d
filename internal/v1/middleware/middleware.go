// Package middleware contains Gin middleware for conferenced (spec §6
// ambient HTTP transport concerns: correlation, authentication,
// authorization).
package middleware

import (
	"net/http"
	"strings"

	"github.com/foxford-conf/conferenced/internal/v1/auth"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/logging"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID adds a correlation ID to the request context, generating
// one when the caller didn't supply it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)
		c.Next()
	}
}

// Validator is the subset of *auth.Validator the auth middleware needs.
type Validator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// ClaimsKey and AgentIDKey are the gin context keys Authenticate sets.
const (
	ClaimsKey  = "claims"
	AgentIDKey = "agent_id"
	RoomKey    = "room"
)

// Authenticate validates the Bearer token on every request and, on
// success, sets the resolved claims and agent id on the gin context for
// downstream handlers and the rate limiter to key on.
func Authenticate(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.ValidateToken(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(AgentIDKey, claims.AgentID)
		c.Next()
	}
}

// RoomGetter loads a room by id, the shape store.DB.GetRoom already
// satisfies.
type RoomGetter func(c *gin.Context, roomID id.RoomID) (*store.Room, error)

// RequireClassroomAccess loads the room named by the "room_id" URL
// param via get and aborts with 403 unless the caller's token audience
// matches the room's audience. Authorization is always logged and
// reasoned about in terms of the room's classroom id, never the room id
// itself, per this system's authz-key convention (room ids are
// per-instance and get discarded; classroom ids are the durable
// authorization object).
func RequireClassroomAccess(get RoomGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID, err := id.ParseRoomID(c.Param("room_id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid room_id"})
			return
		}

		room, err := get(c, roomID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}

		claimsVal, exists := c.Get(ClaimsKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
			return
		}
		claims := claimsVal.(*auth.Claims)

		classroomID := room.ClassroomIDTyped()
		if claims.Audience() != room.Audience {
			logging.Warn(c.Request.Context(), "classroom access denied",
				zap.String("classroom_id", classroomID.String()),
				zap.String("agent_audience", claims.Audience()),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(RoomKey, room)
		c.Next()
	}
}
