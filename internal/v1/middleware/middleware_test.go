package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/foxford-conf/conferenced/internal/v1/auth"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCorrelationIDGeneratesWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/ping", func(c *gin.Context) {
		v, _ := c.Get("correlation_id")
		assert.NotEmpty(t, v)
		c.Status(200)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderXCorrelationID))
}

func TestCorrelationIDPreservesIncoming(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/ping", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set(HeaderXCorrelationID, "fixed-id")
	router.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Header().Get(HeaderXCorrelationID))
}

type fakeValidator struct {
	claims *auth.Claims
	err    error
}

func (f *fakeValidator) ValidateToken(tokenString string) (*auth.Claims, error) {
	return f.claims, f.err
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	router := gin.New()
	router.Use(Authenticate(&fakeValidator{}))
	router.GET("/ping", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, 401, w.Code)
}

func TestAuthenticateSetsClaims(t *testing.T) {
	agentID := id.NewAgentID()
	router := gin.New()
	router.Use(Authenticate(&fakeValidator{claims: &auth.Claims{AgentID: agentID}}))
	router.GET("/ping", func(c *gin.Context) {
		v, exists := c.Get(AgentIDKey)
		assert.True(t, exists)
		assert.Equal(t, agentID, v)
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestRequireClassroomAccessDeniesMismatchedAudience(t *testing.T) {
	roomID := id.NewRoomID()
	room := &store.Room{ID: uuid.UUID(roomID), Audience: "audience-a", ClassroomID: uuid.UUID(roomID)}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ClaimsKey, &auth.Claims{})
		c.Next()
	})
	router.GET("/rooms/:room_id", RequireClassroomAccess(func(c *gin.Context, rid id.RoomID) (*store.Room, error) {
		return room, nil
	}), func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/rooms/"+roomID.String(), nil))
	assert.Equal(t, 403, w.Code)
}

func TestRequireClassroomAccessAllowsMatchingAudience(t *testing.T) {
	roomID := id.NewRoomID()
	room := &store.Room{ID: uuid.UUID(roomID), Audience: "audience-a", ClassroomID: uuid.UUID(roomID)}
	claims := &auth.Claims{}
	claims.ResolvedAudience = "audience-a"

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ClaimsKey, claims)
		c.Next()
	})
	router.GET("/rooms/:room_id", RequireClassroomAccess(func(c *gin.Context, rid id.RoomID) (*store.Room, error) {
		return room, nil
	}), func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/rooms/"+roomID.String(), nil))
	assert.Equal(t, 200, w.Code)
}

func TestRequireClassroomAccessRejectsBadRoomID(t *testing.T) {
	router := gin.New()
	router.GET("/rooms/:room_id", RequireClassroomAccess(func(c *gin.Context, rid id.RoomID) (*store.Room, error) {
		return nil, nil
	}), func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/rooms/not-a-uuid", nil))
	assert.Equal(t, 400, w.Code)
}
