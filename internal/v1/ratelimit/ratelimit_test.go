package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/foxford-conf/conferenced/internal/v1/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, overrides map[string]string) *Limiter {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l, err := New(&config.Config{RateLimits: overrides}, nil)
	require.NoError(t, err)
	return l
}

func TestAllowUnderLimit(t *testing.T) {
	l := newTestLimiter(t, map[string]string{"global": "5-M"})
	rc, err := l.Allow(context.Background(), ClassGlobal, "agent-1")
	require.NoError(t, err)
	assert.False(t, rc.Reached)
}

func TestAllowExceedsLimit(t *testing.T) {
	l := newTestLimiter(t, map[string]string{"signaling": "1-M"})
	ctx := context.Background()

	rc, err := l.Allow(ctx, ClassSignaling, "agent-1")
	require.NoError(t, err)
	assert.False(t, rc.Reached)

	rc, err = l.Allow(ctx, ClassSignaling, "agent-1")
	require.NoError(t, err)
	assert.True(t, rc.Reached)
}

func TestAllowUnknownClass(t *testing.T) {
	l := newTestLimiter(t, nil)
	_, err := l.Allow(context.Background(), Class("nonexistent"), "agent-1")
	require.Error(t, err)
}

func TestMiddlewareBlocksAfterLimit(t *testing.T) {
	l := newTestLimiter(t, map[string]string{"room_mutation": "1-M"})

	router := gin.New()
	router.Use(l.Middleware(ClassRoomMutation))
	router.POST("/rooms", func(c *gin.Context) { c.Status(201) })

	w1 := httptest.NewRecorder()
	req1 := httptest.NewRequest("POST", "/rooms", nil)
	router.ServeHTTP(w1, req1)
	assert.Equal(t, 201, w1.Code)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest("POST", "/rooms", nil)
	router.ServeHTTP(w2, req2)
	assert.Equal(t, 429, w2.Code)
}

func TestMiddlewareKeysByAgentID(t *testing.T) {
	l := newTestLimiter(t, map[string]string{"global": "1-M"})

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("agent_id", stringerID("agent-a"))
		c.Next()
	})
	router.Use(l.Middleware(ClassGlobal))
	router.GET("/ping", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, 200, w.Code)
}

type stringerID string

func (s stringerID) String() string { return string(s) }
