// Package ratelimit enforces per-class request rates using Redis when
// available, falling back to an in-memory store (teacher's dual-store
// RateLimiter, generalized from its fixed API classes to named classes
// keyed by the caller's resolved agent identity).
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/config"
	"github.com/foxford-conf/conferenced/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/foxford-conf/conferenced/internal/v1/logging"
)

// Class is one of the rate classes handlers are grouped into.
type Class string

const (
	ClassGlobal       Class = "global"
	ClassSignaling    Class = "signaling"
	ClassRoomMutation Class = "room_mutation"
)

var defaultRates = map[Class]string{
	ClassGlobal:       "1000-M",
	ClassSignaling:    "300-M",
	ClassRoomMutation: "60-M",
}

// Limiter enforces rate classes against a shared store.
type Limiter struct {
	limiters map[Class]*limiter.Limiter
	store    limiter.Store
}

// New builds one limiter.Limiter per Class, backed by redisClient when
// non-nil, an in-memory store otherwise (dev/test fallback, same
// "fail open on store error" posture as the teacher).
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "ratelimit:v1:"})
		if err != nil {
			return nil, fmt.Errorf("creating redis rate limit store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store")
	}

	l := &Limiter{limiters: make(map[Class]*limiter.Limiter, len(defaultRates)), store: store}
	for class, defaultFormatted := range defaultRates {
		formatted := defaultFormatted
		if cfg != nil {
			if override, ok := cfg.RateLimits[string(class)]; ok && override != "" {
				formatted = override
			}
		}
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("rate class %s: invalid rate %q: %w", class, formatted, err)
		}
		l.limiters[class] = limiter.New(store, rate)
	}
	return l, nil
}

// Allow checks key against class's rate and returns the limiter.Context
// describing the outcome (limit/remaining/reset). A store error is
// returned to the caller; Middleware is what fails open on it.
func (l *Limiter) Allow(ctx context.Context, class Class, key string) (limiter.Context, error) {
	inst, ok := l.limiters[class]
	if !ok {
		return limiter.Context{}, fmt.Errorf("unknown rate class: %s", class)
	}
	return inst.Get(ctx, key)
}

// Middleware returns gin middleware enforcing class, keyed by the
// agent id resolved onto the context by the auth middleware, falling
// back to the client IP for unauthenticated requests.
func (l *Limiter) Middleware(class Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if agentID, exists := c.Get("agent_id"); exists {
			if s, ok := agentID.(fmt.Stringer); ok {
				key = s.String()
			}
		}

		rc, err := l.Allow(c.Request.Context(), class, key)
		if err != nil {
			logging.Error(c.Request.Context(), "rate limiter store failed", zap.String("class", string(class)), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(rc.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(rc.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(rc.Reset, 10))

		if rc.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), string(class)).Inc()
			c.Header("Retry-After", strconv.FormatInt(rc.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": rc.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
