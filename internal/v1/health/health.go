// Package health implements liveness and readiness HTTP probes (spec §6
// ambient operational surface).
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is the subset of broker.Service the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendStore is the subset of *store.DB the readiness probe needs to
// confirm at least one Janus backend is registered.
type BackendStore interface {
	CountBackends(ctx context.Context) (int64, error)
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	broker  Pinger
	backend BackendStore
}

// NewHandler builds a Handler. backend may be nil to skip the backend
// check (e.g. while the store isn't wired up yet in a given deployment).
func NewHandler(broker Pinger, backend BackendStore) *Handler {
	return &Handler{broker: broker, backend: backend}
}

// LivenessResponse is the liveness probe body: process-alive only, no
// dependency checks.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /healthz. Always 200 while the process runs.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /readyz: 200 only if every dependency
// check passes, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	brokerStatus := h.checkBroker(ctx)
	checks["broker"] = brokerStatus
	if brokerStatus != "healthy" {
		healthy = false
	}

	if h.backend != nil {
		backendStatus := h.checkBackends(ctx)
		checks["janus_backends"] = backendStatus
		if backendStatus != "healthy" {
			healthy = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !healthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkBroker(ctx context.Context) string {
	if h.broker == nil {
		return "healthy"
	}
	if err := h.broker.Ping(ctx); err != nil {
		logging.Error(ctx, "broker health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkBackends(ctx context.Context) string {
	count, err := h.backend.CountBackends(ctx)
	if err != nil {
		logging.Error(ctx, "backend registry health check failed", zap.Error(err))
		return "unhealthy"
	}
	if count == 0 {
		logging.Warn(ctx, "no janus backends registered")
		return "unhealthy"
	}
	return "healthy"
}
