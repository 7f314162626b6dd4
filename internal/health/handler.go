// Package health exposes the process liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/instant-chat/instant/internal/bus"
	"github.com/instant-chat/instant/internal/logging"
	"go.uber.org/zap"
)

// Handler serves /healthz and /readyz.
type Handler struct {
	redis *bus.Service
}

// NewHandler builds a Handler. redisService may be nil when the optional
// Redis-backed rate-limit store is not configured, in which case Readiness
// always reports the redis check healthy.
func NewHandler(redisService *bus.Service) *Handler {
	return &Handler{redis: redisService}
}

// LivenessResponse is the /healthz body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness always reports 200 once the process is serving requests at all;
// it checks no dependency, only that this handler is reachable.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness returns 200 only if the optional Redis rate-limit store (when
// configured) answers PING; 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	redisStatus := "healthy"
	if err := h.redis.Ping(ctx); err != nil {
		logging.Error(ctx, "redis readiness check failed", zap.Error(err))
		redisStatus = "unhealthy"
	}

	status := "ready"
	code := http.StatusOK
	if redisStatus != "healthy" {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    map[string]string{"redis": redisStatus},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
