// Package ratelimit throttles WebSocket connection attempts and per-connection
// message volume, backed by an in-memory store or, when configured, a
// Redis-backed shared counter guarded by a circuit breaker (internal/bus).
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/instant-chat/instant/internal/bus"
	"github.com/instant-chat/instant/internal/config"
	"github.com/instant-chat/instant/internal/logging"
	"github.com/instant-chat/instant/internal/metrics"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds two limiter instances: one keyed by remote IP, checked at
// connect time (protects against connection floods from a single source),
// and one keyed by ConnectionID, checked for every inbound message (protects
// the distributor from a single chatty client, independent of the send-queue
// backpressure policy that protects the outbound direction).
type RateLimiter struct {
	wsIP   *limiter.Limiter
	wsConn *limiter.Limiter
	redis  *bus.Service
}

// NewRateLimiter builds a RateLimiter from cfg. When redisSvc is nil the
// limiters use an in-memory store; rate limits are then per-process only.
func NewRateLimiter(cfg *config.Config, redisSvc *bus.Service) (*RateLimiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	connRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS connection rate: %w", err)
	}

	var store limiter.Store
	if redisSvc != nil {
		s, err := sredis.NewStoreWithOptions(redisSvc.Client(), limiter.StoreOptions{
			Prefix: "instant:ratelimit:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store (Redis disabled)")
	}

	return &RateLimiter{
		wsIP:   limiter.New(store, ipRate),
		wsConn: limiter.New(store, connRate),
		redis:  redisSvc,
	}, nil
}

// CheckWebSocket enforces the per-IP connect rate. It writes a 429 response
// and returns false when the limit is exceeded; the caller must not proceed
// with the WS upgrade in that case.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lctx, err := rl.checkThrough(ctx, rl.wsIP, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed", zap.Error(err))
		metrics.RateLimitDecisions.WithLabelValues("ws_ip", "allowed_fail_open").Inc()
		return true
	}

	if lctx.Reached {
		metrics.RateLimitDecisions.WithLabelValues("ws_ip", "rejected").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this address"})
		return false
	}

	metrics.RateLimitDecisions.WithLabelValues("ws_ip", "allowed").Inc()
	return true
}

// CheckConnection enforces the per-ConnectionID message rate. Call this from
// the distributor before dispatching a client-originated envelope.
func (rl *RateLimiter) CheckConnection(ctx context.Context, connectionID string) error {
	lctx, err := rl.checkThrough(ctx, rl.wsConn, connectionID)
	if err != nil {
		logging.Error(ctx, "connection rate limiter store failed", zap.Error(err))
		metrics.RateLimitDecisions.WithLabelValues("ws_connection", "allowed_fail_open").Inc()
		return nil
	}

	if lctx.Reached {
		metrics.RateLimitDecisions.WithLabelValues("ws_connection", "rejected").Inc()
		return fmt.Errorf("rate limit exceeded for connection %s", connectionID)
	}

	metrics.RateLimitDecisions.WithLabelValues("ws_connection", "allowed").Inc()
	return nil
}

// checkThrough routes the limiter's store lookup through the Redis circuit
// breaker when a Redis-backed store is configured, so a Redis outage surfaces
// as an error here (and the callers above fail open) instead of blocking.
func (rl *RateLimiter) checkThrough(ctx context.Context, l *limiter.Limiter, key string) (limiter.Context, error) {
	if rl.redis == nil {
		return l.Get(ctx, key)
	}

	res, err := rl.redis.Execute(func() (interface{}, error) {
		return l.Get(ctx, key)
	})
	if err != nil {
		return limiter.Context{}, err
	}
	return res.(limiter.Context), nil
}
