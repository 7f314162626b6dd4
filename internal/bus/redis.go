// Package bus provides the optional Redis connection used to back the rate
// limiter's shared counters (internal/ratelimit). It does not distribute room
// membership or messages across processes: Instant's Non-goals keep a single
// process owning all rooms, so this package's scope is deliberately limited
// to a circuit-breaker-guarded counter store.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/instant-chat/instant/internal/logging"
	"github.com/instant-chat/instant/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Service wraps a Redis client with a circuit breaker so an outage degrades
// the rate limiter to fail-open instead of rejecting all traffic.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, for use by the
// ulule/limiter/v3 Redis store driver.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService dials addr and verifies connectivity before returning.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis-ratelimit",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(ctx, "connected to Redis rate-limit store", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Execute runs fn through the circuit breaker, translating an open breaker
// into ErrBreakerOpen so callers can fail open without inspecting gobreaker
// internals directly.
func (s *Service) Execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := s.cb.Execute(fn)
	if err == gobreaker.ErrOpenState {
		return nil, ErrBreakerOpen
	}
	return res, err
}

// ErrBreakerOpen is returned by Execute when the circuit breaker has tripped.
var ErrBreakerOpen = fmt.Errorf("redis rate-limit store circuit breaker open")

// Ping checks Redis connectivity, used by the /readyz handler.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
