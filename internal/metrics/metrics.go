// Package metrics declares the Prometheus metrics exposed at GET /metrics.
//
// Naming convention: namespace_subsystem_name
//   - namespace: instant (application-level grouping)
//   - subsystem: websocket, room, producer, rate_limit, circuit_breaker
//   - name: specific metric (connections_active, envelopes_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSocketConnections tracks the current number of open client connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "instant",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of non-empty rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "instant",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the member count of each room (GaugeVec keyed by room name).
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "instant",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room"})

	// EnvelopesProcessed tracks every envelope the distributor dispatches, labeled
	// by envelope type and outcome (ok, error, rejected).
	EnvelopesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "websocket",
		Name:      "envelopes_total",
		Help:      "Total envelopes processed by the distributor",
	}, []string{"type", "outcome"})

	// BroadcastDuration tracks the time spent fanning an envelope out to a room's members.
	BroadcastDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "instant",
		Subsystem: "room",
		Name:      "broadcast_seconds",
		Help:      "Time spent fanning an envelope out to a room's members",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"type"})

	// ProducerCacheResults tracks the file producer pipeline's single-flight cache.
	ProducerCacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "producer",
		Name:      "cache_results_total",
		Help:      "File producer cache lookups, labeled by result (hit, miss)",
	}, []string{"result"})

	// CircuitBreakerState tracks the rate-limit Redis store's breaker state.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "instant",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the rate-limit store's circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// RateLimitDecisions tracks every rate-limit check, labeled by limiter and outcome.
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "rate_limit",
		Name:      "decisions_total",
		Help:      "Total rate-limit checks, labeled by limiter and outcome (allowed, allowed_fail_open, rejected)",
	}, []string{"limiter", "outcome"})

	// RedisOperationsTotal tracks the total number of Redis operations issued by
	// the rate-limit store, labeled by operation and status.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations issued by the rate-limit store",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of those Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "instant",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations issued by the rate-limit store",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// IncConnection records a new client connection.
func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

// DecConnection records a closed client connection.
func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
