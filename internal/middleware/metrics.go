package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campfire_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// MessagesCreated counts messages persisted, by room kind.
	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campfire_messages_created_total",
		Help: "Total number of messages created",
	}, []string{"room_kind"})

	// BroadcastEvents counts fan-out events emitted per channel kind.
	BroadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campfire_broadcast_events_total",
		Help: "Total fan-out broadcast events by channel",
	}, []string{"channel"})

	// BroadcastFailures counts fan-out steps that failed and were dropped.
	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campfire_broadcast_failures_total",
		Help: "Total fan-out broadcast steps dropped after a transport error",
	}, []string{"channel"})

	// PresenceTransitions counts present/absent edges per direction.
	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campfire_presence_transitions_total",
		Help: "Total presence edge transitions",
	}, []string{"direction"})

	// WebsocketConnections is the gauge of active realtime connections.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campfire_websocket_connections",
		Help: "Number of active websocket connections",
	})

	// PushEnqueued counts background push deliveries enqueued.
	PushEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campfire_push_enqueued_total",
		Help: "Total push notification jobs enqueued",
	})
)

var (
	promOnce     sync.Once
	promInstance *fiberprometheus.FiberPrometheus
)

// InitMetrics creates the Prometheus HTTP middleware for the service.
// Idempotent: the collectors register with the default registry once.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promInstance = fiberprometheus.New(serviceName)
	})
	return promInstance
}

// MetricsMiddleware registers the Prometheus middleware and exposes /metrics.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return prom.Middleware
}
