// Package metrics declares the Prometheus collectors for the control
// plane. Naming convention: namespace_subsystem_name, mirroring the
// teacher's video_conference_* layout but scoped to conference_*.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoomsActive tracks rooms currently open (not yet closed).
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conference",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of open rooms",
	})

	// RoomAgentConnections tracks connected agent_connections per room.
	RoomAgentConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "conference",
		Subsystem: "room",
		Name:      "agent_connections",
		Help:      "Number of connected agent_connections in each room",
	}, []string{"room_id"})

	// BackendLoad tracks the computed load (§4.1) of each backend.
	BackendLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "conference",
		Subsystem: "backend",
		Name:      "load",
		Help:      "Current placement load of each Janus backend",
	}, []string{"backend_id"})

	// PlacementDecisions counts placement outcomes.
	PlacementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "backend",
		Name:      "placement_decisions_total",
		Help:      "Total room-to-backend placement decisions by outcome",
	}, []string{"outcome"})

	// JanusRequestsTotal counts backend requests by transaction tag and outcome.
	JanusRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "janus",
		Name:      "requests_total",
		Help:      "Total requests issued to Janus backends",
	}, []string{"tag", "status"})

	// JanusRequestDuration tracks backend request latency.
	JanusRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conference",
		Subsystem: "janus",
		Name:      "request_duration_seconds",
		Help:      "Duration of requests issued to Janus backends",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tag"})

	// JanusPollEvents counts poller-dispatched event variants.
	JanusPollEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "janus",
		Name:      "poll_events_total",
		Help:      "Total events dispatched by the long-poll task",
	}, []string{"backend_id", "kind"})

	// CircuitBreakerState: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "conference",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	VacuumRoomsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "vacuum",
		Name:      "rooms_closed_total",
		Help:      "Total rooms closed by a vacuum pass",
	}, []string{"reason"})

	UploadsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "upload",
		Name:      "requested_total",
		Help:      "Total upload_stream requests issued to backends",
	}, []string{"status"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conference",
		Subsystem: "errors",
		Name:      "total",
		Help:      "Total application errors by taxonomy kind",
	}, []string{"kind"})
)
