// Package telemetry declares the executor's Prometheus metrics, following
// the naming and bucket conventions of internal/common/metrics/metrics.go
// and internal/router/metrics/pool.go, retargeted from pool/mediator
// subsystems to processor/retry/ratelimit/executor subsystems.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppended tracks total events appended to an executor.
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lionforge",
			Subsystem: "executor",
			Name:      "events_appended_total",
			Help:      "Total events appended to the executor",
		},
		[]string{"executor"},
	)

	// EventsCompleted tracks terminal event outcomes.
	EventsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lionforge",
			Subsystem: "executor",
			Name:      "events_completed_total",
			Help:      "Total events reaching a terminal status",
		},
		[]string{"executor", "status"}, // status: completed, failed
	)

	// EventDuration tracks per-event invocation duration.
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lionforge",
			Subsystem: "executor",
			Name:      "event_duration_seconds",
			Help:      "Time from PROCESSING to a terminal status",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"executor"},
	)

	// ProcessorQueueDepth tracks the number of events queued but not yet
	// dispatched.
	ProcessorQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lionforge",
			Subsystem: "processor",
			Name:      "queue_depth",
			Help:      "Number of events pending in the processor queue",
		},
		[]string{"executor"},
	)

	// ProcessorAvailableCapacity tracks the per-cycle dispatch budget
	// remaining.
	ProcessorAvailableCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lionforge",
			Subsystem: "processor",
			Name:      "available_capacity",
			Help:      "Remaining per-cycle dispatch budget",
		},
		[]string{"executor"},
	)

	// ProcessorInFlight tracks concurrently running invocations.
	ProcessorInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lionforge",
			Subsystem: "processor",
			Name:      "in_flight",
			Help:      "Number of invocations currently running",
		},
		[]string{"executor"},
	)

	// RateLimiterAvailableRequests tracks the live request-admission
	// counter.
	RateLimiterAvailableRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lionforge",
			Subsystem: "rate_limiter",
			Name:      "available_requests",
			Help:      "Live available_requests counter",
		},
		[]string{"executor"},
	)

	// RateLimiterAvailableTokens tracks the live token-admission counter.
	RateLimiterAvailableTokens = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lionforge",
			Subsystem: "rate_limiter",
			Name:      "available_tokens",
			Help:      "Live available_tokens counter",
		},
		[]string{"executor"},
	)

	// RateLimiterHeaderReconciliations tracks header-driven downward
	// corrections to the live counters.
	RateLimiterHeaderReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lionforge",
			Subsystem: "rate_limiter",
			Name:      "header_reconciliations_total",
			Help:      "Total reconciliations driven by upstream rate-limit headers",
		},
		[]string{"executor", "dimension"}, // dimension: requests, tokens
	)

	// RetryAttempts tracks retry attempts by outcome.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lionforge",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total retry attempts by outcome",
		},
		[]string{"executor", "outcome"}, // outcome: success, rate_limited, server_error, other_error, exhausted
	)

	// CircuitBreakerState tracks a gauge of 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lionforge",
			Subsystem: "retry",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
		[]string{"executor", "target"},
	)

	// IngestMessagesReceived tracks broker messages translated into
	// events by an ingest source.
	IngestMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lionforge",
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Total broker messages received by an ingest source",
		},
		[]string{"source"}, // source: nats, sqs
	)

	// IngestAcksSent tracks broker acknowledgements sent after an event
	// reaches a terminal status.
	IngestAcksSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lionforge",
			Subsystem: "ingest",
			Name:      "acks_sent_total",
			Help:      "Total broker acknowledgements sent after terminal status",
		},
		[]string{"source", "status"},
	)
)

// Circuit breaker state values, mirrored from gobreaker.State for gauge
// reporting.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerHalfOpen = 1
	CircuitBreakerOpen     = 2
)
