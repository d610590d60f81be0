package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventsAppendedIncrements(t *testing.T) {
	EventsAppended.WithLabelValues("test-executor").Add(0) // register the series
	before := testutil.ToFloat64(EventsAppended.WithLabelValues("test-executor"))
	EventsAppended.WithLabelValues("test-executor").Inc()
	after := testutil.ToFloat64(EventsAppended.WithLabelValues("test-executor"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestEventsCompletedLabelsCompletedAndFailed(t *testing.T) {
	EventsCompleted.WithLabelValues("test-executor", "completed").Inc()
	EventsCompleted.WithLabelValues("test-executor", "failed").Inc()
	if testutil.ToFloat64(EventsCompleted.WithLabelValues("test-executor", "completed")) < 1 {
		t.Fatal("expected completed counter to be incremented")
	}
}

func TestProcessorGaugesAreSettable(t *testing.T) {
	ProcessorQueueDepth.WithLabelValues("test-executor").Set(5)
	if got := testutil.ToFloat64(ProcessorQueueDepth.WithLabelValues("test-executor")); got != 5 {
		t.Fatalf("expected queue depth gauge 5, got %v", got)
	}
	ProcessorAvailableCapacity.WithLabelValues("test-executor").Set(3)
	if got := testutil.ToFloat64(ProcessorAvailableCapacity.WithLabelValues("test-executor")); got != 3 {
		t.Fatalf("expected available capacity gauge 3, got %v", got)
	}
}

func TestRateLimiterGaugesTrackLiveCounters(t *testing.T) {
	RateLimiterAvailableRequests.WithLabelValues("test-executor").Set(10)
	RateLimiterAvailableTokens.WithLabelValues("test-executor").Set(1000)
	if got := testutil.ToFloat64(RateLimiterAvailableRequests.WithLabelValues("test-executor")); got != 10 {
		t.Fatalf("expected available requests gauge 10, got %v", got)
	}
}

func TestCircuitBreakerStateConstantsAreDistinct(t *testing.T) {
	if CircuitBreakerClosed == CircuitBreakerOpen || CircuitBreakerOpen == CircuitBreakerHalfOpen {
		t.Fatal("expected circuit breaker state constants to be distinct")
	}
}
