package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/processor"
	"go.lionforge.dev/internal/ratelimit"
	"go.lionforge.dev/internal/retry"
	"go.lionforge.dev/internal/transport"
)

// newScenarioExecutor wires a real RateLimiter, RetryPolicy and
// processor.PermissionFunc the way cmd/executor/main.go does, against a
// caller-supplied fake event.CallFunc instead of real HTTP.
func newScenarioExecutor(t *testing.T, queueCapacity int, limitRequests, limitTokens, interval int) (*Executor, *ratelimit.Limiter) {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{
		LimitRequests: ratelimit.IntPtr(limitRequests),
		LimitTokens:   ratelimit.IntPtr(limitTokens),
		Interval:      time.Duration(interval) * time.Second,
	})
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}

	policy, err := retry.New(retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("retry.New: %v", err)
	}
	inv := &transport.Invoker{Policy: policy, Limiter: limiter}

	x, err := New(Config{
		Processor: processor.Config{
			QueueCapacity:       queueCapacity,
			CapacityRefreshTime: 20 * time.Millisecond,
			RequestPermission: func(e *event.Event) bool {
				if limiter.ExceedsBudget(e.RequiredTokens, e.EstimatedOutputTokens) {
					if event.MarkProcessing(e) {
						event.FailWith(e, "required and estimated tokens exceed the configured token budget", 0)
					}
					return true
				}
				return limiter.AdmitAndReserve(time.Now(), e.RequiredTokens, e.EstimatedOutputTokens)
			},
		},
		Invoke: inv.Invoke,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return x, limiter
}

// TestScenarioBurstWithinCapacity: five 10-token events against
// queue_capacity=5, limit_requests=5, limit_tokens=100 all complete in
// one process cycle, leaving 0 requests and 50 tokens available before
// replenishment.
func TestScenarioBurstWithinCapacity(t *testing.T) {
	x, limiter := newScenarioExecutor(t, 5, 5, 100, 60)

	call := func(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
		time.Sleep(10 * time.Millisecond)
		return &event.Response{Status: 200, Body: map[string]any{"usage": map[string]any{"total_tokens": float64(10)}}}, nil
	}

	for i := 0; i < 5; i++ {
		e := event.New(call, 10, 0, nil, nil)
		if err := x.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := x.Forward(context.Background()); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	completed, err := x.CompletedEvents()
	if err != nil {
		t.Fatalf("CompletedEvents: %v", err)
	}
	if len(completed) != 5 {
		t.Fatalf("expected all 5 events completed, got %d", len(completed))
	}

	snap := limiter.Snapshot()
	if snap.AvailableRequests != 0 {
		t.Fatalf("expected 0 available requests before replenishment, got %d", snap.AvailableRequests)
	}
	if snap.AvailableTokens != 50 {
		t.Fatalf("expected 50 available tokens before replenishment, got %d", snap.AvailableTokens)
	}
}

// TestScenarioBurstExceedingCapacity: 7 events against the same rate
// limits as above but queue_capacity=10, so all 7 fit in the queue; only
// 5 dispatch in the first cycle, the remaining 2 stay pending until
// capacity is released.
func TestScenarioBurstExceedingCapacity(t *testing.T) {
	x, limiter := newScenarioExecutor(t, 10, 5, 100, 60)

	var dispatched int32
	call := func(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
		atomic.AddInt32(&dispatched, 1)
		return &event.Response{Status: 200, Body: map[string]any{"usage": map[string]any{"total_tokens": float64(10)}}}, nil
	}

	for i := 0; i < 7; i++ {
		e := event.New(call, 10, 0, nil, nil)
		if err := x.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := x.Forward(context.Background()); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if got := atomic.LoadInt32(&dispatched); got != 5 {
		t.Fatalf("expected exactly 5 calls dispatched before capacity exhausted, got %d", got)
	}

	pending, err := x.PendingEvents()
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 events still pending, got %d", len(pending))
	}

	limiter.ReleaseExpired(time.Now().Add(61 * time.Second))
	if err := x.Forward(context.Background()); err != nil {
		t.Fatalf("second Forward: %v", err)
	}
	if got := atomic.LoadInt32(&dispatched); got != 7 {
		t.Fatalf("expected all 7 calls dispatched after replenishment, got %d", got)
	}
}

// TestScenarioRequestExceedsBudget: a single event whose declared cost
// exceeds limit_tokens fails immediately without its call ever being
// invoked.
func TestScenarioRequestExceedsBudget(t *testing.T) {
	x, _ := newScenarioExecutor(t, 5, 5, 100, 60)

	var called int32
	call := func(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
		atomic.AddInt32(&called, 1)
		return &event.Response{Status: 200}, nil
	}

	e := event.New(call, 80, 50, nil, nil)
	if err := x.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := x.Forward(context.Background()); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if atomic.LoadInt32(&called) != 0 {
		t.Fatal("expected call to never be invoked when the request exceeds the token budget")
	}
	if e.Status() != event.Failed {
		t.Fatalf("expected event to be FAILED, got %s", e.Status())
	}
}
