package processor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.lionforge.dev/internal/event"
)

func noopCall(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
	return &event.Response{Status: 200}, nil
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{QueueCapacity: 0, CapacityRefreshTime: time.Second}); err == nil {
		t.Fatal("expected error for zero queue capacity")
	}
	if _, err := New(Config{QueueCapacity: 1, CapacityRefreshTime: 0}); err == nil {
		t.Fatal("expected error for zero refresh time")
	}
}

func TestProcessInvokesAdmittedEvents(t *testing.T) {
	p, err := New(Config{QueueCapacity: 5, CapacityRefreshTime: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := event.New(noopCall, 1, 0, nil, nil)
		if err := p.Enqueue(ctx, e); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var invoked int32
	p.Process(ctx, func(ctx context.Context, e *event.Event) {
		atomic.AddInt32(&invoked, 1)
		event.CompleteWith(e, "ok", time.Millisecond)
	})

	if got := atomic.LoadInt32(&invoked); got != 3 {
		t.Fatalf("expected 3 invocations, got %d", got)
	}
}

func TestProcessHonorsAdmissionPredicate(t *testing.T) {
	admit := int32(0)
	p, _ := New(Config{
		QueueCapacity:       2,
		CapacityRefreshTime: 20 * time.Millisecond,
		RequestPermission: func(e *event.Event) bool {
			return atomic.LoadInt32(&admit) == 1
		},
	})
	ctx := context.Background()
	e := event.New(noopCall, 1, 0, nil, nil)
	p.Enqueue(ctx, e)

	var invoked int32
	p.Process(ctx, func(ctx context.Context, e *event.Event) {
		atomic.AddInt32(&invoked, 1)
	})
	if atomic.LoadInt32(&invoked) != 0 {
		t.Fatal("expected no invocation while admission predicate denies")
	}
	if e.Status() != event.Pending {
		t.Fatalf("expected event to remain PENDING, got %s", e.Status())
	}
}

func TestProcessResetsCapacityAfterCycle(t *testing.T) {
	p, _ := New(Config{QueueCapacity: 2, CapacityRefreshTime: 20 * time.Millisecond})
	ctx := context.Background()
	e1 := event.New(noopCall, 1, 0, nil, nil)
	e2 := event.New(noopCall, 1, 0, nil, nil)
	p.Enqueue(ctx, e1)
	p.Enqueue(ctx, e2)

	p.Process(ctx, func(ctx context.Context, e *event.Event) {
		event.CompleteWith(e, "ok", time.Millisecond)
	})

	if p.availableCapacity != p.cfg.QueueCapacity {
		t.Fatalf("expected capacity reset to %d, got %d", p.cfg.QueueCapacity, p.availableCapacity)
	}
}

func TestStopPreventsFurtherCycles(t *testing.T) {
	p, _ := New(Config{QueueCapacity: 1, CapacityRefreshTime: 10 * time.Millisecond})
	p.Start()
	if p.State() != Running {
		t.Fatalf("expected RUNNING, got %s", p.State())
	}
	p.Stop()
	if p.State() != Stopped {
		t.Fatalf("expected STOPPED, got %s", p.State())
	}
	if !p.isStopped() {
		t.Fatal("expected isStopped true after Stop")
	}
}

func TestPanicInInvocationIsContained(t *testing.T) {
	p, _ := New(Config{QueueCapacity: 1, CapacityRefreshTime: 20 * time.Millisecond})
	ctx := context.Background()
	e := event.New(noopCall, 1, 0, nil, nil)
	p.Enqueue(ctx, e)

	p.Process(ctx, func(ctx context.Context, e *event.Event) {
		panic("boom")
	})

	if e.Status() != event.Failed {
		t.Fatalf("expected panicking invocation to mark event FAILED, got %s", e.Status())
	}
}

func TestDeferredHeadIsProcessedBeforeLaterArrivals(t *testing.T) {
	var admit int32
	p, _ := New(Config{
		QueueCapacity:       4,
		ConcurrencyLimit:    1,
		CapacityRefreshTime: 5 * time.Millisecond,
		RequestPermission: func(e *event.Event) bool {
			return atomic.LoadInt32(&admit) == 1
		},
	})
	ctx := context.Background()
	e1 := event.New(noopCall, 1, 0, nil, nil)
	p.Enqueue(ctx, e1)

	// First cycle: admission denies e1, deferring it as the head.
	p.Process(ctx, func(ctx context.Context, e *event.Event) {
		t.Fatal("expected no invocation while admission predicate denies")
	})
	if got := p.QueueLen(); got != 1 {
		t.Fatalf("expected QueueLen 1 for the deferred head, got %d", got)
	}

	e2 := event.New(noopCall, 1, 0, nil, nil)
	p.Enqueue(ctx, e2)
	atomic.StoreInt32(&admit, 1)

	var order []string
	p.Process(ctx, func(ctx context.Context, e *event.Event) {
		order = append(order, e.ID.String())
		event.CompleteWith(e, "ok", time.Millisecond)
	})

	if len(order) != 2 || order[0] != e1.ID.String() || order[1] != e2.ID.String() {
		t.Fatalf("expected deferred head e1 processed before e2, got %v", order)
	}
}

func TestReplenisherRunsUntilStopped(t *testing.T) {
	var calls int32
	r := NewReplenisher(5*time.Millisecond, func(queueLen int) {
		atomic.AddInt32(&calls, 1)
	}, func() int { return 0 }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replenisher did not exit after context cancellation")
	}
	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected at least one replenish cycle")
	}
}
