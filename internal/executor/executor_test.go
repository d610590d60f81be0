package executor

import (
	"context"
	"testing"
	"time"

	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/processor"
)

func noopCall(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
	return &event.Response{Status: 200}, nil
}

func newTestExecutor(t *testing.T, invoke InvokeFunc) *Executor {
	t.Helper()
	x, err := New(Config{
		Processor: processor.Config{QueueCapacity: 5, CapacityRefreshTime: 20 * time.Millisecond},
		Invoke:    invoke,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return x
}

func TestAppendRetainsEventInPile(t *testing.T) {
	x := newTestExecutor(t, func(ctx context.Context, e *event.Event) {
		event.CompleteWith(e, "ok", time.Millisecond)
	})
	e := event.New(noopCall, 1, 0, nil, nil)
	if err := x.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ok, err := x.Contains(e.Element)
	if err != nil || !ok {
		t.Fatalf("expected pile to contain appended event, ok=%v err=%v", ok, err)
	}
}

func TestForwardDrainsPendingAndCompletes(t *testing.T) {
	x := newTestExecutor(t, func(ctx context.Context, e *event.Event) {
		event.CompleteWith(e, "ok", time.Millisecond)
	})
	e := event.New(noopCall, 1, 0, nil, nil)
	x.Append(e)

	if err := x.Forward(context.Background()); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	completed, err := x.CompletedEvents()
	if err != nil {
		t.Fatalf("CompletedEvents: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != e.ID {
		t.Fatalf("expected event to be completed, got %v", completed)
	}
}

func TestForwardIsIdempotentOnEmptyPending(t *testing.T) {
	x := newTestExecutor(t, func(ctx context.Context, e *event.Event) {})
	if err := x.Forward(context.Background()); err != nil {
		t.Fatalf("first Forward: %v", err)
	}
	if err := x.Forward(context.Background()); err != nil {
		t.Fatalf("second Forward on empty pending: %v", err)
	}
}

func TestFailedEventsProjection(t *testing.T) {
	x := newTestExecutor(t, func(ctx context.Context, e *event.Event) {
		event.FailWith(e, "boom", time.Millisecond)
	})
	e := event.New(noopCall, 1, 0, nil, nil)
	x.Append(e)
	x.Forward(context.Background())

	failed, err := x.FailedEvents()
	if err != nil {
		t.Fatalf("FailedEvents: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed event, got %d", len(failed))
	}
}

func TestPendingEventsProjectionBeforeForward(t *testing.T) {
	x := newTestExecutor(t, func(ctx context.Context, e *event.Event) {})
	e := event.New(noopCall, 1, 0, nil, nil)
	x.Append(e)

	pending, err := x.PendingEvents()
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event before forward, got %d", len(pending))
	}
}
