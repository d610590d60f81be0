// Package executor implements Executor: the composition of a Pile (the
// event store), a Processor, and a pending OrderedIndex, grounded on
// lionagi's protocols/generic/processor.py Executor class.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/id"
	"go.lionforge.dev/internal/ordering"
	"go.lionforge.dev/internal/pile"
	"go.lionforge.dev/internal/processor"
	"go.lionforge.dev/internal/telemetry"
)

// InvokeFunc performs one event's full invocation, including retry and
// rate-limiter reconciliation; supplied by the caller wiring together
// retry.Policy and ratelimit.Limiter around the event's Call.
type InvokeFunc func(ctx context.Context, e *event.Event)

// Config is Executor's construction-time configuration: the Processor
// configuration plus the invocation function.
type Config struct {
	Processor processor.Config
	Invoke    InvokeFunc
	Logger    *slog.Logger
}

// Executor owns the event store, the pending-dispatch index, and a lazily
// constructed Processor.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pile    *pile.Pile[*event.Event]
	pending *ordering.Index
	proc    *processor.Processor

	replenisher *processor.Replenisher
	stopped     bool
}

// New constructs an Executor. The Processor itself is constructed lazily
// by Start.
func New(cfg Config) (*Executor, error) {
	if cfg.Invoke == nil {
		return nil, corefail.New(corefail.KindConfigurationError, "MISSING_INVOKE", "executor requires an InvokeFunc")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		cfg:     cfg,
		logger:  cfg.Logger,
		pile:    pile.New[*event.Event](pile.Sync),
		pending: ordering.New(),
	}, nil
}

// Append includes e into the Pile and into the pending index. The Pile
// retains every appended event forever until Pop.
func (x *Executor) Append(e *event.Event) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.pile.Include(e); err != nil {
		return err
	}
	x.pending.Append(e.ID)
	telemetry.EventsAppended.WithLabelValues(x.name()).Inc()
	return nil
}

// name returns the label value Executor-scoped telemetry series are
// reported under, defaulting to the Processor's own default when unset.
func (x *Executor) name() string {
	if x.cfg.Processor.Name != "" {
		return x.cfg.Processor.Name
	}
	return "default"
}

// Start lazily constructs the Processor (if not already constructed) and
// transitions it to Running.
func (x *Executor) Start() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.proc == nil {
		p, err := processor.New(x.cfg.Processor)
		if err != nil {
			return err
		}
		x.proc = p
	}
	x.proc.Start()
	x.stopped = false
	return nil
}

// Stop stops the Processor; in-flight invocations continue to completion.
func (x *Executor) Stop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.proc != nil {
		x.proc.Stop()
	}
	if x.replenisher != nil {
		x.replenisher.Stop()
	}
	x.stopped = true
}

// Forward drains the pending index, enqueues each event onto the
// Processor, then runs one Processor cycle. Idempotent on an empty
// pending set.
func (x *Executor) Forward(ctx context.Context) error {
	x.mu.Lock()
	if x.proc == nil {
		p, err := processor.New(x.cfg.Processor)
		if err != nil {
			x.mu.Unlock()
			return err
		}
		x.proc = p
	}
	proc := x.proc
	var toEnqueue []*event.Event
	for x.pending.Len() > 0 {
		i, err := x.pending.PopFront()
		if err != nil {
			break
		}
		e, err := x.pile.Get(i)
		if err != nil {
			continue
		}
		toEnqueue = append(toEnqueue, e)
	}
	x.mu.Unlock()

	for _, e := range toEnqueue {
		if err := proc.Enqueue(ctx, e); err != nil {
			return err
		}
	}
	proc.Process(ctx, x.cfg.Invoke)
	return nil
}

// RunReplenisher attaches a Replenisher and runs it until the Executor is
// stopped or ctx is done. Call as its own goroutine.
func (x *Executor) RunReplenisher(ctx context.Context, interval time.Duration, replenish processor.ReplenishFunc) {
	x.mu.Lock()
	if x.proc == nil {
		x.mu.Unlock()
		return
	}
	r := processor.NewReplenisher(interval, replenish, x.proc.QueueLen, x.logger)
	x.replenisher = r
	x.mu.Unlock()
	r.Run(ctx)
}

// CompletedEvents returns a projection of every event whose status is
// Completed. O(n); not materialized storage.
func (x *Executor) CompletedEvents() ([]*event.Event, error) {
	return x.projection(event.Completed)
}

// FailedEvents returns a projection of every event whose status is
// Failed. O(n); not materialized storage.
func (x *Executor) FailedEvents() ([]*event.Event, error) {
	return x.projection(event.Failed)
}

// PendingEvents returns a projection of every event whose status is
// Pending or Processing. O(n); not materialized storage.
func (x *Executor) PendingEvents() ([]*event.Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	vals, err := x.pile.Values()
	if err != nil {
		return nil, err
	}
	var out []*event.Event
	for _, e := range vals {
		st := e.Status()
		if st == event.Pending || st == event.Processing {
			out = append(out, e)
		}
	}
	return out, nil
}

func (x *Executor) projection(status event.Status) ([]*event.Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	vals, err := x.pile.Values()
	if err != nil {
		return nil, err
	}
	var out []*event.Event
	for _, e := range vals {
		if e.Status() == status {
			out = append(out, e)
		}
	}
	return out, nil
}

// Contains reports whether the Pile holds an event with the given id.
func (x *Executor) Contains(i event.Element) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pile.Contains(i.ID)
}

// Get returns the single event with the given id, or NotFound if the
// Pile holds no such event.
func (x *Executor) Get(i id.ID) (*event.Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pile.Get(i)
}
