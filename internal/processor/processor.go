// Package processor implements Processor: the bounded-queue cooperative
// scheduler at the center of the executor, grounded on lionagi's
// protocols/generic/processor.py (the process/execute loop) and the
// teacher's internal/router/pool/pool.go (the concurrency-semaphore and
// graceful-shutdown idiom).
package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/telemetry"
)

// State is the Processor lifecycle.
type State int

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// PermissionFunc is the admission predicate consulted before each
// dequeue, e.g. a RateLimiter's Admit method adapted to this signature.
type PermissionFunc func(e *event.Event) bool

// Config is Processor's construction-time configuration.
type Config struct {
	QueueCapacity       int
	ConcurrencyLimit    int // defaults to QueueCapacity if zero
	CapacityRefreshTime time.Duration
	RequestPermission   PermissionFunc
	Logger              *slog.Logger

	// Name labels this Processor's telemetry series; defaults to
	// "default" when unset.
	Name string
}

// Processor owns a bounded channel of pending events, a per-cycle budget
// counter, a concurrency semaphore, and a stop signal.
type Processor struct {
	cfg    Config
	queue  chan *event.Event
	sem    chan struct{}
	logger *slog.Logger

	mu    sync.Mutex
	state State

	availableCapacity int
	inFlight          sync.WaitGroup

	// pendingHead holds an event deferred by RequestPermission so the next
	// Process call consults it before the queue channel, giving it true
	// head-of-line priority (channels have no head-insert).
	pendingHead *event.Event

	stopCh chan struct{}
}

// New constructs a Processor in the Idle state.
func New(cfg Config) (*Processor, error) {
	if cfg.QueueCapacity <= 0 {
		return nil, corefail.New(corefail.KindConfigurationError, "INVALID_QUEUE_CAPACITY", "queue_capacity must be positive")
	}
	if cfg.CapacityRefreshTime <= 0 {
		return nil, corefail.New(corefail.KindConfigurationError, "INVALID_REFRESH_TIME", "capacity_refresh_time must be positive")
	}
	if cfg.RequestPermission == nil {
		cfg.RequestPermission = func(*event.Event) bool { return true }
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = cfg.QueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	p := &Processor{
		cfg:               cfg,
		queue:             make(chan *event.Event, cfg.QueueCapacity),
		sem:               make(chan struct{}, cfg.ConcurrencyLimit),
		logger:            cfg.Logger,
		state:             Idle,
		availableCapacity: cfg.QueueCapacity,
		stopCh:            make(chan struct{}),
	}
	telemetry.ProcessorAvailableCapacity.WithLabelValues(cfg.Name).Set(float64(cfg.QueueCapacity))
	return p, nil
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start transitions Idle/Stopped -> Running.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Running {
		return
	}
	p.state = Running
	p.stopCh = make(chan struct{})
}

// Stop requests Stopped. In-flight tasks are allowed to complete; it does
// not cancel them.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Stopped {
		return
	}
	p.state = Stopped
	close(p.stopCh)
}

func (p *Processor) isStopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// Enqueue adds e to the bounded queue, blocking if full or until ctx is
// done.
func (p *Processor) Enqueue(ctx context.Context, e *event.Event) error {
	select {
	case p.queue <- e:
		telemetry.ProcessorQueueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return corefail.Wrap(corefail.KindCancelled, "ENQUEUE_CANCELED", "context canceled enqueuing event", ctx.Err())
	}
}

// QueueLen reports the number of events currently queued, including one
// held as a deferred head (passed to the Replenisher's ReplenishFunc on
// each tick).
func (p *Processor) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	if p.pendingHead != nil {
		n++
	}
	return n
}

// InvokeFunc performs one event's invocation; supplied by Executor so
// Processor itself stays decoupled from the retry/HTTP machinery.
type InvokeFunc func(ctx context.Context, e *event.Event)

// Process runs exactly one scheduling cycle:
//  1. If available_capacity <= 0 or the queue is empty, return.
//  2. Pop an event e.
//  3. If request_permission(e) is false, re-enqueue e at the head and
//     sleep refresh_time; return.
//  4. Transition e.status <- PROCESSING.
//  5. Spawn e.invoke() as a task; add to the in-flight set.
//  6. Decrement available_capacity. Loop.
//  7. After the loop, await the in-flight set, then reset
//     available_capacity <- queue_capacity.
func (p *Processor) Process(ctx context.Context, invoke InvokeFunc) {
	p.mu.Lock()
	pendingHead := p.pendingHead
	p.pendingHead = nil
	p.mu.Unlock()

	for {
		if p.availableCapacity <= 0 {
			break
		}

		var next *event.Event
		if pendingHead != nil {
			next = pendingHead
			pendingHead = nil
		} else {
			select {
			case next = <-p.queue:
			default:
				next = nil
			}
			if next == nil {
				break
			}
		}

		if !p.cfg.RequestPermission(next) {
			pendingHead = next
			p.sleepRefresh(ctx)
			break
		}

		if !event.MarkProcessing(next) {
			// Already left PENDING by a racing caller; drop it from this cycle.
			continue
		}

		p.sem <- struct{}{}
		p.availableCapacity--
		p.inFlight.Add(1)
		telemetry.ProcessorInFlight.WithLabelValues(p.cfg.Name).Inc()
		telemetry.ProcessorAvailableCapacity.WithLabelValues(p.cfg.Name).Set(float64(p.availableCapacity))
		telemetry.ProcessorQueueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
		go func(e *event.Event) {
			defer p.inFlight.Done()
			defer func() { <-p.sem }()
			defer telemetry.ProcessorInFlight.WithLabelValues(p.cfg.Name).Dec()
			defer func() {
				if r := recover(); r != nil {
					event.FailWith(e, panicMessage(r), 0)
					p.logger.Error("recovered panic in event invocation", "event_id", e.ID.String(), "panic", r)
				}
			}()
			invoke(ctx, e)
		}(next)
	}

	p.inFlight.Wait()
	p.availableCapacity = p.cfg.QueueCapacity
	telemetry.ProcessorAvailableCapacity.WithLabelValues(p.cfg.Name).Set(float64(p.availableCapacity))

	// If a head event was deferred for permission, hold it outside the
	// queue so the next Process call observes it before anything the
	// queue channel hands back.
	if pendingHead != nil {
		p.mu.Lock()
		p.pendingHead = pendingHead
		p.mu.Unlock()
	}
}

func (p *Processor) sleepRefresh(ctx context.Context) {
	t := time.NewTimer(p.cfg.CapacityRefreshTime)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-p.stopCh:
	}
}

// Execute runs Process every CapacityRefreshTime until Stop is called.
func (p *Processor) Execute(ctx context.Context, invoke InvokeFunc) {
	for {
		if p.isStopped() {
			return
		}
		p.Process(ctx, invoke)
		p.sleepRefresh(ctx)
		if p.isStopped() {
			return
		}
	}
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic in invocation"
}
