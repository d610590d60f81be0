package processor

import (
	"context"
	"log/slog"
	"time"
)

// ReplenishFunc is called once per Interval with the Processor's current
// queue length. cmd/executor wires it to Limiter.ReleaseExpired and
// ignores the length; no caller resets the counters to
// limit_requests - queue.size().
type ReplenishFunc func(queueLen int)

// Replenisher runs a dedicated background task that sleeps Interval, then
// invokes ReplenishFunc from that task; it takes no lock of its own. It is
// the rate-limited specialization of Processor's capacity refresh.
type Replenisher struct {
	interval time.Duration
	replenish ReplenishFunc
	queueLen func() int
	logger   *slog.Logger

	done chan struct{}
}

// NewReplenisher constructs a Replenisher bound to a Processor's queue
// length accessor.
func NewReplenisher(interval time.Duration, replenish ReplenishFunc, queueLen func() int, logger *slog.Logger) *Replenisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replenisher{interval: interval, replenish: replenish, queueLen: queueLen, logger: logger, done: make(chan struct{})}
}

// Run blocks, replenishing every Interval until ctx is canceled or Stop is
// called. A panic recovered from replenish is logged; the task then exits
// and the Processor continues running until drained.
func (r *Replenisher) Run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("replenisher task panicked, exiting", "panic", rec)
		}
	}()
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.replenish(r.queueLen())
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

// Stop cancels the replenisher; cancellation is swallowed by the caller
// awaiting Run's return.
func (r *Replenisher) Stop() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}
