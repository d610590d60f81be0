// Package ratelimit implements RateLimiter: the single source of truth for
// request/token admission, modeled on lionagi's rate_limited_processor.py
// and base_rate_limiter.py. SoftLimiter wraps golang.org/x/time/rate as a
// cheap non-blocking pre-filter in front of it (see Limiter doc comment),
// keeping exactly one mutex-guarded set of counters as ground truth rather
// than two overlapping limiter implementations.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/telemetry"
)

// reservation is an in-flight or recently-completed hold on capacity,
// released back exactly once after Interval elapses.
type reservation struct {
	timestamp  time.Time
	tokenUsage int
}

// Config is the immutable construction-time configuration for a Limiter.
// A nil LimitRequests/LimitTokens means that dimension is unbounded; both
// fields are pointers so the zero value of an unset *int can carry that
// meaning distinctly from a configured limit of zero.
type Config struct {
	LimitRequests *int
	LimitTokens   *int
	Interval      time.Duration

	// Name labels this Limiter's telemetry series; defaults to
	// "default" when unset.
	Name string
}

// Limiter tracks available requests and tokens against static limits,
// replenishing on a fixed wall-clock interval via released reservations.
// It is the hard, authoritative admission gate; Processor additionally
// consults a SoftLimiter ahead of it purely to shed obviously-over-rate
// bursts without touching this mutex.
type Limiter struct {
	mu sync.Mutex

	name          string
	limitRequests *int
	limitTokens   *int
	interval      time.Duration

	availableRequests int
	availableTokens   int

	unreleased []reservation
}

// New constructs a Limiter. Interval <= 0 is rejected.
func New(cfg Config) (*Limiter, error) {
	if cfg.Interval <= 0 {
		return nil, corefail.New(corefail.KindConfigurationError, "INVALID_INTERVAL", "rate limiter interval must be positive")
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	l := &Limiter{
		name:          name,
		limitRequests: cfg.LimitRequests,
		limitTokens:   cfg.LimitTokens,
		interval:      cfg.Interval,
	}
	if cfg.LimitRequests != nil {
		l.availableRequests = *cfg.LimitRequests
	}
	if cfg.LimitTokens != nil {
		l.availableTokens = *cfg.LimitTokens
	}
	l.reportGauges()
	return l, nil
}

// reportGauges publishes the live counters to the RateLimiterAvailable*
// gauges. Call only while holding l.mu, except at construction before the
// Limiter is shared.
func (l *Limiter) reportGauges() {
	telemetry.RateLimiterAvailableRequests.WithLabelValues(l.name).Set(float64(l.availableRequests))
	telemetry.RateLimiterAvailableTokens.WithLabelValues(l.name).Set(float64(l.availableTokens))
}

// CheckAvailability reports whether a request costed at requestTokens +
// estimatedOutputTokens can be admitted right now, without mutating state.
func (l *Limiter) CheckAvailability(requestTokens, estimatedOutputTokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkAvailabilityLocked(requestTokens, estimatedOutputTokens)
}

func (l *Limiter) checkAvailabilityLocked(requestTokens, estimatedOutputTokens int) bool {
	if l.limitRequests != nil && l.availableRequests < 1 {
		return false
	}
	if l.limitTokens != nil && l.availableTokens < requestTokens+estimatedOutputTokens {
		return false
	}
	return true
}

// Reserve atomically subtracts from available_requests and
// available_tokens. The caller must have already observed
// CheckAvailability == true; Reserve itself does not re-check. A caller
// that skips this invariant may be starved but cannot corrupt the
// counters.
func (l *Limiter) Reserve(requestTokens, estimatedOutputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limitRequests != nil {
		l.availableRequests--
	}
	if l.limitTokens != nil {
		l.availableTokens -= requestTokens + estimatedOutputTokens
	}
	l.reportGauges()
}

// ReleaseExpired returns capacity for every reservation older than
// Interval as of now, dropping it from the unreleased list. Runs in
// O(size of the expired prefix) since entries are appended in timestamp
// order.
func (l *Limiter) ReleaseExpired(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.interval)
	i := 0
	for ; i < len(l.unreleased); i++ {
		r := l.unreleased[i]
		if r.timestamp.After(cutoff) {
			break
		}
		if l.limitTokens != nil {
			l.availableTokens += r.tokenUsage
		}
		if l.limitRequests != nil {
			l.availableRequests++
		}
	}
	l.unreleased = l.unreleased[i:]
	l.reportGauges()
}

// RecordCompletion appends a reservation for the given response time and
// observed token usage, correcting available_tokens by the delta against
// the estimate that was reserved at admission time.
func (l *Limiter) RecordCompletion(responseTime time.Time, tokenUsage, estimatedTokenUsage int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unreleased = append(l.unreleased, reservation{timestamp: responseTime, tokenUsage: tokenUsage})
	if l.limitTokens != nil && tokenUsage != estimatedTokenUsage {
		l.availableTokens -= tokenUsage - estimatedTokenUsage
	}
	l.reportGauges()
}

// Headers is the subset of an upstream response's rate-limit headers
// UpdateFromHeaders interprets.
type Headers struct {
	LimitRequests     *int
	LimitTokens       *int
	RemainingRequests *int
	RemainingTokens   *int
}

// UpdateFromHeaders reconciles local counters against provider-reported
// values: warns (via the returned slice) if the provider's configured
// limit is smaller than ours, and reconciles our remaining counts
// downward if the provider reports less remaining than we believe.
func (l *Limiter) UpdateFromHeaders(h Headers) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var warnings []string

	if h.LimitRequests != nil && l.limitRequests != nil && *h.LimitRequests < *l.limitRequests {
		warnings = append(warnings, "provider reports a smaller request limit than configured")
	}
	if h.LimitTokens != nil && l.limitTokens != nil && *h.LimitTokens < *l.limitTokens {
		warnings = append(warnings, "provider reports a smaller token limit than configured")
	}
	if h.RemainingRequests != nil && *h.RemainingRequests < l.availableRequests {
		l.availableRequests = *h.RemainingRequests
		telemetry.RateLimiterHeaderReconciliations.WithLabelValues(l.name, "requests").Inc()
	}
	if h.RemainingTokens != nil && *h.RemainingTokens < l.availableTokens {
		l.availableTokens = *h.RemainingTokens
		telemetry.RateLimiterHeaderReconciliations.WithLabelValues(l.name, "tokens").Inc()
	}
	l.reportGauges()
	return warnings
}

// Admit runs release_expired(now) and then check_availability(required,
// estimated); it does not reserve. The RequestPermission wiring in
// cmd/executor uses AdmitAndReserve instead.
func (l *Limiter) Admit(now time.Time, requestTokens, estimatedOutputTokens int) bool {
	l.ReleaseExpired(now)
	return l.CheckAvailability(requestTokens, estimatedOutputTokens)
}

// AdmitAndReserve is the rate-limited request_permission specialization:
// release expired holds, check availability, and — only if admitted —
// reserve the request's cost in the same critical section, so two events
// examined in the same cycle can't both observe availability before
// either reserves.
func (l *Limiter) AdmitAndReserve(now time.Time, requestTokens, estimatedOutputTokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.interval)
	i := 0
	for ; i < len(l.unreleased); i++ {
		r := l.unreleased[i]
		if r.timestamp.After(cutoff) {
			break
		}
		if l.limitTokens != nil {
			l.availableTokens += r.tokenUsage
		}
		if l.limitRequests != nil {
			l.availableRequests++
		}
	}
	l.unreleased = l.unreleased[i:]

	if !l.checkAvailabilityLocked(requestTokens, estimatedOutputTokens) {
		l.reportGauges()
		return false
	}
	if l.limitRequests != nil {
		l.availableRequests--
	}
	if l.limitTokens != nil {
		l.availableTokens -= requestTokens + estimatedOutputTokens
	}
	l.reportGauges()
	return true
}

// ExceedsBudget reports whether a request can never be admitted because
// its total cost exceeds the configured token limit outright — the caller
// should surface RequestExceedsBudget rather than retrying forever.
func (l *Limiter) ExceedsBudget(requestTokens, estimatedOutputTokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limitTokens == nil {
		return false
	}
	return requestTokens+estimatedOutputTokens > *l.limitTokens
}

// Snapshot is the observable live state, used by tests and telemetry.
type Snapshot struct {
	AvailableRequests int
	AvailableTokens   int
	Unreleased        int
}

// Snapshot returns the current live counters.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		AvailableRequests: l.availableRequests,
		AvailableTokens:   l.availableTokens,
		Unreleased:        len(l.unreleased),
	}
}

// IntPtr is a construction convenience for Config's pointer fields.
func IntPtr(v int) *int { return &v }

// Unbounded reports a pointer representing "no limit configured", purely
// for readability at call sites.
func Unbounded() *int { return nil }

// MaxInt is math.MaxInt, kept for callers that want an
// effectively-unbounded concrete limit.
var MaxInt = math.MaxInt
