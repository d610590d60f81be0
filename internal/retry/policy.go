// Package retry implements RetryPolicy: the invoke_retry decision table,
// modeled on executeWithRetry in internal/router/mediator/http.go and
// backed by github.com/cenkalti/backoff/v4 configured with zero
// randomization so delays stay deterministic and tests reproducible.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"go.lionforge.dev/internal/corefail"
)

// Outcome is the result classification Invoke's callback must return for
// each attempt, mirroring a handleResponse-style status switch.
type Outcome int

const (
	// OutcomeSuccess ends the retry loop with the attempt's value.
	OutcomeSuccess Outcome = iota
	// OutcomeRateLimited is an HTTP 429 (or equivalent) response.
	OutcomeRateLimited
	// OutcomeServerError is an HTTP 5xx response.
	OutcomeServerError
	// OutcomeOtherError is any other failure.
	OutcomeOtherError
)

// Attempt is what a single call to fn reports back to Invoke.
type Attempt struct {
	Outcome Outcome
	Value   any
	Err     error

	// RetryAfter, when non-nil, is a provider-supplied override delay
	// (from a Retry-After header) that bypasses exponential backoff.
	RetryAfter *time.Duration

	// QuotaExceeded marks a 429 whose message indicates a hard quota
	// failure ("exceeded your current quota") rather than a transient
	// rate limit; retrying would never succeed.
	QuotaExceeded bool

	// RequestedTokens/LimitTokens, when both set and
	// RequestedTokens > LimitTokens, fail immediately with
	// RequestExceedsBudget instead of retrying.
	RequestedTokens int
	LimitTokens     *int
}

// Fn is the wrapped action: perform one attempt and report its outcome.
type Fn func(ctx context.Context, attempt int) (Attempt, error)

// Config is RetryPolicy's construction-time configuration.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Breaker, if non-nil, wraps each attempt in a circuit breaker so a
	// persistently failing target stops being hammered even within the
	// retry budget of a single Invoke call.
	Breaker *gobreaker.CircuitBreaker
}

// Policy implements invoke_retry.
type Policy struct {
	cfg Config
}

// New constructs a Policy. MaxRetries <= 0 is rejected at construction
// with a ConfigurationError.
func New(cfg Config) (*Policy, error) {
	if cfg.MaxRetries < 1 {
		return nil, corefail.New(corefail.KindConfigurationError, "INVALID_MAX_RETRIES", "max_retries must be >= 1")
	}
	return &Policy{cfg: cfg}, nil
}

// Invoke wraps fn, retrying per the outcome decision table below, and
// returns the first successful Attempt.Value.
func (p *Policy) Invoke(ctx context.Context, fn Fn) (any, error) {
	var lastErr error
	// backoffStep is the exponent of the next exponential backoff sleep; a
	// Retry-After override sleep does not advance it.
	backoffStep := 0
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		result, callErr := p.runOnce(ctx, fn, attempt)
		if callErr != nil {
			return nil, callErr
		}

		switch result.Outcome {
		case OutcomeSuccess:
			return result.Value, nil

		case OutcomeRateLimited:
			if result.LimitTokens != nil && result.RequestedTokens > *result.LimitTokens {
				return nil, corefail.New(corefail.KindRequestExceedsBudget, "REQUEST_EXCEEDS_BUDGET", "requested tokens exceed the configured model token limit")
			}
			if result.QuotaExceeded {
				return nil, corefail.Wrap(corefail.KindQuotaExhausted, "QUOTA_EXCEEDED", "upstream reports quota exhausted", result.Err)
			}
			lastErr = result.Err
			if err := p.sleepForRateLimit(ctx, result, backoffStep); err != nil {
				return nil, err
			}
			if result.RetryAfter == nil {
				backoffStep++
			}
			continue

		case OutcomeServerError:
			lastErr = result.Err
			if err := p.sleepBackoff(ctx, backoffStep); err != nil {
				return nil, err
			}
			backoffStep++
			continue

		default: // OutcomeOtherError
			lastErr = result.Err
			if attempt < p.cfg.MaxRetries {
				if err := p.sleepBackoff(ctx, backoffStep); err != nil {
					return nil, err
				}
				backoffStep++
				continue
			}
			return nil, p.exhausted(attempt+1, lastErr)
		}
	}
	return nil, p.exhausted(p.cfg.MaxRetries+1, lastErr)
}

func (p *Policy) runOnce(ctx context.Context, fn Fn, attempt int) (Attempt, error) {
	if p.cfg.Breaker == nil {
		return fn(ctx, attempt)
	}
	// A non-successful attempt is reported to the breaker as a failure;
	// Invoke still classifies it from a.
	errAttemptFailed := errors.New("attempt did not succeed")
	var a Attempt
	_, err := p.cfg.Breaker.Execute(func() (any, error) {
		var callErr error
		a, callErr = fn(ctx, attempt)
		if callErr != nil {
			return nil, callErr
		}
		if a.Outcome != OutcomeSuccess {
			return nil, errAttemptFailed
		}
		return nil, nil
	})
	if err != nil && !errors.Is(err, errAttemptFailed) {
		return Attempt{}, err
	}
	return a, nil
}

func (p *Policy) exhausted(attempts int, cause error) error {
	return corefail.Wrap(corefail.KindRetryExhausted, "RETRY_EXHAUSTED", retryExhaustedMessage(attempts), cause)
}

func retryExhaustedMessage(attempts int) string {
	if attempts == 1 {
		return "retry exhausted after 1 attempt"
	}
	return "retry exhausted after " + itoa(attempts) + " attempts"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// sleepForRateLimit honors a server Retry-After override when present;
// otherwise falls back to exponential backoff, without incrementing the
// backoff exponent for the override case.
func (p *Policy) sleepForRateLimit(ctx context.Context, a Attempt, attempt int) error {
	if a.RetryAfter != nil {
		d := *a.RetryAfter
		if d > p.cfg.MaxDelay {
			d = p.cfg.MaxDelay
		}
		return sleepCtx(ctx, d)
	}
	return p.sleepBackoff(ctx, attempt)
}

// sleepBackoff sleeps min(base_delay * 2^attempt, max_delay), using
// cenkalti/backoff's ExponentialBackOff with zero randomization so the
// delay sequence is exactly reproducible in tests.
func (p *Policy) sleepBackoff(ctx context.Context, attempt int) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.cfg.MaxDelay,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	if d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsQuotaExceededMessage reports whether an upstream error message
// indicates a hard quota failure ("exceeded your current quota"),
// matching lionagi's base_rate_limiter.py substring check.
func IsQuotaExceededMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "exceeded your current quota")
}
