package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/ratelimit"
	"go.lionforge.dev/internal/retry"
	"go.lionforge.dev/internal/telemetry"
)

// Invoker composes an event's Call with a RetryPolicy and a RateLimiter,
// realizing event.invoke(): record start time, await the call, classify
// the response, reconcile the limiter, set terminal status.
type Invoker struct {
	Policy  *retry.Policy
	Limiter *ratelimit.Limiter

	// Name labels this Invoker's telemetry series; defaults to
	// "default" when unset.
	Name string
}

func (inv *Invoker) name() string {
	if inv.Name == "" {
		return "default"
	}
	return inv.Name
}

func retryOutcomeLabel(o retry.Outcome) string {
	switch o {
	case retry.OutcomeSuccess:
		return "success"
	case retry.OutcomeRateLimited:
		return "rate_limited"
	case retry.OutcomeServerError:
		return "server_error"
	default:
		return "other_error"
	}
}

// Invoke runs e.Call under the retry policy, reconciling the rate
// limiter from response headers and usage on success.
func (inv *Invoker) Invoke(ctx context.Context, e *event.Event) {
	start := time.Now()

	result, err := inv.Policy.Invoke(ctx, func(ctx context.Context, attempt int) (retry.Attempt, error) {
		resp, callErr := e.Call(ctx, e.Payload, e.Headers)
		if callErr != nil {
			a := retry.Attempt{Outcome: retry.OutcomeOtherError, Err: callErr}
			telemetry.RetryAttempts.WithLabelValues(inv.name(), retryOutcomeLabel(a.Outcome)).Inc()
			return a, nil
		}

		var a retry.Attempt
		switch {
		case resp.Status >= 200 && resp.Status < 300:
			inv.reconcileFromHeaders(resp.Headers)
			reserved := e.RequiredTokens + e.EstimatedOutputTokens
			if usage, ok := ExtractUsage(resp.Body); ok {
				inv.Limiter.RecordCompletion(time.Now(), usage, reserved)
			} else {
				inv.Limiter.RecordCompletion(time.Now(), reserved, reserved)
			}
			a = retry.Attempt{Outcome: retry.OutcomeSuccess, Value: resp.Body}

		case resp.Status == 429:
			a = retry.Attempt{Outcome: retry.OutcomeRateLimited, Err: errFromStatus(resp)}
			if d, ok := ParseRetryAfter(resp.Headers["Retry-After"]); ok {
				a.RetryAfter = &d
			}
			if retry.IsQuotaExceededMessage(fmt.Sprint(resp.Body)) {
				a.QuotaExceeded = true
			}
			a.RequestedTokens = e.RequiredTokens + e.EstimatedOutputTokens
			if inv.Limiter.ExceedsBudget(e.RequiredTokens, e.EstimatedOutputTokens) {
				budget := e.RequiredTokens + e.EstimatedOutputTokens - 1
				a.LimitTokens = &budget
			}

		case resp.Status >= 500:
			a = retry.Attempt{Outcome: retry.OutcomeServerError, Err: errFromStatus(resp)}

		default:
			a = retry.Attempt{Outcome: retry.OutcomeOtherError, Err: errFromStatus(resp)}
		}
		telemetry.RetryAttempts.WithLabelValues(inv.name(), retryOutcomeLabel(a.Outcome)).Inc()
		return a, nil
	})

	dur := time.Since(start)
	telemetry.EventDuration.WithLabelValues(inv.name()).Observe(dur.Seconds())
	if err != nil {
		// Record the admission-time hold so its request and tokens are
		// released once Interval elapses, as for a completed call.
		reserved := e.RequiredTokens + e.EstimatedOutputTokens
		inv.Limiter.RecordCompletion(time.Now(), reserved, reserved)
		event.FailWith(e, err.Error(), dur)
		telemetry.EventsCompleted.WithLabelValues(inv.name(), "failed").Inc()
		var cerr *corefail.Error
		if errors.As(err, &cerr) && cerr.Kind == corefail.KindRetryExhausted {
			telemetry.RetryAttempts.WithLabelValues(inv.name(), "exhausted").Inc()
		}
		return
	}
	event.CompleteWith(e, result, dur)
	telemetry.EventsCompleted.WithLabelValues(inv.name(), "completed").Inc()
}

func (inv *Invoker) reconcileFromHeaders(headers map[string]string) {
	h := ratelimit.Headers{}
	if v, ok := parseIntHeader(headers, "x-ratelimit-limit-requests"); ok {
		h.LimitRequests = &v
	}
	if v, ok := parseIntHeader(headers, "x-ratelimit-limit-tokens"); ok {
		h.LimitTokens = &v
	}
	if v, ok := parseIntHeader(headers, "x-ratelimit-remaining-requests"); ok {
		h.RemainingRequests = &v
	}
	if v, ok := parseIntHeader(headers, "x-ratelimit-remaining-tokens"); ok {
		h.RemainingTokens = &v
	}
	inv.Limiter.UpdateFromHeaders(h)
}

func parseIntHeader(headers map[string]string, key string) (int, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			n := 0
			for _, r := range v {
				if r < '0' || r > '9' {
					return 0, false
				}
				n = n*10 + int(r-'0')
			}
			return n, true
		}
	}
	return 0, false
}

func errFromStatus(resp *event.Response) error {
	return statusError{status: resp.Status}
}

type statusError struct{ status int }

func (e statusError) Error() string {
	return "upstream returned status " + itoaStatus(e.status)
}

func itoaStatus(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
