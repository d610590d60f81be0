// Package transport implements an HTTP event.CallFunc: an asynchronous
// model adapter wired with a circuit breaker and rate-limit-header/usage
// parsing. Modeled on internal/router/mediator/http.go's HTTPMediator,
// generalized from webhook mediation to a generic POST-JSON model call.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/telemetry"
)

// Version selects which HTTP protocol version the client negotiates.
type Version string

const (
	Version1 Version = "HTTP_1_1"
	Version2 Version = "HTTP_2"
)

// Config configures an HTTPCaller.
type Config struct {
	Timeout time.Duration
	Version Version

	CircuitBreakerEnabled     bool
	CircuitBreakerRequests    uint32
	CircuitBreakerInterval    time.Duration
	CircuitBreakerRatio       float64
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerMinRequests uint32

	OnCircuitStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig mirrors the production defaults used elsewhere in this
// codebase family.
func DefaultConfig() Config {
	return Config{
		Timeout:                   120 * time.Second,
		Version:                   Version2,
		CircuitBreakerEnabled:     true,
		CircuitBreakerRequests:    10,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerRatio:       0.5,
		CircuitBreakerTimeout:     5 * time.Second,
		CircuitBreakerMinRequests: 10,
	}
}

// HTTPCaller wraps an *http.Client with an optional circuit breaker and
// exposes Call, satisfying event.CallFunc's signature.
type HTTPCaller struct {
	client  *http.Client
	url     string
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPCaller constructs an HTTPCaller posting to url.
func NewHTTPCaller(url string, cfg Config) *HTTPCaller {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if cfg.Version == Version1 {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = make(map[string]func(authority string, c *tls.Conn) http.RoundTripper)
	} else {
		transport.ForceAttemptHTTP2 = true
	}

	c := &HTTPCaller{
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		url:    url,
	}

	if cfg.CircuitBreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        url,
			MaxRequests: cfg.CircuitBreakerRequests,
			Interval:    cfg.CircuitBreakerInterval,
			Timeout:     cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.CircuitBreakerRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				telemetry.CircuitBreakerState.WithLabelValues("default", name).Set(circuitStateValue(to))
				if cfg.OnCircuitStateChange != nil {
					cfg.OnCircuitStateChange(name, from, to)
				}
			},
		})
	}

	return c
}

// Call implements event.CallFunc.
func (c *HTTPCaller) Call(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
	if c.breaker == nil {
		return c.callOnce(ctx, payload, headers)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.callOnce(ctx, payload, headers)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, err
		}
		return nil, err
	}
	return out.(*event.Response), nil
}

func (c *HTTPCaller) callOnce(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	var decoded any
	if len(respBody) > 0 {
		var v any
		if err := json.Unmarshal(respBody, &v); err == nil {
			decoded = v
		} else {
			decoded = string(respBody)
		}
	}

	return &event.Response{
		Status:  resp.StatusCode,
		Headers: respHeaders,
		Body:    decoded,
	}, nil
}

// circuitStateValue maps a gobreaker.State to the CircuitBreakerState
// gauge's 0=closed, 1=half-open, 2=open convention.
func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return telemetry.CircuitBreakerHalfOpen
	case gobreaker.StateOpen:
		return telemetry.CircuitBreakerOpen
	default:
		return telemetry.CircuitBreakerClosed
	}
}

// ParseRetryAfter parses an HTTP Retry-After header: either an integer
// number of seconds or an HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// ExtractUsage pulls usage.total_tokens out of a decoded JSON body, when
// the body carries a usage.total_tokens field.
func ExtractUsage(body any) (int, bool) {
	m, ok := body.(map[string]any)
	if !ok {
		return 0, false
	}
	usage, ok := m["usage"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := usage["total_tokens"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
