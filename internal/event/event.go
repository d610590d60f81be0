// Package event defines the base Element and the Event type that flows
// through Pile, Processor, and Executor: a status-carrying unit of work
// wrapping a single upstream API call.
package event

import (
	"context"
	"sync"
	"time"

	"go.lionforge.dev/internal/id"
)

// Element is the base record every stored entity embeds: an id and a
// creation timestamp. Equality is by id.
type Element struct {
	ID        id.ID
	CreatedAt time.Time
}

// NewElement mints a fresh Element with a new id and the current time.
func NewElement() Element {
	return Element{ID: id.New(), CreatedAt: time.Now()}
}

// Identifier is implemented by anything Pile can store: a type with a
// stable id. Element satisfies it directly; types embedding Element get it
// for free.
type Identifier interface {
	Ident() id.ID
}

// Ident returns the element's id, satisfying Identifier.
func (e Element) Ident() id.ID { return e.ID }

// Status is the event lifecycle state. Transitions form a DAG:
// Pending -> Processing -> {Completed, Failed}. No backward edges.
type Status int

const (
	Pending Status = iota
	Processing
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Processing:
		return "PROCESSING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CanTransitionTo reports whether s -> next is a legal edge in the status
// DAG.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case Pending:
		return next == Processing
	case Processing:
		return next == Completed || next == Failed
	default:
		return false
	}
}

// Execution holds the terminal outcome of an event's invocation. Response
// is set iff Status == Completed; Error is set iff Status == Failed;
// Duration is set for both terminal statuses.
type Execution struct {
	Duration time.Duration
	Response any
	Error    string
}

// Response is the shape an upstream Call returns: an HTTP-like status,
// headers, and a body. Headers carry rate-limit and Retry-After signals
// that RateLimiter/RetryPolicy interpret.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

// CallFunc is the asynchronous action an enclosing model adapter supplies:
// POST payload with headers, get back a Response or a transport error.
type CallFunc func(ctx context.Context, payload map[string]any, headers map[string]string) (*Response, error)

// Event is an Element extended with a status, an opaque request map the
// admission predicate consults, and an invocation contract. Once terminal,
// an Event is immutable with respect to Status and Execution.
type Event struct {
	Element

	RequiredTokens         int
	EstimatedOutputTokens  int
	Payload                map[string]any
	Headers                map[string]string
	Call                   CallFunc

	mu        sync.RWMutex
	status    Status
	execution Execution
}

// New constructs a PENDING event wrapping call, costed at requiredTokens
// admission tokens (plus estimatedOutputTokens reserved for the response).
func New(call CallFunc, requiredTokens, estimatedOutputTokens int, payload map[string]any, headers map[string]string) *Event {
	return &Event{
		Element:               NewElement(),
		RequiredTokens:        requiredTokens,
		EstimatedOutputTokens: estimatedOutputTokens,
		Payload:               payload,
		Headers:               headers,
		Call:                  call,
		status:                Pending,
	}
}

// Status returns the current lifecycle status.
func (e *Event) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Execution returns a copy of the current execution record.
func (e *Event) Execution() Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.execution
}

// Request is the opaque key/value snapshot the admission predicate
// consults.
func (e *Event) Request() map[string]any {
	return map[string]any{
		"required_tokens":         e.RequiredTokens,
		"estimated_output_tokens": e.EstimatedOutputTokens,
	}
}

// transition moves the event to next, rejecting illegal edges. Callers
// inside this package hold no other lock while calling it.
func (e *Event) transition(next Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.status.CanTransitionTo(next) {
		return false
	}
	e.status = next
	return true
}

// markProcessing transitions Pending -> Processing. Used by Processor.
func (e *Event) markProcessing() bool { return e.transition(Processing) }

// completeWith transitions Processing -> Completed and records the
// response + duration.
func (e *Event) completeWith(resp any, dur time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.status.CanTransitionTo(Completed) {
		return
	}
	e.status = Completed
	e.execution = Execution{Duration: dur, Response: resp}
}

// failWith transitions Processing -> Failed and records the error message
// + duration.
func (e *Event) failWith(errMsg string, dur time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.status.CanTransitionTo(Failed) {
		return
	}
	e.status = Failed
	e.execution = Execution{Duration: dur, Error: errMsg}
}

// MarkProcessing exposes the Pending -> Processing transition to the
// Processor package without exporting the full mutation surface.
func MarkProcessing(e *Event) bool { return e.markProcessing() }

// CompleteWith exposes the terminal-success transition to the invoker.
func CompleteWith(e *Event, resp any, dur time.Duration) { e.completeWith(resp, dur) }

// FailWith exposes the terminal-failure transition to the invoker.
func FailWith(e *Event, errMsg string, dur time.Duration) { e.failWith(errMsg, dur) }

// Snapshot is the JSON-serializable observable state of an event: what
// external observers (UIs, tests, the HTTP status API) consume.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	Response  any       `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ToSnapshot renders the event's externally observable state.
func (e *Event) ToSnapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		ID:        e.ID.String(),
		CreatedAt: e.CreatedAt,
		Status:    e.status.String(),
	}
	if e.status == Completed || e.status == Failed {
		s.Duration = e.execution.Duration.Seconds()
	}
	if e.status == Completed {
		s.Response = e.execution.Response
	}
	if e.status == Failed {
		s.Error = e.execution.Error
	}
	return s
}
