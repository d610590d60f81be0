// Package logsink implements an optional persistence sink: a LogManager
// equivalent that accepts per-event Records and persists them, off the
// hot path. FileSink writes buffered Records only when Flush is called or
// on Close with auto-save set; nothing flushes on a timer. MongoSink is
// modeled on mongo_repository.go's
// instrumented-repository pattern, offered as a drop-in alternative to
// FileSink with the same method set.
package logsink

import (
	"context"
	"time"
)

// Record is the immutable structured entry a Sink persists, mirroring an
// event's observable terminal state.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	Response  any       `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Sink accepts Records and persists them to durable storage: on Flush (or
// Close) for FileSink, on each Log for MongoSink. No implementation
// flushes on a timer.
type Sink interface {
	Log(ctx context.Context, r Record) error
	Flush(ctx context.Context) error
	Close() error
}
