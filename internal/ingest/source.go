// Package ingest adapts broker messages (NATS, SQS) into Events appended
// to an Executor, modeled on internal/queue/nats and internal/queue/sqs
// clients elsewhere in this codebase family. Both sources acknowledge a
// message only after its translated event reaches a terminal status, the
// way lionagi's own queue consumers do.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/telemetry"
)

// Appender is the subset of Executor an ingest source needs.
type Appender interface {
	Append(e *event.Event) error
}

// Translator builds an Event (including its CallFunc) from a raw broker
// message body.
type Translator func(body []byte) (*event.Event, error)

// pollInterval is how often dispatch waits to recheck an event's status
// before acking or naking the originating broker message.
const pollInterval = 50 * time.Millisecond

// nakRedeliveryDelay is applied to a Nak when the broker supports delayed
// redelivery, giving the downstream model a moment to recover.
const nakRedeliveryDelay = 5 * time.Second

// dispatch translates msg into an Event, appends it, and in its own
// goroutine waits for the event to reach a terminal status before
// acknowledging msg: Ack on Completed, Nak (with a short redelivery
// delay) on Failed. Acking eagerly on receipt would lose events if the
// process crashes before finishing.
func dispatch(ctx context.Context, source string, msg Message, translate Translator, appender Appender, logger *slog.Logger) {
	telemetry.IngestMessagesReceived.WithLabelValues(source).Inc()

	e, err := translate(msg.Data())
	if err != nil {
		logger.Error("ingest: failed to translate message", "id", msg.ID(), "error", err)
		_ = msg.Nak()
		return
	}
	if err := appender.Append(e); err != nil {
		logger.Error("ingest: failed to append event", "id", msg.ID(), "error", err)
		_ = msg.Nak()
		return
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			switch e.Status() {
			case event.Completed:
				if err := msg.Ack(); err != nil {
					logger.Error("ingest: ack failed", "id", msg.ID(), "error", err)
				} else {
					telemetry.IngestAcksSent.WithLabelValues(source, "completed").Inc()
				}
				return
			case event.Failed:
				if err := msg.NakWithDelay(nakRedeliveryDelay); err != nil {
					logger.Error("ingest: nak failed", "id", msg.ID(), "error", err)
				} else {
					telemetry.IngestAcksSent.WithLabelValues(source, "failed").Inc()
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
