package ingest

import "time"

// Message is a broker-agnostic view of one inbound work item, modeled on
// internal/queue.Message elsewhere in this codebase family: whichever
// broker an ingest source wraps (NATS JetStream, SQS), it reduces to this
// shape before a Translator turns it into an Event.
type Message interface {
	// ID returns the broker's identifier for the message.
	ID() string
	// Data returns the raw message payload.
	Data() []byte
	// Ack acknowledges successful terminal processing.
	Ack() error
	// Nak signals failure; the broker may redeliver.
	Nak() error
	// NakWithDelay signals failure with a redelivery delay.
	NakWithDelay(delay time.Duration) error
}
