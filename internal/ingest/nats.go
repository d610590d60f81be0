// NATSSource adapts a NATS JetStream durable consumer into an ingest
// source, modeled on internal/queue/nats's Client/Consumer pair, trimmed
// to the read side and pointed at an Executor instead of a generic
// queue.Message handler.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig configures a NATSSource.
type NATSConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
}

// NATSSource consumes translated events from a JetStream stream and
// appends them to an Executor, acking only once each event's invocation
// reaches a terminal status.
type NATSSource struct {
	cfg       NATSConfig
	conn      *nats.Conn
	js        jetstream.JetStream
	translate Translator
	appender  Appender
	logger    *slog.Logger
}

// NewNATSSource connects to NATS and prepares (without yet creating) the
// durable consumer described by cfg.
func NewNATSSource(cfg NATSConfig, translate Translator, appender Appender, logger *slog.Logger) (*NATSSource, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "LIONFORGE"
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingest: create jetstream context: %w", err)
	}

	return &NATSSource{cfg: cfg, conn: conn, js: js, translate: translate, appender: appender, logger: logger}, nil
}

// Run creates (or attaches to) the durable consumer and dispatches
// messages until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context) error {
	ackWait := s.cfg.AckWait
	if ackWait <= 0 {
		ackWait = 2 * time.Minute
	}
	maxDeliver := s.cfg.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = 5
	}

	stream, err := s.js.Stream(ctx, s.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("ingest: get stream %s: %w", s.cfg.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          s.cfg.ConsumerName,
		Durable:       s.cfg.ConsumerName,
		FilterSubject: s.cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: 1000,
	})
	if err != nil {
		return fmt.Errorf("ingest: create consumer %s: %w", s.cfg.ConsumerName, err)
	}

	msgIter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("ingest: open message iterator: %w", err)
	}
	defer msgIter.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := msgIter.Next()
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			s.logger.Error("nats: error fetching next message", "error", err)
			continue
		}

		dispatch(ctx, "nats", &natsMessage{msg: msg}, s.translate, s.appender, s.logger)
	}
}

// Close closes the underlying NATS connection.
func (s *NATSSource) Close() error {
	s.conn.Close()
	return nil
}

type natsMessage struct {
	msg jetstream.Msg
}

func (m *natsMessage) ID() string {
	if id := m.msg.Headers().Get("Nats-Msg-Id"); id != "" {
		return id
	}
	if meta, err := m.msg.Metadata(); err == nil {
		return fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
	}
	return ""
}

func (m *natsMessage) Data() []byte { return m.msg.Data() }

func (m *natsMessage) Ack() error { return m.msg.Ack() }

func (m *natsMessage) Nak() error { return m.msg.Nak() }

func (m *natsMessage) NakWithDelay(delay time.Duration) error { return m.msg.NakWithDelay(delay) }
