// SQSSource adapts a long-polled AWS SQS receive loop into an ingest
// source, modeled on internal/queue/sqs's Client/Consumer pair's polling
// and visibility-timeout handling, pointed at an Executor instead of a
// generic queue.Message handler.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI is the subset of *sqs.Client a source needs, narrowed for
// testability the way SQSClientAPI is elsewhere in this codebase family.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSConfig configures an SQSSource.
type SQSConfig struct {
	QueueURL            string
	Region              string
	WaitTimeSeconds     int32
	VisibilityTimeout   int32
	MaxNumberOfMessages int32
}

// SQSSource long-polls an SQS queue and appends translated events to an
// Executor, deleting each message only once its event reaches a terminal
// status.
type SQSSource struct {
	cfg       SQSConfig
	client    sqsAPI
	translate Translator
	appender  Appender
	logger    *slog.Logger
}

// NewSQSSource loads AWS credentials from the default provider chain and
// constructs an SQSSource against cfg.QueueURL.
func NewSQSSource(ctx context.Context, cfg SQSConfig, translate Translator, appender Appender, logger *slog.Logger) (*SQSSource, error) {
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 120
	}
	if cfg.MaxNumberOfMessages == 0 {
		cfg.MaxNumberOfMessages = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("ingest: load aws config: %w", err)
	}

	return &SQSSource{
		cfg:       cfg,
		client:    sqs.NewFromConfig(awsCfg),
		translate: translate,
		appender:  appender,
		logger:    logger,
	}, nil
}

// Run long-polls the queue until ctx is cancelled, dispatching every
// message it receives.
func (s *SQSSource) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sqs: poll failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		switch {
		case n == 0:
			time.Sleep(time.Second)
		case n < int(s.cfg.MaxNumberOfMessages):
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// Close is a no-op; Run stops when its context is cancelled. It exists so
// SQSSource satisfies the same shutdown surface as NATSSource.
func (s *SQSSource) Close() error { return nil }

func (s *SQSSource) poll(ctx context.Context) (int, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(s.cfg.QueueURL),
		MaxNumberOfMessages:   s.cfg.MaxNumberOfMessages,
		WaitTimeSeconds:       s.cfg.WaitTimeSeconds,
		VisibilityTimeout:     s.cfg.VisibilityTimeout,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{"All"},
	})
	if err != nil {
		return 0, fmt.Errorf("receive messages: %w", err)
	}

	for i := range out.Messages {
		msg := out.Messages[i]
		dispatch(ctx, "sqs", &sqsMessage{
			client:        s.client,
			queueURL:      s.cfg.QueueURL,
			id:            aws.ToString(msg.MessageId),
			body:          aws.ToString(msg.Body),
			receiptHandle: aws.ToString(msg.ReceiptHandle),
		}, s.translate, s.appender, s.logger)
	}
	return len(out.Messages), nil
}

type sqsMessage struct {
	client        sqsAPI
	queueURL      string
	id            string
	body          string
	receiptHandle string
}

func (m *sqsMessage) ID() string   { return m.id }
func (m *sqsMessage) Data() []byte { return []byte(m.body) }

// Ack deletes the message, the SQS equivalent of a broker ack.
func (m *sqsMessage) Ack() error {
	_, err := m.client.DeleteMessage(context.Background(), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.queueURL),
		ReceiptHandle: aws.String(m.receiptHandle),
	})
	return err
}

// Nak resets the visibility timeout to 0 so the message is immediately
// eligible for redelivery.
func (m *sqsMessage) Nak() error {
	return m.changeVisibility(0)
}

// NakWithDelay sets the visibility timeout to delay, deferring
// redelivery.
func (m *sqsMessage) NakWithDelay(delay time.Duration) error {
	return m.changeVisibility(int32(delay.Seconds()))
}

func (m *sqsMessage) changeVisibility(seconds int32) error {
	_, err := m.client.ChangeMessageVisibility(context.Background(), &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(m.queueURL),
		ReceiptHandle:     aws.String(m.receiptHandle),
		VisibilityTimeout: seconds,
	})
	return err
}
