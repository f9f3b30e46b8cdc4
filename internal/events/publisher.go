package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"bizdir/internal/config"
	"bizdir/internal/util"
)

// Event types emitted on the identity stream.
const (
	TypeAccountCreated      = "account.created"
	TypeAccountVerified     = "account.verified"
	TypeAccountLocked       = "account.locked"
	TypeAccountEmailChanged = "account.email_changed"
	TypeAccountDeleted      = "account.deleted"
)

// Event is the wire shape written to the identity topic.
type Event struct {
	Type       string            `json:"type"`
	SubjectID  string            `json:"subject_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher writes identity lifecycle events to Kafka. A nil Publisher is
// valid and drops events, so the service degrades gracefully when brokers
// are absent.
type Publisher struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write identity events",
					util.ErrorField(err),
					util.Int("message_count", len(messages)))
			}
		},
	}

	logger.Info("identity event publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		util.String("topic", cfg.Topic))

	return &Publisher{writer: writer, topic: cfg.Topic, logger: logger}, nil
}

// Publish emits one event. Publishing is best-effort; failures are logged
// and never surface to the identity workflows.
func (p *Publisher) Publish(ctx context.Context, eventType, subjectID string, attributes map[string]string) {
	if p == nil {
		return
	}

	evt := Event{
		Type:       eventType,
		SubjectID:  subjectID,
		OccurredAt: time.Now().UTC(),
		Attributes: attributes,
	}

	value, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal identity event", util.ErrorField(err))
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(subjectID),
		Value: value,
	}); err != nil {
		p.logger.Warn("failed to publish identity event",
			util.String("type", eventType),
			util.ErrorField(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
