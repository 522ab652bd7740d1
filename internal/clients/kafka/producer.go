package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"referral-engine/internal/observability"

	"github.com/segmentio/kafka-go"
)

// Producer handles publishing events to Kafka
type Producer struct {
	writer *kafka.Writer
	logger *observability.Logger
}

// ProducerConfig contains configuration for Kafka producer
type ProducerConfig struct {
	Brokers []string
	Topic   string
}

// NewProducer creates a new Kafka producer
func NewProducer(config ProducerConfig, logger *observability.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:        kafka.TCP(config.Brokers...),
		Topic:       config.Topic,
		Balancer:    &kafka.LeastBytes{},
		Async:       false,
		Compression: kafka.Snappy,
		BatchSize:   100,
	}

	return &Producer{
		writer: writer,
		logger: logger,
	}
}

// EventMessage represents an event message structure
type EventMessage struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	ReferralCode *string                `json:"referral_code,omitempty"`
	Data         map[string]interface{} `json:"data"`
	Timestamp    string                 `json:"timestamp"`
}

// PublishEvent publishes an event to Kafka
func (p *Producer) PublishEvent(ctx context.Context, event EventMessage) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "event_type", Value: event.Type},
		observability.Field{Key: "event_id", Value: event.ID},
	)

	eventBytes, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal event", err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Partition by code so per-code event ordering is preserved. Events
	// without a code share one partition key.
	key := "referral"
	if event.ReferralCode != nil {
		key = *event.ReferralCode
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		p.logger.Error(ctx, "failed to write message to kafka", err)
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Info(ctx, fmt.Sprintf("published event %s to kafka", event.Type))
	return nil
}

// Close closes the Kafka writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
