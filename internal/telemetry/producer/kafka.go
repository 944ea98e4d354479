// Package producer publishes audit events to Kafka.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"edu-platform/auth/internal/telemetry"
)

// DefaultTopic is used when no audit topic is configured.
const DefaultTopic = "edu-auth-audit"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements telemetry.Publisher using segmentio/kafka-go. Messages are
// keyed by user id so one user's events stay ordered within a partition.
type KafkaProducer struct {
	writer messageWriter
}

// NewKafkaProducer returns a producer writing to topic. Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("producer: no kafka brokers")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaProducer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}}, nil
}

// Publish serializes the event as JSON and writes it to the topic.
func (p *KafkaProducer) Publish(ctx context.Context, event telemetry.AuditEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var key []byte
	if event.UserID != "" {
		key = []byte(event.UserID)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload, Time: event.CreatedAt})
}

// Close closes the Kafka writer. Safe on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
