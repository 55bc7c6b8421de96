package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaSink publishes events to a Kafka topic keyed by aggregate id so that
// all events for one asset land on the same partition.
type KafkaSink struct {
	writer *kafkago.Writer
}

// NewKafkaSink constructs a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers list is empty")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	return &KafkaSink{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish writes a single message.
func (s *KafkaSink) Publish(ctx context.Context, key string, value []byte) error {
	if err := s.writer.WriteMessages(ctx, kafkago.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink records events in the process log when no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Publish logs the event.
func (s LogSink) Publish(_ context.Context, key string, value []byte) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("domain event", "aggregate_id", key, "event", string(value))
	return nil
}

// Close is a no-op.
func (LogSink) Close() error { return nil }
