// Package kafka publishes interaction records to a Kafka topic, keyed by
// session id so all turns of one call land on the same partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nadzzz/voicedesk/internal/config"
	"github.com/nadzzz/voicedesk/internal/record"
)

// batchTimeout bounds how long a single record waits for a batch to fill.
const batchTimeout = 10 * time.Millisecond

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink sends records to Kafka.
type Sink struct {
	writer messageWriter
	topic  string
}

var _ record.Sink = (*Sink)(nil)

// New creates a Kafka sink from config.
func New(cfg config.KafkaConfig) *Sink {
	return &Sink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: batchTimeout,
		},
		topic: cfg.Topic,
	}
}

func (s *Sink) Name() string { return "kafka" }

// Write publishes one record.
func (s *Sink) Write(ctx context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: data,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing to %s: %w", s.topic, err)
	}

	slog.Debug("record sent to kafka", "topic", s.topic, "session_id", rec.SessionID)
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
