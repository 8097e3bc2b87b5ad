// Package kafka publishes every job event to a Kafka topic as JSON, keyed by job id.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/target/smart-resizer/internal/observability/notify"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config describes the target topic.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	// Writer replaces the default *kafka.Writer when set.
	Writer MessageWriter
}

// Sink writes job events to Kafka.
type Sink struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewSink builds a Sink, creating a hash-balanced writer unless cfg.Writer is supplied.
func NewSink(cfg Config) (*Sink, error) {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cfg.Writer != nil {
		return &Sink{writer: cfg.Writer, timeout: timeout}, nil
	}

	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	topic := strings.TrimSpace(cfg.Topic)
	switch {
	case len(brokers) == 0:
		return nil, errors.New("kafka brokers are required")
	case topic == "":
		return nil, errors.New("kafka topic is required")
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: timeout,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Sink{writer: w, timeout: timeout}, nil
}

// SendJobEvent publishes event. Messages for one job land on the same partition.
func (s *Sink) SendJobEvent(ctx context.Context, event notify.JobEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode kafka job event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := kafkago.Message{
		Key:   []byte(event.JobID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(event.Status)},
			{Key: "severity", Value: []byte(event.EffectiveSeverity())},
		},
		Time: event.OccurredAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka job event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
