package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/resilience"
)

// Header names set on every produced message.
const (
	HeaderContentType = "content-type"
	HeaderEventType   = "event-type"
)

// maxWriteBatch bounds how many messages go into one WriteMessages call.
const maxWriteBatch = 100

// Event is one message to publish. Key drives partitioning, so every
// event for a document id lands on the same partition in order.
type Event struct {
	Key   string
	Type  string
	Value any
}

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	retry  resilience.RetryConfig
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    maxWriteBatch,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Lz4,
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireAll,
	}
	return NewProducerWithWriter(w, topic)
}

func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event before writing any, then writes them in
// chunks of at most maxWriteBatch. Each chunk is retried on its own; a
// failed chunk stops the batch and earlier chunks stay written.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	messages, err := encodeEvents(events)
	if err != nil {
		return err
	}
	for start := 0; start < len(messages); start += maxWriteBatch {
		chunk := messages[start:min(start+maxWriteBatch, len(messages))]
		err := resilience.Retry(ctx, "kafka-publish", p.retry, func() error {
			return p.writer.WriteMessages(ctx, chunk...)
		})
		if err != nil {
			p.logger.Error("failed to publish batch", "written", start, "total", len(messages), "error", err)
			return fmt.Errorf("publishing to kafka (%d of %d written): %w", start, len(messages), err)
		}
	}
	p.logger.Debug("batch published", "count", len(messages))
	return nil
}

func encodeEvents(events []Event) ([]kafka.Message, error) {
	messages := make([]kafka.Message, 0, len(events))
	for i, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding event %d (key %q): %w", i, event.Key, err)
		}
		headers := []kafka.Header{{Key: HeaderContentType, Value: []byte("application/json")}}
		if event.Type != "" {
			headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)})
		}
		messages = append(messages, kafka.Message{Key: []byte(event.Key), Value: value, Headers: headers})
	}
	return messages, nil
}

// HeaderValue returns the value of the named header, or "".
func HeaderValue(msg kafka.Message, name string) string {
	for _, h := range msg.Headers {
		if h.Key == name {
			return string(h.Value)
		}
	}
	return ""
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
