// Package kafka wraps segmentio/kafka-go for the ingest topic and the
// commit announcements. Values travel as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/resilience"
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ErrSkip marks a message that can never be processed, such as one that
// fails validation. It is committed and dropped.
var ErrSkip = errors.New("skip message")

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts what the consume loop did with each message.
type ConsumerStats struct {
	Handled int64 `json:"handled"`
	Skipped int64 `json:"skipped"`
	Retries int64 `json:"retries"`
}

// Consumer hands each message of one topic to a MessageHandler, in
// partition order. A message is committed once its handler succeeds or
// reports ErrSkip; any other error is retried with backoff, holding back
// the messages behind it, until it succeeds or the context ends.
type Consumer struct {
	reader  MessageReader
	handler MessageHandler
	backoff resilience.RetryConfig
	logger  *slog.Logger

	handled atomic.Int64
	skipped atomic.Int64
	retries atomic.Int64
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(r, topic, handler)
}

func NewConsumerWithReader(r MessageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		backoff: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start runs the consume loop until ctx is cancelled, then closes the
// reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer func() {
		c.logger.Info("consumer stopped", "handled", c.handled.Load(), "skipped", c.skipped.Load())
	}()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.reader.Close()
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		if !c.process(ctx, msg) {
			return c.reader.Close()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit offset",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// process reports false when ctx ended before msg could be handled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
	for {
		err := resilience.Retry(ctx, "kafka-handle", c.backoff, func() error {
			err := c.handler(ctx, msg.Key, msg.Value)
			if err == nil || errors.Is(err, ErrSkip) {
				return resilience.Permanent(err)
			}
			c.retries.Add(1)
			return err
		})
		switch {
		case err == nil:
			c.handled.Add(1)
			return true
		case errors.Is(err, ErrSkip):
			c.skipped.Add(1)
			log.Warn("skipping message", "key", string(msg.Key), "event_type", HeaderValue(msg, HeaderEventType), "error", err)
			return true
		case ctx.Err() != nil:
			return false
		}
		log.Error("message still failing, holding partition", "key", string(msg.Key), "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff.MaxDelay):
		}
	}
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled: c.handled.Load(),
		Skipped: c.skipped.Load(),
		Retries: c.retries.Load(),
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
