// Package consumer reads document write events from Kafka and applies them
// to the index engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
)

// Applier is the write side of *indexer.Engine.
type Applier interface {
	IndexDocument(doc document.Document) (string, error)
	DeleteDocument(id string) (bool, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that applies each
// DocumentEvent to engine. Events that can never be applied, because they
// do not decode, fail validation or are rejected by the schema, are
// skipped. m may be nil.
func HandleMessage(engine Applier, idField string, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.DocumentEvent](value)
		if err != nil {
			logger.Error("failed to decode document event", "error", err, "key", string(key))
			return fmt.Errorf("%w: %v", kafka.ErrSkip, err)
		}
		if err := validator.ValidateEvent(&event, idField); err != nil {
			logger.Warn("invalid document event", "error", err, "key", string(key))
			return fmt.Errorf("%w: %v", kafka.ErrSkip, err)
		}

		switch event.Op {
		case ingestion.OpIndex:
			id, err := engine.IndexDocument(event.Document)
			if err != nil {
				docID := event.Document[idField].Str
				var encodeErr *document.EncodeError
				if errors.As(err, &encodeErr) {
					logger.Warn("document rejected", "doc_id", docID, "error", err)
					return fmt.Errorf("%w: %v", kafka.ErrSkip, err)
				}
				return fmt.Errorf("indexing document %s: %w", docID, err)
			}
			if m != nil {
				m.DocsIndexedTotal.Inc()
			}
			logger.Debug("document indexed", "doc_id", id)
		case ingestion.OpDelete:
			found, err := engine.DeleteDocument(event.ID)
			if err != nil {
				return fmt.Errorf("deleting document %s: %w", event.ID, err)
			}
			if m != nil {
				m.DocsDeletedTotal.Inc()
			}
			logger.Debug("document deleted", "doc_id", event.ID, "found", found)
		}
		return nil
	}
}
