// Package publisher produces document write events to Kafka for the index
// consumer. Events are keyed by document identifier, so writes to one
// document keep their order.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
)

// EventWriter is the part of *kafka.Producer the publisher uses.
type EventWriter interface {
	Publish(ctx context.Context, event kafka.Event) error
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type Publisher struct {
	producer EventWriter
	now      func() time.Time
	logger   *slog.Logger
}

func New(producer EventWriter) *Publisher {
	return &Publisher{
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "publisher"),
	}
}

func (p *Publisher) event(op ingestion.Operation, id string, doc document.Document) kafka.Event {
	return kafka.Event{
		Key:  id,
		Type: string(op),
		Value: ingestion.DocumentEvent{
			Op:         op,
			ID:         id,
			Document:   doc,
			IngestedAt: p.now(),
		},
	}
}

// Index queues doc, whose identifier is id, for indexing.
func (p *Publisher) Index(ctx context.Context, id string, doc document.Document) error {
	if err := p.producer.Publish(ctx, p.event(ingestion.OpIndex, id, doc)); err != nil {
		p.logger.Error("failed to publish index event", "doc_id", id, "error", err)
		return fmt.Errorf("publishing index event for %s: %w", id, err)
	}
	return nil
}

// Delete queues the removal of id.
func (p *Publisher) Delete(ctx context.Context, id string) error {
	if err := p.producer.Publish(ctx, p.event(ingestion.OpDelete, id, nil)); err != nil {
		p.logger.Error("failed to publish delete event", "doc_id", id, "error", err)
		return fmt.Errorf("publishing delete event for %s: %w", id, err)
	}
	return nil
}

// IndexBatch queues several documents in one produce call. ids[i] is the
// identifier of docs[i].
func (p *Publisher) IndexBatch(ctx context.Context, ids []string, docs []document.Document) error {
	events := make([]kafka.Event, len(docs))
	for i, doc := range docs {
		events[i] = p.event(ingestion.OpIndex, ids[i], doc)
	}
	if err := p.producer.PublishBatch(ctx, events); err != nil {
		p.logger.Error("failed to publish index batch", "count", len(events), "error", err)
		return fmt.Errorf("publishing %d index events: %w", len(events), err)
	}
	return nil
}
