package commitlog

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
)

// Publisher is the part of *kafka.Producer the announcer uses.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Announcer publishes commit events to Kafka so that downstream readers,
// such as other cache nodes, learn about new generations. It is a Sink.
type Announcer struct {
	producer Publisher
	key      string
}

// NewAnnouncer keys every message with indexName, keeping all
// announcements for one index on one partition in order.
func NewAnnouncer(producer Publisher, indexName string) *Announcer {
	return &Announcer{producer: producer, key: indexName}
}

func (a *Announcer) Record(ctx context.Context, event Event) error {
	if err := a.producer.Publish(ctx, kafka.Event{Key: a.key, Type: "index.committed", Value: event}); err != nil {
		return fmt.Errorf("announcing generation %d: %w", event.Generation, err)
	}
	return nil
}
