package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
)

type recorder struct {
	batches [][]kafka.Event
	err     error
}

func (r *recorder) Publish(ctx context.Context, event kafka.Event) error {
	return r.PublishBatch(ctx, []kafka.Event{event})
}

func (r *recorder) PublishBatch(_ context.Context, events []kafka.Event) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, events)
	return nil
}

func TestEventsAreKeyedByID(t *testing.T) {
	rec := &recorder{}
	p := New(rec)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return at }

	doc := document.Document{"id": document.String("a")}
	require.NoError(t, p.Index(context.Background(), "a", doc))
	require.NoError(t, p.Delete(context.Background(), "a"))
	require.NoError(t, p.IndexBatch(context.Background(), []string{"b", "c"}, []document.Document{doc, doc}))

	require.Len(t, rec.batches, 3)
	assert.Equal(t, kafka.Event{Key: "a", Type: string(ingestion.OpIndex), Value: ingestion.DocumentEvent{
		Op: ingestion.OpIndex, ID: "a", Document: doc, IngestedAt: at,
	}}, rec.batches[0][0])
	assert.Equal(t, ingestion.OpDelete, rec.batches[1][0].Value.(ingestion.DocumentEvent).Op)
	assert.Nil(t, rec.batches[1][0].Value.(ingestion.DocumentEvent).Document)
	require.Len(t, rec.batches[2], 2)
	assert.Equal(t, "c", rec.batches[2][1].Key)
}

func TestPublishErrorsAreWrapped(t *testing.T) {
	boom := errors.New("broker down")
	p := New(&recorder{err: boom})
	err := p.Delete(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a")
}
