package commitlog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
)

type fakeProducer struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *fakeProducer) Publish(_ context.Context, event kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakeProducer) published() []kafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.Event(nil), p.events...)
}

func TestFromOutcome(t *testing.T) {
	at := time.Now()
	e := FromOutcome(indexer.CommitOutcome{Generation: 4, Merged: true, Documents: 9, Duration: 1500 * time.Millisecond, CommittedAt: at})
	assert.Equal(t, Event{Kind: KindMerge, Generation: 4, Documents: 9, DurationMs: 1500, CommittedAt: at}, e)
	assert.Equal(t, KindCommit, FromOutcome(indexer.CommitOutcome{Added: 1}).Kind)
}

func TestAggregatorStats(t *testing.T) {
	a := NewAggregator()
	ctx := context.Background()
	for i := 1; i <= 60; i++ {
		require.NoError(t, a.Record(ctx, Event{Kind: KindCommit, Generation: uint64(i), Added: 2, Deleted: 1, DurationMs: int64(i)}))
	}
	require.NoError(t, a.Record(ctx, Event{Kind: KindMerge, Generation: 61, DurationMs: 100}))

	s := a.Stats()
	assert.Equal(t, int64(60), s.Commits)
	assert.Equal(t, int64(1), s.Merges)
	assert.Equal(t, int64(120), s.DocumentsAdded)
	assert.Equal(t, int64(60), s.DocumentsDeleted)
	assert.Equal(t, int64(31), s.P50DurationMs)
	assert.Equal(t, int64(100), s.P99DurationMs)
	require.Len(t, s.Recent, recentEvents)
	assert.Equal(t, uint64(61), s.Recent[0].Generation)
	assert.Equal(t, uint64(12), s.Recent[recentEvents-1].Generation)
}

type failingSink struct{ calls int }

func (f *failingSink) Record(context.Context, Event) error {
	f.calls++
	return errors.New("down")
}

func TestCollectorDeliversEngineCommits(t *testing.T) {
	engine, err := indexer.Open(config.IndexerConfig{DataDir: t.TempDir(), Codec: "none", CommitInterval: time.Hour}, nil)
	require.NoError(t, err)

	agg := NewAggregator()
	prod := &fakeProducer{}
	broken := &failingSink{}
	c := NewCollector(16, broken, agg, NewAnnouncer(prod, "blog"))
	c.Start(context.Background())
	engine.OnCommit(c.Track)

	for _, id := range []string{"a", "b"} {
		_, err := engine.IndexDocument(document.Document{"id": document.String(id)})
		require.NoError(t, err)
		_, err = engine.Flush(context.Background())
		require.NoError(t, err)
	}
	_, err = engine.Merge(context.Background())
	require.NoError(t, err)
	require.NoError(t, engine.Close())
	c.Close()

	s := agg.Stats()
	assert.Equal(t, int64(2), s.Commits)
	assert.Equal(t, int64(1), s.Merges)
	assert.Equal(t, int64(2), s.DocumentsAdded)
	assert.Equal(t, 3, broken.calls)

	events := prod.published()
	require.Len(t, events, 3)
	assert.Equal(t, "blog", events[0].Key)
	assert.Equal(t, "index.committed", events[0].Type)
	last := events[2].Value.(Event)
	assert.Equal(t, KindMerge, last.Kind)
	assert.Equal(t, uint64(3), last.Generation)
	assert.Equal(t, 2, last.Documents)
}

func TestCollectorDropsWhenFull(t *testing.T) {
	agg := NewAggregator()
	c := NewCollector(1, agg)
	c.Track(indexer.CommitOutcome{Generation: 1})
	c.Track(indexer.CommitOutcome{Generation: 2})
	c.Start(context.Background())
	c.Close()
	assert.Equal(t, int64(1), agg.Stats().Commits)
}

func TestAnnouncerWrapsErrors(t *testing.T) {
	boom := errors.New("broker down")
	err := NewAnnouncer(&fakeProducer{err: boom}, "blog").Record(context.Background(), Event{Generation: 7})
	assert.ErrorIs(t, err, boom)
}

func TestHandler(t *testing.T) {
	agg := NewAggregator()
	require.NoError(t, agg.Record(context.Background(), Event{Kind: KindCommit, Generation: 1, Added: 3}))
	mux := http.NewServeMux()
	NewHandler(agg, nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commits", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var s Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, int64(3), s.DocumentsAdded)
	require.Len(t, s.Recent, 1)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commits/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrackAfterCloseIsIgnored(t *testing.T) {
	agg := NewAggregator()
	c := NewCollector(4, agg)
	c.Start(context.Background())
	c.Close()
	c.Track(indexer.CommitOutcome{Generation: 1})
	c.Close()
	assert.Zero(t, agg.Stats().Commits)
}
