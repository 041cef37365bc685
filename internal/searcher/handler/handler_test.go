package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/redis"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, pkgredis.ErrMiss
	}
	return v, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryStore) InvalidatePrefix(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func newEngine(t *testing.T, docs ...string) *indexer.Engine {
	t.Helper()
	e, err := indexer.Open(config.IndexerConfig{
		DataDir:        t.TempDir(),
		Codec:          "lz4",
		CommitInterval: time.Hour,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	for _, raw := range docs {
		doc, err := document.ParseJSON([]byte(raw))
		require.NoError(t, err)
		_, err = e.IndexDocument(doc)
		require.NoError(t, err)
	}
	if len(docs) > 0 {
		_, err = e.Flush(context.Background())
		require.NoError(t, err)
	}
	return e
}

func newServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

var blogDocs = []string{
	`{"id":"1","title":"rust search engine","tags":["rust","search"],"create_at":100,"features":{"lang":"en"}}`,
	`{"id":"2","title":"go concurrency","tags":["go"],"create_at":200,"features":{"lang":"zh"}}`,
	`{"id":"3","title":"rust ownership","tags":["rust"],"create_at":300}`,
}

type searchResponse struct {
	Query      string `json:"query"`
	TotalHits  int    `json:"total_hits"`
	Generation uint64 `json:"generation"`
	Hits       []struct {
		ID     string         `json:"id"`
		Score  float64        `json:"score"`
		Fields map[string]any `json:"fields"`
	} `json:"hits"`
}

func TestSearch(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(newEngine(t, blogDocs...), nil, metrics.New(reg), config.SearchConfig{DefaultLimit: 10, MaxResults: 2})
	srv := newServer(t, h)

	var resp searchResponse
	status := getJSON(t, http.MethodGet, srv.URL+"/api/v1/search?q=tags:rust&limit=50", &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "tags:rust", resp.Query)
	assert.Equal(t, 2, resp.TotalHits)
	assert.Len(t, resp.Hits, 2)
	assert.Equal(t, uint64(1), resp.Generation)

	resp = searchResponse{}
	status = getJSON(t, http.MethodGet, srv.URL+"/api/v1/search?q=features.lang:zh", &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "2", resp.Hits[0].ID)
	assert.Equal(t, "go concurrency", resp.Hits[0].Fields["title"])

	resp = searchResponse{}
	status = getJSON(t, http.MethodGet, srv.URL+"/api/v1/search?q=java&fields=tags", &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, resp.TotalHits)
	assert.NotNil(t, resp.Hits)
}

func TestSearchRejectsBadRequests(t *testing.T) {
	h := New(newEngine(t), nil, nil, config.SearchConfig{})
	srv := newServer(t, h)

	cases := map[string]int{
		"/api/v1/search":                       http.StatusBadRequest,
		"/api/v1/search?q=go&limit=0":          http.StatusBadRequest,
		"/api/v1/search?q=nope:x":              http.StatusBadRequest,
		"/api/v1/search?q=(go":                 http.StatusBadRequest,
		"/api/v1/search?q=go&fields=ghost":     http.StatusBadRequest,
		"/api/v1/search?q=create_at:[1+TO+2]":  http.StatusOK,
		"/api/v1/search?q=create_at:yesterday": http.StatusBadRequest,
	}
	for path, want := range cases {
		var body map[string]any
		assert.Equal(t, want, getJSON(t, http.MethodGet, srv.URL+path, &body), path)
	}
}

func TestSearchUsesGenerationKeyedCache(t *testing.T) {
	engine := newEngine(t, blogDocs...)
	qc := cache.New(&memoryStore{data: map[string][]byte{}}, config.RedisConfig{CacheTTL: time.Minute})
	srv := newServer(t, New(engine, qc, nil, config.SearchConfig{}))

	var first, second searchResponse
	getJSON(t, http.MethodGet, srv.URL+"/api/v1/search?q=tags:rust", &first)
	getJSON(t, http.MethodGet, srv.URL+"/api/v1/search?q=tags:rust", &second)
	st := qc.Stats()
	hits, misses := st.Hits, st.Misses
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, first.TotalHits, second.TotalHits)

	doc, err := document.ParseJSON([]byte(`{"id":"4","title":"more rust","tags":["rust"]}`))
	require.NoError(t, err)
	_, err = engine.IndexDocument(doc)
	require.NoError(t, err)
	_, err = engine.Flush(context.Background())
	require.NoError(t, err)

	var third searchResponse
	getJSON(t, http.MethodGet, srv.URL+"/api/v1/search?q=tags:rust", &third)
	assert.Equal(t, 3, third.TotalHits)
	assert.Equal(t, uint64(2), third.Generation)

	var stats map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/v1/cache/stats", &stats))
	assert.EqualValues(t, 2, stats["misses"])
	assert.Equal(t, "closed", stats["circuit"])

	var inv map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodPost, srv.URL+"/api/v1/cache/invalidate", &inv))
	assert.EqualValues(t, 2, inv["generation"])
}

func TestCacheDisabled(t *testing.T) {
	srv := newServer(t, New(newEngine(t), nil, nil, config.SearchConfig{}))

	var stats map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/v1/cache/stats", &stats))
	assert.Equal(t, "disabled", stats["status"])

	var body map[string]string
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, http.MethodPost, srv.URL+"/api/v1/cache/invalidate", &body))
}

func TestDocument(t *testing.T) {
	srv := newServer(t, New(newEngine(t, blogDocs...), nil, nil, config.SearchConfig{}))

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/3", &body))
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "rust ownership", fields["title"])
	assert.EqualValues(t, 300, fields["create_at"])

	assert.Equal(t, http.StatusNotFound, getJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/9", &body))
}

func TestAnalyze(t *testing.T) {
	srv := newServer(t, New(newEngine(t), nil, nil, config.SearchConfig{}))

	var body struct {
		Analyzer string `json:"analyzer"`
		Tokens   []struct {
			Term     string `json:"term"`
			Position int    `json:"position"`
		} `json:"tokens"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/v1/analyze?analyzer=whitespace_lc&text=Go+RUST", &body))
	require.Len(t, body.Tokens, 2)
	assert.Equal(t, "go", body.Tokens[0].Term)
	assert.Equal(t, "rust", body.Tokens[1].Term)
	assert.Equal(t, 1, body.Tokens[1].Position)

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, http.MethodGet, srv.URL+"/api/v1/analyze?analyzer=klingon&text=x", &errBody))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, http.MethodGet, srv.URL+"/api/v1/analyze?text=x", &errBody))
}

func TestFlushMergeAndStats(t *testing.T) {
	engine := newEngine(t, blogDocs[0])
	srv := newServer(t, New(engine, nil, nil, config.SearchConfig{}))

	doc, err := document.ParseJSON([]byte(blogDocs[1]))
	require.NoError(t, err)
	_, err = engine.IndexDocument(doc)
	require.NoError(t, err)

	var stats indexer.Stats
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/v1/stats", &stats))
	assert.Equal(t, 1, stats.PendingBufferedCount)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, "idle", stats.CommitState)

	var outcome indexer.CommitOutcome
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodPost, srv.URL+"/api/v1/flush", &outcome))
	assert.Equal(t, uint64(2), outcome.Generation)
	assert.Equal(t, 2, outcome.Segments)
	assert.False(t, outcome.NoOp)

	outcome = indexer.CommitOutcome{}
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodPost, srv.URL+"/api/v1/merge", &outcome))
	assert.True(t, outcome.Merged)
	assert.Equal(t, 1, outcome.Segments)
	assert.Equal(t, 2, outcome.Documents)

	stats = indexer.Stats{}
	require.Equal(t, http.StatusOK, getJSON(t, http.MethodGet, srv.URL+"/api/v1/stats", &stats))
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 1, stats.SegmentCount)
	assert.Zero(t, stats.PendingBufferedCount)
}
