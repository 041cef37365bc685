package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommit(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveCommit("commit", 10*time.Millisecond, nil)
	m.ObserveCommit("commit", 0, errors.New("disk full"))
	m.ObserveCommit("merge", time.Second, nil)

	assert.Equal(t, 1.0, value(t, m.CommitsTotal.WithLabelValues("commit", "success")))
	assert.Equal(t, 1.0, value(t, m.CommitsTotal.WithLabelValues("commit", "error")))
	assert.Equal(t, 1.0, value(t, m.CommitsTotal.WithLabelValues("merge", "success")))
}

func TestSetIndexState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetIndexState(7, 3, 120, 4)
	assert.Equal(t, 7.0, value(t, m.SnapshotGeneration))
	assert.Equal(t, 3.0, value(t, m.SegmentCount))
	assert.Equal(t, 120.0, value(t, m.DocumentCount))
	assert.Equal(t, 4.0, value(t, m.PendingDocuments))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DocsIndexedTotal.Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "docs_indexed_total 3")
}

func TestServerRoutesOnlyMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	srv := NewServer(":0", m)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, "127.0.0.1:0", New(prometheus.NewRegistry())) }()
	cancel()
	assert.NoError(t, <-errCh)
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}
