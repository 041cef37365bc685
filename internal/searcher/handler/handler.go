// Package handler serves the read side of the index over HTTP: search,
// stored document lookup, analysis, statistics and the commit controls.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
)

// Engine is the part of *indexer.Engine the handler needs.
type Engine interface {
	Parse(query string, defaultFields []string) (parser.Query, error)
	Snapshot() *snapshot.Snapshot
	ExecuteOn(ctx context.Context, q parser.Query, snap *snapshot.Snapshot, limit int) (*executor.Result, error)
	Get(id string) (map[string]document.Value, bool)
	Analyze(name, text string) ([]analyzer.Token, error)
	Flush(ctx context.Context) (indexer.CommitOutcome, error)
	Merge(ctx context.Context) (indexer.CommitOutcome, error)
	Stats() indexer.Stats
}

type Handler struct {
	engine       Engine
	cache        *cache.QueryCache
	metrics      *metrics.Metrics
	inflight     *semaphore.Weighted
	defaultLimit int
	maxResults   int
	timeout      time.Duration
	logger       *slog.Logger
}

// New builds a Handler. queryCache and m may be nil.
func New(engine Engine, queryCache *cache.QueryCache, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	h := &Handler{
		engine:       engine,
		cache:        queryCache,
		metrics:      m,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		timeout:      cfg.Timeout,
		logger:       slog.Default().With("component", "search-handler"),
	}
	if h.defaultLimit <= 0 {
		h.defaultLimit = 10
	}
	if cfg.MaxConcurrentQueries > 0 {
		h.inflight = semaphore.NewWeighted(int64(cfg.MaxConcurrentQueries))
	}
	return h
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Document)
	mux.HandleFunc("GET /api/v1/analyze", h.Analyze)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/flush", h.Flush)
	mux.HandleFunc("POST /api/v1/merge", h.Merge)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	params := r.URL.Query()
	if !params.Has("q") {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	query := params.Get("q")

	limit := h.defaultLimit
	if limitStr := params.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if h.maxResults > 0 && limit > h.maxResults {
		limit = h.maxResults
	}
	fields := splitFields(params.Get("fields"))

	q, err := h.engine.Parse(query, fields)
	if err != nil {
		h.observeSearch("error", "", 0, start)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	if h.inflight != nil {
		if !h.inflight.TryAcquire(1) {
			h.observeSearch("error", "", 0, start)
			h.writeError(w, http.StatusTooManyRequests, "too many concurrent searches")
			return
		}
		defer h.inflight.Release(1)
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	snap := h.engine.Snapshot()
	defer snap.Release()

	var result *executor.Result
	cacheStatus := "disabled"
	if h.cache != nil {
		key := cache.Key{Generation: snap.Generation(), Query: q.String(), Limit: limit, Fields: fields}
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, key, func() (*executor.Result, error) {
			return h.engine.ExecuteOn(ctx, q, snap, limit)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.engine.ExecuteOn(ctx, q, snap, limit)
	}
	if err != nil {
		h.observeSearch("error", cacheStatus, 0, start)
		log.Error("search execution failed", "query", query, "error", err)
		status := apperrors.HTTPStatusCode(err)
		if status == http.StatusInternalServerError {
			h.writeError(w, status, "search failed")
			return
		}
		h.writeError(w, status, err.Error())
		return
	}

	out := *result
	out.Query = query
	if out.Hits == nil {
		out.Hits = []executor.Hit{}
	}

	resultType := "hit"
	if out.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.observeSearch(resultType, cacheStatus, len(out.Hits), start)

	log.Info("search completed",
		"query", query,
		"generation", out.Generation,
		"total_hits", out.TotalHits,
		"returned", len(out.Hits),
		"cache", cacheStatus,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, &out)
}

func (h *Handler) observeSearch(resultType, cacheStatus string, returned int, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	if resultType == "error" {
		return
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(returned))
	switch cacheStatus {
	case "hit":
		h.metrics.CacheHitsTotal.Inc()
	case "miss":
		h.metrics.CacheMissesTotal.Inc()
	}
}

func splitFields(raw string) []string {
	if raw == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// Document returns the stored fields of one live document.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	fields, ok := h.engine.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("document %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "fields": fields})
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("analyzer")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'analyzer' is required")
		return
	}
	text := r.URL.Query().Get("text")
	tokens, err := h.engine.Analyze(name, text)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	if tokens == nil {
		tokens = []analyzer.Token{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"analyzer": name,
		"tokens":   tokens,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// Flush commits the write buffer and reports the published generation.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	h.runCommit(w, r, "flush", h.engine.Flush)
}

// Merge compacts the published segments into one.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	h.runCommit(w, r, "merge", h.engine.Merge)
}

func (h *Handler) runCommit(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) (indexer.CommitOutcome, error)) {
	log := logger.FromContext(r.Context())
	outcome, err := fn(r.Context())
	if err != nil {
		log.Error(op+" failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	log.Info(op+" completed",
		"generation", outcome.Generation,
		"no_op", outcome.NoOp,
		"segments", outcome.Segments,
		"documents", outcome.Documents,
	)
	h.writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheInvalidate drops the results cached for the published generation.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	snap := h.engine.Snapshot()
	generation := snap.Generation()
	snap.Release()

	if err := h.cache.EvictGeneration(r.Context(), generation); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "generation": generation})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
