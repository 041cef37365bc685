// Package cache stores search results in Redis keyed by snapshot
// generation, so a cached result can never outlive the snapshot it was
// computed from.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/resilience"
)

const (
	keyPrefix = "search:"
	opTimeout = 50 * time.Millisecond
)

// Store is the key-value backend; *redis.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) (int64, error)
}

// Key identifies one cacheable search.
type Key struct {
	Generation uint64
	Query      string
	Limit      int
	Fields     []string
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, cfg config.RedisConfig) *QueryCache {
	logger := slog.Default().With("component", "query-cache")
	return &QueryCache{
		store: store,
		ttl:   cfg.CacheTTL,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("cache circuit state changed", "from", from.String(), "to", to.String())
			},
		}),
		logger: logger,
	}
}

func (c *QueryCache) Get(ctx context.Context, key Key) (*executor.Result, bool) {
	k := buildKey(key)
	var data []byte
	err := c.breaker.Execute(func() error {
		v, err := resilience.Call(ctx, opTimeout, "cache-get", func(ctx context.Context) ([]byte, error) {
			return c.store.Get(ctx, k)
		})
		if errors.Is(err, pkgredis.ErrMiss) {
			return nil
		}
		data = v
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", k, "error", err)
	}
	if err != nil || data == nil {
		c.misses.Add(1)
		return nil, false
	}
	var result executor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", key.Query, "generation", key.Generation)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, result *executor.Result) {
	k := buildKey(key)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, opTimeout, "cache-set", func(ctx context.Context) error {
			return c.store.Set(ctx, k, data, c.ttl)
		})
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached result for key or computes and stores
// it. Concurrent identical searches share one computation. The boolean
// reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key Key,
	computeFn func() (*executor.Result, error),
) (*executor.Result, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(buildKey(key), func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Result), false, nil
}

// EvictGeneration removes the results cached for one generation. It is
// called once a newer snapshot is published; TTL expiry covers any entry
// it misses.
func (c *QueryCache) EvictGeneration(ctx context.Context, generation uint64) error {
	deleted, err := c.store.InvalidatePrefix(ctx, generationPrefix(generation))
	if err != nil {
		return fmt.Errorf("evicting generation %d: %w", generation, err)
	}
	c.logger.Debug("cache generation evicted", "generation", generation, "keys_deleted", deleted)
	return nil
}

type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Total   int64  `json:"total"`
	HitRate string `json:"hit_rate"`
	Circuit string `json:"circuit"`
}

func (c *QueryCache) Stats() Stats {
	st := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Circuit: c.breaker.Current().String()}
	st.Total = st.Hits + st.Misses
	var rate float64
	if st.Total > 0 {
		rate = float64(st.Hits) / float64(st.Total) * 100
	}
	st.HitRate = fmt.Sprintf("%.1f%%", rate)
	return st
}

func generationPrefix(generation uint64) string {
	return fmt.Sprintf("%sg%d:", keyPrefix, generation)
}

// buildKey hashes the canonical query text so that equivalent spellings of
// a query share an entry.
func buildKey(key Key) string {
	raw := fmt.Sprintf("%s|limit=%d|fields=%s", key.Query, key.Limit, strings.Join(key.Fields, ","))
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", generationPrefix(key.Generation), hash[:16])
}
