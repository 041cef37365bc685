// Package redis wraps go-redis/v9 for the search result cache: namespaced
// byte values with a TTL and bulk eviction by key prefix.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

// scanBatch is both the SCAN count hint and the number of keys unlinked
// per round trip during prefix eviction.
const scanBatch = 200

// Client namespaces every key it touches.
type Client struct {
	rdb       redis.UniversalClient
	namespace string
}

// NewClient connects to cfg.Addr and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig, namespace string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewFromUniversal(rdb, namespace), nil
}

// NewFromUniversal wraps an existing client, such as a cluster or sentinel
// client.
func NewFromUniversal(rdb redis.UniversalClient, namespace string) *Client {
	if namespace != "" && namespace[len(namespace)-1] != ':' {
		namespace += ":"
	}
	return &Client{rdb: rdb, namespace: namespace}
}

func (c *Client) key(k string) string {
	return c.namespace + k
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return v, err
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), value, ttl).Err()
}

// InvalidatePrefix unlinks every key under prefix and returns how many
// were removed. Keys are unlinked in pipelined batches while scanning.
func (c *Client) InvalidatePrefix(ctx context.Context, prefix string) (int64, error) {
	pattern := c.key(prefix) + "*"
	var removed int64
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return err
	}

	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("unlinking %s: %w", pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("unlinking %s: %w", pattern, err)
	}
	return removed, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
