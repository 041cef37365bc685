package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
)

// skipIfNoRedis skips the test when Redis is unavailable. Each test gets
// its own namespace so runs never see each other's keys.
func skipIfNoRedis(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := NewClient(config.RedisConfig{Addr: addr, PoolSize: 2}, "test-"+uuid.NewString())
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNamespaceGetsSeparator(t *testing.T) {
	assert.Equal(t, "snapsearch:", NewFromUniversal(nil, "snapsearch").namespace)
	assert.Equal(t, "a:", NewFromUniversal(nil, "a:").namespace)
	assert.Equal(t, "", NewFromUniversal(nil, "").namespace)
}

func TestGetSetMiss(t *testing.T) {
	c := skipIfNoRedis(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestInvalidatePrefixSpansBatches(t *testing.T) {
	c := skipIfNoRedis(t)
	ctx := context.Background()

	for i := range scanBatch + 10 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("search:g1:%d", i), []byte("x"), time.Minute))
	}
	require.NoError(t, c.Set(ctx, "search:g2:keep", []byte("x"), time.Minute))

	removed, err := c.InvalidatePrefix(ctx, "search:g1:")
	require.NoError(t, err)
	assert.EqualValues(t, scanBatch+10, removed)

	_, err = c.Get(ctx, "search:g2:keep")
	assert.NoError(t, err)
}
