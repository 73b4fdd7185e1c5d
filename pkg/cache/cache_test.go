package cache

import (
	"context"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisAddr string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err == nil {
		if endpoint, err := container.Endpoint(ctx, ""); err == nil {
			redisAddr = endpoint
		}
	}

	code := m.Run()
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	if redisAddr == "" {
		t.Skip("redis container not available")
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	c := NewWithClient(rdb, 2*time.Second, logger.Nop())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNilCache(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	release, err := c.Lock(ctx, "request:1")
	require.NoError(t, err)
	release()

	_, ok, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.Equal(t, "disabled", c.Health(ctx)["status"])
	assert.NoError(t, c.Close())
}

func TestCache_GetSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "idempotency:r1:k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "idempotency:r1:k1", "delivery-1", time.Minute))

	v, ok, err := c.Get(ctx, "idempotency:r1:k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "delivery-1", v)

	require.NoError(t, c.Delete(ctx, "idempotency:r1:k1"))
	_, ok, _ = c.Get(ctx, "idempotency:r1:k1")
	assert.False(t, ok)
}

func TestCache_LockIsExclusive(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	release, err := c.Lock(ctx, "request:42")
	require.NoError(t, err)

	_, err = c.Lock(ctx, "request:42")
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release()

	again, err := c.Lock(ctx, "request:42")
	require.NoError(t, err)
	again()
}

func TestCache_Health(t *testing.T) {
	c := newTestCache(t)
	assert.Equal(t, "up", c.Health(context.Background())["status"])
}
