//go:build integration

package containers

import (
	"context"
	"testing"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"reconciler/internal/platform/config"
	"reconciler/internal/platform/redis"
)

// RedisContainer is a Redis instance reached through the same client the server builds.
type RedisContainer struct {
	Container *tcredis.RedisContainer
	URL       string
	*redis.Client
}

// NewRedisContainer starts Redis and connects with config.RedisConfig defaults.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	client, err := redis.New(ctx, config.RedisConfig{URL: url, PoolSize: 20})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("connect redis: %v", err)
	}
	if err := client.Health(ctx); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis health: %v", err)
	}

	// Shared by the Manager for the whole test binary; Ryuk terminates it.
	return &RedisContainer{Container: container, URL: url, Client: client}
}

// FlushAll isolates suites that share the container.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
