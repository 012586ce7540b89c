// Package redis opens the optional Redis connection shared by the identifier
// lock and the rate limit counters.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reconciler/internal/platform/config"
	"reconciler/pkg/platform/sentinel"
)

const healthTimeout = 2 * time.Second

type Client struct {
	*redis.Client
}

// New connects to cfg.URL and pings it. An empty URL means Redis is not
// configured and yields (nil, nil).
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	applyOverrides(opts, cfg)

	c := &Client{Client: redis.NewClient(opts)}
	pingCtx, cancel := context.WithTimeout(ctx, c.Options().DialTimeout)
	defer cancel()
	if err := c.Health(pingCtx); err != nil {
		_ = c.Client.Close()
		return nil, err
	}
	return c, nil
}

func applyOverrides(opts *redis.Options, cfg config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
}

// Health pings the server; failures wrap sentinel.ErrUnavailable.
func (c *Client) Health(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, healthTimeout)
		defer cancel()
	}
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}
