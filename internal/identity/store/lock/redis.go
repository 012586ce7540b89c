// Package lock serializes identify calls across service instances with
// per-identifier Redis locks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"reconciler/pkg/platform/sentinel"
)

const (
	defaultKeyPrefix = "reconciler:lock:"
	defaultTTL       = 10 * time.Second
	minBackoff       = 10 * time.Millisecond
	maxBackoff       = 250 * time.Millisecond
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// TxRunner matches the identity service's StoreTx port.
type TxRunner interface {
	RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// RedisLocker takes a Redis lock for every key before delegating to next.
// Keys are acquired in sorted order and released in reverse.
type RedisLocker struct {
	client    redis.Cmdable
	next      TxRunner
	keyPrefix string
	ttl       time.Duration
}

type Option func(*RedisLocker)

func WithKeyPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		l.keyPrefix = prefix
	}
}

// WithTTL bounds how long a crashed holder can block others.
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func NewRedisLocker(client redis.Cmdable, next TxRunner, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		next:      next,
		keyPrefix: defaultKeyPrefix,
		ttl:       defaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type heldLock struct {
	key   string
	token string
}

func (l *RedisLocker) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]heldLock, 0, len(sorted))
	defer func() {
		// Release with a fresh context so a cancelled request still unlocks.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(releaseCtx, l.client, []string{held[i].key}, held[i].token).Err()
		}
	}()

	for _, key := range sorted {
		lock, err := l.acquire(ctx, l.keyPrefix+key)
		if err != nil {
			return err
		}
		held = append(held, lock)
	}
	return l.next.RunInTx(ctx, keys, fn)
}

// acquire spins with capped exponential backoff until the key is free or ctx ends.
func (l *RedisLocker) acquire(ctx context.Context, key string) (heldLock, error) {
	token := uuid.NewString()
	backoff := minBackoff
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return heldLock{}, err
			}
			return heldLock{}, fmt.Errorf("%w: acquire lock %s: %v", sentinel.ErrUnavailable, key, err)
		}
		if ok {
			return heldLock{key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return heldLock{}, ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}
}
