package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "reconciler/pkg/domain-errors"
)

func TestShardedTx_SelectShards(t *testing.T) {
	tx := &shardedTx{}
	keys := []string{"phone:123", "email:a@x.com", "phone:123"}

	shards := tx.selectShards(keys)
	assert.IsIncreasing(t, shards)
	assert.LessOrEqual(t, len(shards), 2)
	for _, shard := range shards {
		assert.Less(t, shard, numIdentifierShards)
	}
}

func TestHashKeyIsFNV1a(t *testing.T) {
	// Published 32-bit FNV-1a vectors.
	assert.Equal(t, uint32(0x811c9dc5), hashKey(""))
	assert.Equal(t, uint32(0xe40c292c), hashKey("a"))
	assert.Equal(t, uint32(0xbf9cf968), hashKey("foobar"))
}

func TestShardedTx_CancelledContext(t *testing.T) {
	tx := &shardedTx{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := tx.RunInTx(ctx, []string{"email:a@x.com"}, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestShardedTx_AppliesTimeout(t *testing.T) {
	tx := &shardedTx{timeout: 50 * time.Millisecond}
	err := tx.RunInTx(context.Background(), nil, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
}

func TestShardedTx_SerializesSharedKeys(t *testing.T) {
	tx := &shardedTx{}
	var active, overlap int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"email:shared@x.com"}
			if i%2 == 0 {
				keys = append(keys, "phone:123")
			}
			_ = tx.RunInTx(context.Background(), keys, func(context.Context) error {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Zero(t, overlap)
}
