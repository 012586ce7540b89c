package service

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	dErrors "reconciler/pkg/domain-errors"
)

// shardedTx serializes identify calls that share an identifier using sharded
// mutexes. Keys hash onto shards; all shards for a call are taken in ascending
// order so overlapping calls cannot deadlock. Calls with disjoint keys usually
// land on different shards and run in parallel.
const numIdentifierShards = 128

// defaultTxTimeout is the maximum duration for a reconciliation.
const defaultTxTimeout = 5 * time.Second

type shardedTx struct {
	shards  [numIdentifierShards]sync.Mutex
	timeout time.Duration
}

func (t *shardedTx) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shards := t.selectShards(keys)
	for _, shard := range shards {
		t.shards[shard].Lock()
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			t.shards[shards[i]].Unlock()
		}
	}()

	// Check again after acquiring locks
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}

// selectShards returns the distinct shards for keys in ascending order.
func (t *shardedTx) selectShards(keys []string) []int {
	shards := make([]int, 0, len(keys))
	for _, k := range keys {
		shards = append(shards, int(hashKey(k)%numIdentifierShards))
	}
	slices.Sort(shards)
	return slices.Compact(shards)
}

func hashKey(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
