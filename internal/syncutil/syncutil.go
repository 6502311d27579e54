// Package syncutil provides per-key locking for serializing operations on
// the same owner while letting different owners proceed concurrently.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// ContextShardedMutex stripes keys over a fixed pool of channel-backed
// locks. Memory stays bounded no matter how many keys are seen; keys that
// hash to the same shard contend with each other, which is acceptable for
// short critical sections. The channel form lets waiters give up when
// their context is cancelled.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
}

func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// LockContext acquires the shard lock for key. It returns the unlock
// function, which the caller must invoke exactly once, or ctx.Err() if the
// context ends while waiting.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardFor(key)]

	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
