package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "owner-1")
	require.NoError(t, err)
	unlock()

	// reacquirable after unlock
	unlock, err = m.LockContext(context.Background(), "owner-1")
	require.NoError(t, err)
	unlock()
}

func TestMutualExclusion(t *testing.T) {
	m := NewContextShardedMutex()

	const n = 200
	counter := 0
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(context.Background(), "owner-1")
			if err != nil {
				t.Error(err)
				return
			}
			counter++ // race detector flags this if exclusion is broken
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter)
}

func TestCancelledWaiterGivesUp(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "owner-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.LockContext(ctx, "owner-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDistinctOwnersDoNotBlock(t *testing.T) {
	m := NewContextShardedMutex()

	unlock1, err := m.LockContext(context.Background(), "owner-1")
	require.NoError(t, err)
	defer unlock1()

	// A different key (different shard with overwhelming probability for
	// these two literals) must not wait on owner-1's lock.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := m.LockContext(ctx, "owner-2")
	require.NoError(t, err)
	unlock2()
}
