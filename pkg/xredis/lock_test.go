package xredis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDistLock_TryLockAndUnlock(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewDistLock(rdb, "lock:test", time.Second)
	b := NewDistLock(rdb, "lock:test", time.Second)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "锁被 a 持有")

	// b 不能释放 a 的锁
	released, err := b.Unlock(ctx)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = a.Unlock(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistLock_Expires(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewDistLock(rdb, "lock:ttl", time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewDistLock(rdb, "lock:ttl", time.Second)
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "过期后别人能拿到锁")
}

func TestDistLock_LockGivesUp(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	holder := NewDistLock(rdb, "lock:busy", time.Minute)
	require.NoError(t, holder.Lock(ctx, 1, time.Millisecond))

	err := NewDistLock(rdb, "lock:busy", time.Minute).Lock(ctx, 3, time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestDistLock_MutualExclusion(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewDistLock(rdb, "lock:mutex", 5*time.Second)
			if !assert.NoError(t, l.Lock(ctx, 1000, 2*time.Millisecond)) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_, err := l.Unlock(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}
