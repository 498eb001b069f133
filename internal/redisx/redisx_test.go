package redisx

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLocker_ExclusiveUntilUnlock(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewLocker(rdb, 100*time.Millisecond)
	l.Retry = 5 * time.Millisecond
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "sub_order:2", "sub_order:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(fmt.Sprintf(KeyLock, "sub_order:1")))
	assert.True(t, mr.Exists(fmt.Sprintf(KeyLock, "sub_order:2")))

	_, err = l.Lock(ctx, "sub_order:1")
	require.ErrorIs(t, err, orders.ErrContention)

	unlock()
	unlock()
	assert.False(t, mr.Exists(fmt.Sprintf(KeyLock, "sub_order:1")))

	again, err := l.Lock(ctx, "sub_order:1")
	require.NoError(t, err)
	again()
}

func TestLocker_UnlockKeepsForeignOwner(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewLocker(rdb, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	// our lease expired and someone else took the key
	key := fmt.Sprintf(KeyLock, "k")
	mr.Del(key)
	require.NoError(t, mr.Set(key, "other-owner"))

	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "other-owner", got)
}

func TestLocker_LeaseExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewLocker(rdb, 50*time.Millisecond)
	ctx := context.Background()

	_, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(TTLLock + time.Second)

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	unlock()
}

func TestLocker_SerializesConcurrentHolders(t *testing.T) {
	_, rdb := newRedis(t)
	l := NewLocker(rdb, 2*time.Second)
	l.Retry = time.Millisecond

	var inside, maxInside int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			unlock, err := l.Lock(context.Background(), "sub_order:x")
			if err != nil {
				return err
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
}

func TestDedup(t *testing.T) {
	mr, rdb := newRedis(t)
	d := NewDedup(rdb, "settlement-worker")
	ctx := context.Background()

	seen, err := d.Seen(ctx, "payment:pay-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "payment:pay-1"))
	seen, err = d.Seen(ctx, "payment:pay-1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists("dedup:settlement-worker:payment:pay-1"))

	mr.FastForward(TTLDedup + time.Minute)
	seen, err = d.Seen(ctx, "payment:pay-1")
	require.NoError(t, err)
	assert.False(t, seen)
}
