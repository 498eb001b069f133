package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ settlement.Locker = (*Locker)(nil)

// unlock deletes the key only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a settlement.Locker shared by every replica. Keys are taken with
// SET NX PX in sorted order and retried until Timeout.
type Locker struct {
	rdb     *redis.Client
	TTL     time.Duration
	Timeout time.Duration
	Retry   time.Duration
}

func NewLocker(rdb *redis.Client, timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = settlement.DefaultLockTimeout
	}
	return &Locker{rdb: rdb, TTL: TTLLock, Timeout: timeout, Retry: 25 * time.Millisecond}
}

func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = settlement.SortedKeys(keys)
	token := uuid.NewString()
	deadline := time.Now().Add(l.Timeout)

	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// the caller's ctx may already be done
			_ = unlockScript.Run(context.Background(), l.rdb, []string{held[i]}, token).Err()
		}
		held = held[:0]
	}

	for _, k := range keys {
		rk := fmt.Sprintf(KeyLock, k)
		for {
			ok, err := l.rdb.SetNX(ctx, rk, token, l.TTL).Result()
			if err != nil {
				release()
				return nil, fmt.Errorf("redis lock %s: %w", k, err)
			}
			if ok {
				held = append(held, rk)
				break
			}
			if time.Now().After(deadline) {
				release()
				return nil, fmt.Errorf("%w: lock %s not acquired within %s", orders.ErrContention, k, l.Timeout)
			}
			select {
			case <-ctx.Done():
				release()
				return nil, ctx.Err()
			case <-time.After(l.Retry):
			}
		}
	}

	done := false
	return func() {
		if !done {
			done = true
			release()
		}
	}, nil
}
