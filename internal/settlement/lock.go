package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
)

const DefaultLockTimeout = 3 * time.Second

// Locker serializes mutations per key. Lock takes every key or none and fails
// with orders.ErrContention once its timeout passes.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func SubOrderKey(id string) string { return "sub_order:" + id }

// OrderKey is taken next to the sub-order keys of every mutation, since each
// one rewrites the parent status from all of its siblings.
func OrderKey(id string) string { return "order:" + id }

func CheckoutKey(paymentRef string) string { return "checkout:" + paymentRef }

// SortedKeys dedups and sorts keys so every caller locks in the same order.
func SortedKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type slot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process Locker for a single replica.
type LocalLocker struct {
	Timeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

func NewLocalLocker(timeout time.Duration) *LocalLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LocalLocker{Timeout: timeout, slots: make(map[string]*slot)}
}

func (l *LocalLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		s.refs--
		if s.refs == 0 {
			delete(l.slots, key)
		}
	}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = SortedKeys(keys)
	timer := time.NewTimer(l.Timeout)
	defer timer.Stop()

	held := make([]string, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.mu.Lock()
			s := l.slots[held[i]]
			l.mu.Unlock()
			<-s.ch
			l.unref(held[i])
		}
	}

	for _, k := range keys {
		s := l.ref(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, k)
		case <-timer.C:
			l.unref(k)
			unlock()
			return nil, fmt.Errorf("%w: lock %s not acquired within %s", orders.ErrContention, k, l.Timeout)
		case <-ctx.Done():
			l.unref(k)
			unlock()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(unlock) }, nil
}
