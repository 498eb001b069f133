package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys([]string{"c", "a", "b", "a"}))
}

func TestLocalLocker_SiblingsShareTheOrderKey(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, OrderKey("o1"), SubOrderKey("s1"))
	require.NoError(t, err)
	_, err = l.Lock(ctx, OrderKey("o1"), SubOrderKey("s2"))
	require.ErrorIs(t, err, orders.ErrContention)
	unlock()

	unlock, err = l.Lock(ctx, OrderKey("o1"), SubOrderKey("s2"))
	require.NoError(t, err)
	unlock()
}

func TestLocalLocker_TimesOutWithContention(t *testing.T) {
	l := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, SubOrderKey("s1"), SubOrderKey("s2"))
	require.NoError(t, err)

	_, err = l.Lock(ctx, SubOrderKey("s2"))
	require.ErrorIs(t, err, orders.ErrContention)
	assert.True(t, orders.Retryable(err))

	// unrelated keys are not blocked
	other, err := l.Lock(ctx, SubOrderKey("s3"))
	require.NoError(t, err)
	other()

	unlock()
	unlock() // second call is a no-op

	again, err := l.Lock(ctx, SubOrderKey("s2"), SubOrderKey("s1"))
	require.NoError(t, err)
	again()

	l.mu.Lock()
	assert.Empty(t, l.slots)
	l.mu.Unlock()
}

func TestLocalLocker_PartialAcquireIsUndone(t *testing.T) {
	l := NewLocalLocker(30 * time.Millisecond)
	ctx := context.Background()

	hold, err := l.Lock(ctx, "b")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "a", "b")
	require.ErrorIs(t, err, orders.ErrContention)

	// "a" was taken then given back
	a, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	a()
	hold()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker(time.Second)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
