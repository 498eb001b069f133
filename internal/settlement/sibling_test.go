package settlement_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ariefcatur/go-marketplace-settlement/internal/memstore"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

type parentWrites struct {
	settlement.Tx
	wrote bool
}

func (p *parentWrites) UpdateOrder(ctx context.Context, o *orders.Order) error {
	p.wrote = true
	return p.Tx.UpdateOrder(ctx, o)
}

// interleaved runs between the body and the commit of the first unit that
// rewrites a parent, as another process would.
type interleaved struct {
	*memstore.Store
	once    sync.Once
	between func(ctx context.Context)
}

func (s *interleaved) WithinTx(ctx context.Context, fn settlement.TxFunc) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		spy := &parentWrites{Tx: tx}
		if err := fn(ctx, spy); err != nil {
			return err
		}
		if spy.wrote {
			s.once.Do(func() { s.between(ctx) })
		}
		return nil
	})
}

func TestRefund_SiblingRefundedMidUnitIsNotLost(t *testing.T) {
	f := newFixture(t)
	o := f.pay(t, f.checkout(t, "pay-1", line("v-phone", 1), line("v-book", 1)))
	a, b := subFor(t, o, sellerA), subFor(t, o, sellerB)

	// a second node with its own locker, sharing only the store
	other := settlement.NewService(f.store, settlement.NewLocalLocker(settlement.DefaultLockTimeout), nil,
		zaptest.NewLogger(t), settlement.Options{})
	st := &interleaved{Store: f.store, between: func(ctx context.Context) {
		_, err := other.Refund(ctx, settlement.RefundRequest{SubOrderID: b.ID, RefundRef: "rf-b"})
		require.NoError(t, err)
	}}
	svc := settlement.NewService(st, settlement.NewLocalLocker(settlement.DefaultLockTimeout), nil,
		zaptest.NewLogger(t), settlement.Options{})

	req := settlement.RefundRequest{SubOrderID: a.ID, RefundRef: "rf-a"}
	_, err := svc.Refund(context.Background(), req)
	require.ErrorIs(t, err, orders.ErrContention)

	cur, err := f.svc.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, subFor(t, cur, sellerA).Status)
	assert.Equal(t, orders.StatusRefunded, subFor(t, cur, sellerB).Status)

	res, err := svc.Refund(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, orders.StatusRefunded, res.OrderStatus)

	cur, err = f.svc.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, cur.Status)
	assert.Zero(t, f.balance(t, sellerA))
	assert.Zero(t, f.balance(t, sellerB))
}

func TestRefund_ConcurrentSiblingRefundsSettleParent(t *testing.T) {
	f := newFixture(t)
	o := f.pay(t, f.checkout(t, "pay-1", line("v-phone", 1), line("v-tablet", 1), line("v-book", 1)))
	a, b := subFor(t, o, sellerA), subFor(t, o, sellerB)

	var g errgroup.Group
	for i, id := range []string{a.ID, b.ID} {
		g.Go(func() error {
			_, err := f.svc.Refund(context.Background(), settlement.RefundRequest{
				SubOrderID: id, RefundRef: fmt.Sprintf("rf-%d", i),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	cur, err := f.svc.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, cur.Status)
	assert.Zero(t, cur.TotalAmount)
}
