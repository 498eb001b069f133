package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func refundLine(variant string, qty int) orders.RefundLine {
	return orders.RefundLine{VariantID: variant, Qty: qty}
}

func TestRefund_PartialLine(t *testing.T) {
	f := newFixture(t)
	o := f.pay(t, f.checkout(t, "pay-1", line("v-book", 2)))
	sub := o.SubOrders[0]
	require.Equal(t, int64(200), sub.CommissionAmount)
	require.Equal(t, int64(3800), f.balance(t, sellerB))

	res, err := f.svc.Refund(context.Background(), settlement.RefundRequest{
		SubOrderID: sub.ID, RefundRef: "rf-1", Lines: []orders.RefundLine{refundLine("v-book", 1)}, Amount: 2000,
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, orders.StatusPartiallyRefunded, res.SubOrder.Status)
	assert.Equal(t, orders.StatusPaid, res.OrderStatus)
	assert.Equal(t, int64(2000), res.RefundedAmount)
	assert.Equal(t, int64(100), res.ReversedCommission)
	assert.Equal(t, int64(1900), res.Reversal)
	assert.Equal(t, int64(2000), res.SubOrder.TotalAmount)
	assert.Equal(t, int64(100), res.SubOrder.CommissionAmount)
	assert.Equal(t, int64(1900), res.SubOrder.NetPayable)

	entries, err := f.store.Ledger().BySubOrder(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindReversal, entries[1].Kind)
	assert.Equal(t, int64(1900), entries[1].Amount)
	assert.Equal(t, int64(1900), f.balance(t, sellerB))

	st, err := f.store.Inventory().Stock(context.Background(), "v-book")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Committed)
	assert.Equal(t, 9, st.Available())

	cur, err := f.svc.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cur.TotalAmount)
}

func TestRefund_PartialThenFullMatchesFullRefund(t *testing.T) {
	f := newFixture(t)

	// 3 x 1010 at 5% = 151.5, banked to 152
	stepwise := f.pay(t, f.checkout(t, "pay-1", line("v-print", 3))).SubOrders[0]
	oneShot := f.pay(t, f.checkout(t, "pay-2", line("v-print", 3))).SubOrders[0]
	require.Equal(t, int64(152), stepwise.CommissionAmount)

	first, err := f.svc.Refund(context.Background(), settlement.RefundRequest{
		SubOrderID: stepwise.ID, RefundRef: "rf-a1", Lines: []orders.RefundLine{refundLine("v-print", 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(51), first.ReversedCommission)

	second, err := f.svc.Refund(context.Background(), settlement.RefundRequest{SubOrderID: stepwise.ID, RefundRef: "rf-a2"})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, second.SubOrder.Status)
	assert.Equal(t, orders.StatusRefunded, second.OrderStatus)
	assert.Equal(t, int64(152), first.ReversedCommission+second.ReversedCommission)

	full, err := f.svc.Refund(context.Background(), settlement.RefundRequest{SubOrderID: oneShot.ID, RefundRef: "rf-b"})
	require.NoError(t, err)
	assert.Equal(t, int64(152), full.ReversedCommission)

	balanceOf := func(subID string) int64 {
		es, err := f.store.Ledger().BySubOrder(context.Background(), subID)
		require.NoError(t, err)
		return ledger.Balance(es)
	}
	assert.Equal(t, balanceOf(oneShot.ID), balanceOf(stepwise.ID))
	assert.Zero(t, balanceOf(stepwise.ID))
	assert.Zero(t, f.balance(t, sellerB))
}

func TestRefund_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sub := f.pay(t, f.checkout(t, "pay-1", line("v-book", 2))).SubOrders[0]
	req := settlement.RefundRequest{SubOrderID: sub.ID, RefundRef: "rf-1", Lines: []orders.RefundLine{refundLine("v-book", 1)}}

	_, err := f.svc.Refund(context.Background(), req)
	require.NoError(t, err)
	once := f.balance(t, sellerB)
	stockOnce, err := f.store.Inventory().Stock(context.Background(), "v-book")
	require.NoError(t, err)

	res, err := f.svc.Refund(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, orders.StatusPartiallyRefunded, res.SubOrder.Status)
	assert.Equal(t, once, f.balance(t, sellerB))

	stockTwice, err := f.store.Inventory().Stock(context.Background(), "v-book")
	require.NoError(t, err)
	assert.Equal(t, stockOnce, stockTwice)
}

func TestRefund_Rejections(t *testing.T) {
	f := newFixture(t)
	pending := f.checkout(t, "pay-1", line("v-book", 1)).SubOrders[0]
	paid := f.pay(t, f.checkout(t, "pay-2", line("v-book", 2))).SubOrders[0]
	ctx := context.Background()

	_, err := f.svc.Refund(ctx, settlement.RefundRequest{SubOrderID: pending.ID, RefundRef: "rf-1"})
	assert.ErrorIs(t, err, orders.ErrPaymentPending)

	_, err = f.svc.Refund(ctx, settlement.RefundRequest{
		SubOrderID: paid.ID, RefundRef: "rf-2", Lines: []orders.RefundLine{refundLine("v-book", 3)},
	})
	assert.ErrorIs(t, err, orders.ErrInvalidRequest)

	_, err = f.svc.Refund(ctx, settlement.RefundRequest{
		SubOrderID: paid.ID, RefundRef: "rf-3", Lines: []orders.RefundLine{refundLine("v-phone", 1)},
	})
	assert.ErrorIs(t, err, orders.ErrInvalidVariant)

	_, err = f.svc.Refund(ctx, settlement.RefundRequest{
		SubOrderID: paid.ID, RefundRef: "rf-4", Lines: []orders.RefundLine{refundLine("v-book", 1)}, Amount: 1999,
	})
	assert.ErrorIs(t, err, orders.ErrAmountMismatch)

	_, err = f.svc.Refund(ctx, settlement.RefundRequest{SubOrderID: "missing", RefundRef: "rf-5"})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	// none of the rejected refunds moved money
	assert.Equal(t, int64(3800), f.balance(t, sellerB))

	_, err = f.svc.Refund(ctx, settlement.RefundRequest{SubOrderID: paid.ID, RefundRef: "rf-6"})
	require.NoError(t, err)
	_, err = f.svc.Refund(ctx, settlement.RefundRequest{SubOrderID: paid.ID, RefundRef: "rf-7"})
	var te *orders.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, orders.StatusRefunded, te.From)
}

func TestRefund_ConcurrentRefundsSerializePerSubOrder(t *testing.T) {
	f := newFixture(t)
	sub := f.pay(t, f.checkout(t, "pay-1", line("v-book", 3))).SubOrders[0]

	var g errgroup.Group
	results := make([]error, 8)
	for i := range results {
		g.Go(func() error {
			_, results[i] = f.svc.Refund(context.Background(), settlement.RefundRequest{
				SubOrderID: sub.ID, RefundRef: fmt.Sprintf("rf-%d", i),
				Lines: []orders.RefundLine{refundLine("v-book", 1)},
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok int
	for _, err := range results {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Zero(t, f.balance(t, sellerB))

	cur, err := f.svc.Order(context.Background(), sub.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, cur.SubOrders[0].Status)
	st, err := f.store.Inventory().Stock(context.Background(), "v-book")
	require.NoError(t, err)
	assert.Zero(t, st.Committed)
	assert.Equal(t, 10, st.Available())
}
