package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CancelResult struct {
	Order *orders.Order
	// Cancelled lists the sub-orders this call moved to cancelled.
	Cancelled []*orders.SubOrder
	// Debited is the total taken back from sellers for paid sub-orders.
	Debited int64
}

// CancelSubOrder cancels one sub-order. A pending sub-order releases its holds;
// a paid one returns its stock and debits what the seller still holds for it.
func (s *Service) CancelSubOrder(ctx context.Context, subOrderID, reason string) (res *CancelResult, err error) {
	ctx, span := s.start(ctx, "CancelSubOrder", attribute.String("sub_order.id", subOrderID))
	defer func() { finish(span, err) }()

	unlock, err := s.lockSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &CancelResult{}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := tx.SubOrder(ctx, subOrderID)
		if err != nil {
			return err
		}
		now := s.now()
		debit, err := s.cancelSub(ctx, tx, sub, now)
		if err != nil {
			return err
		}
		o, err := syncParent(ctx, tx, sub.OrderID, now)
		if err != nil {
			return err
		}
		res.Order, res.Cancelled, res.Debited = o, []*orders.SubOrder{sub}, debit
		return nil
	})
	if err != nil {
		s.logFailure("cancel_sub_order", err, zap.String("sub_order_id", subOrderID))
		return nil, err
	}
	s.announceCancel(ctx, res, reason)
	return res, nil
}

// CancelOrder cancels every sub-order that is still pending or paid. It fails
// without changes if any sub-order has moved past the point of cancellation.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (res *CancelResult, err error) {
	ctx, span := s.start(ctx, "CancelOrder", attribute.String("order.id", orderID))
	defer func() { finish(span, err) }()

	current, err := s.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockOrder(ctx, current.ID, current.SubOrderIDs())
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &CancelResult{}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		var todo []string
		for _, sub := range o.SubOrders {
			if sub.Status == orders.StatusCancelled {
				continue
			}
			if !orders.CanTransition(sub.Status, orders.StatusCancelled) {
				return &orders.TransitionError{SubOrderID: sub.ID, From: sub.Status, To: orders.StatusCancelled}
			}
			todo = append(todo, sub.ID)
		}
		if len(todo) == 0 {
			return fmt.Errorf("%w: order %s is already cancelled", orders.ErrInvalidTransition, o.ID)
		}

		now := s.now()
		for _, id := range todo {
			sub, err := tx.SubOrder(ctx, id)
			if err != nil {
				return err
			}
			debit, err := s.cancelSub(ctx, tx, sub, now)
			if err != nil {
				return err
			}
			res.Cancelled = append(res.Cancelled, sub)
			res.Debited += debit
		}
		res.Order, err = syncParent(ctx, tx, o.ID, now)
		return err
	})
	if err != nil {
		s.logFailure("cancel_order", err, zap.String("order_id", orderID))
		return nil, err
	}
	s.announceCancel(ctx, res, reason)
	return res, nil
}

func (s *Service) cancelSub(ctx context.Context, tx Tx, sub *orders.SubOrder, now time.Time) (int64, error) {
	if err := orders.Transition(sub.ID, sub.Status, orders.StatusCancelled); err != nil {
		return 0, err
	}

	var debit int64
	switch sub.Status {
	case orders.StatusPendingPayment:
		if err := tx.Inventory().Release(ctx, sub.ID); err != nil {
			return 0, err
		}
	default:
		existing, err := tx.Ledger().BySubOrder(ctx, sub.ID)
		if err != nil {
			return 0, err
		}
		credited, reversed := ledger.Totals(existing)
		debit = credited - reversed
		if err := ledger.CheckReversal(sub.ID, existing, debit); err != nil {
			return 0, err
		}
		for _, l := range sub.Lines {
			if q := l.RemainingQty(); q > 0 {
				if err := tx.Inventory().Restock(ctx, l.VariantID, q); err != nil {
					return 0, err
				}
			}
		}
		if err := tx.Ledger().Append(ctx, ledger.NewEntry(ledger.KindDebit, sub, debit, "cancel:"+sub.ID, now)); err != nil {
			return 0, err
		}
	}

	sub.Status = orders.StatusCancelled
	sub.UpdatedAt = now
	if err := tx.UpdateSubOrder(ctx, sub); err != nil {
		return 0, err
	}
	return debit, nil
}

func (s *Service) announceCancel(ctx context.Context, res *CancelResult, reason string) {
	for _, sub := range res.Cancelled {
		s.logger.Info("sub-order cancelled",
			zap.String("order_id", sub.OrderID),
			zap.String("sub_order_id", sub.ID),
			zap.String("reason", reason))
		s.emit(ctx, orders.TopicOrderCancelled, orders.EventOrderCancelled, sub.OrderID, orders.OrderCancelledPayload{
			OrderID:     sub.OrderID,
			SubOrderID:  sub.ID,
			SellerID:    sub.SellerID,
			Reason:      reason,
			OrderStatus: res.Order.Status,
		})
	}
}
