package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentConfirmation is the gateway's capture report for a checkout.
type PaymentConfirmation struct {
	OrderID        string
	PaymentRef     string
	CapturedAmount int64
}

type PaymentResult struct {
	Order    *orders.Order
	Replayed bool
}

// ConfirmPayment moves every pending sub-order of the order to paid, committing
// its holds and crediting its net payable in the same unit of work.
func (s *Service) ConfirmPayment(ctx context.Context, p PaymentConfirmation) (res *PaymentResult, err error) {
	ctx, span := s.start(ctx, "ConfirmPayment",
		attribute.String("order.id", p.OrderID), attribute.String("payment.ref", p.PaymentRef))
	defer func() { finish(span, err) }()

	if p.OrderID == "" || p.PaymentRef == "" {
		return nil, fmt.Errorf("%w: order id and payment ref are required", orders.ErrInvalidRequest)
	}

	current, err := s.Order(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockOrder(ctx, current.ID, current.SubOrderIDs())
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &PaymentResult{}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.MarkProcessed(ctx, ScopePayment, p.PaymentRef); err != nil {
			if !errors.Is(err, orders.ErrAlreadyProcessed) {
				return err
			}
			o, err := tx.Order(ctx, p.OrderID)
			res.Order, res.Replayed = o, true
			return err
		}
		o, err := s.pay(ctx, tx, p)
		res.Order = o
		return err
	})
	if err != nil {
		s.logFailure("confirm_payment", err, zap.String("order_id", p.OrderID), zap.String("payment_ref", p.PaymentRef))
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}

	s.logger.Info("order paid",
		zap.String("order_id", res.Order.ID),
		zap.String("payment_ref", p.PaymentRef),
		zap.String("status", res.Order.Status.String()))
	s.emit(ctx, orders.TopicOrderPaid, orders.EventOrderPaid, res.Order.ID, orders.OrderPaidPayload{
		OrderID:        res.Order.ID,
		PaymentRef:     p.PaymentRef,
		CapturedAmount: p.CapturedAmount,
		SubOrders:      orders.Summaries(res.Order),
	})
	return res, nil
}

func (s *Service) pay(ctx context.Context, tx Tx, p PaymentConfirmation) (*orders.Order, error) {
	o, err := tx.Order(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentRef != p.PaymentRef {
		return nil, fmt.Errorf("%w: payment ref %s does not belong to order %s", orders.ErrInvalidRequest, p.PaymentRef, o.ID)
	}

	var payable int64
	var pending []string
	for _, sub := range o.SubOrders {
		if sub.Status == orders.StatusPendingPayment {
			payable += sub.TotalAmount
			pending = append(pending, sub.ID)
		}
	}
	if len(pending) == 0 {
		return nil, &orders.TransitionError{SubOrderID: o.SubOrders[0].ID, From: o.SubOrders[0].Status, To: orders.StatusPaid}
	}
	if p.CapturedAmount != payable {
		return nil, fmt.Errorf("%w: captured %d, order %s owes %d", orders.ErrAmountMismatch, p.CapturedAmount, o.ID, payable)
	}

	now := s.now()
	for _, id := range pending {
		sub, err := tx.SubOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := orders.Transition(sub.ID, sub.Status, orders.StatusPaid); err != nil {
			return nil, err
		}
		existing, err := tx.Ledger().BySubOrder(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		if err := ledger.CheckCredit(sub.ID, existing); err != nil {
			return nil, err
		}
		if err := tx.Inventory().Commit(ctx, sub.ID); err != nil {
			return nil, err
		}
		sub.Status = orders.StatusPaid
		sub.UpdatedAt = now
		if err := tx.UpdateSubOrder(ctx, sub); err != nil {
			return nil, err
		}
		if err := tx.Ledger().Append(ctx, ledger.NewEntry(ledger.KindCredit, sub, sub.NetPayable, p.PaymentRef, now)); err != nil {
			return nil, err
		}
	}
	return syncParent(ctx, tx, o.ID, now)
}

// Fulfil marks a paid sub-order as shipped. Fulfilled is terminal.
func (s *Service) Fulfil(ctx context.Context, subOrderID string) (sub *orders.SubOrder, err error) {
	ctx, span := s.start(ctx, "Fulfil", attribute.String("sub_order.id", subOrderID))
	defer func() { finish(span, err) }()

	unlock, err := s.lockSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.SubOrder(ctx, subOrderID)
		if err != nil {
			return err
		}
		if cur.Status == orders.StatusPendingPayment {
			return fmt.Errorf("%w: sub_order=%s", orders.ErrPaymentPending, cur.ID)
		}
		if err := orders.Transition(cur.ID, cur.Status, orders.StatusFulfilled); err != nil {
			return err
		}
		now := s.now()
		cur.Status = orders.StatusFulfilled
		cur.UpdatedAt = now
		if err := tx.UpdateSubOrder(ctx, cur); err != nil {
			return err
		}
		if _, err := syncParent(ctx, tx, cur.OrderID, now); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	if err != nil {
		s.logFailure("fulfil", err, zap.String("sub_order_id", subOrderID))
		return nil, err
	}
	return sub, nil
}
