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

// RefundRequest refunds Lines of a sub-order. No lines means everything not yet refunded.
type RefundRequest struct {
	SubOrderID string
	RefundRef  string
	Lines      []orders.RefundLine
	// Amount, when non-zero, must equal the refunded line total.
	Amount int64
}

type RefundResult struct {
	SubOrder           *orders.SubOrder
	OrderStatus        orders.Status
	RefundedAmount     int64
	ReversedCommission int64
	// Reversal is the amount taken back from the seller's balance.
	Reversal int64
	Replayed bool
}

type refundPart struct {
	line int
	qty  int
}

// planRefund allocates requested quantities onto the sub-order lines, first line first.
func planRefund(sub *orders.SubOrder, req []orders.RefundLine) ([]refundPart, error) {
	if len(req) == 0 {
		var parts []refundPart
		for i, l := range sub.Lines {
			if q := l.RemainingQty(); q > 0 {
				parts = append(parts, refundPart{line: i, qty: q})
			}
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("%w: sub_order=%s has nothing left to refund", orders.ErrInvalidRequest, sub.ID)
		}
		return parts, nil
	}

	left := make([]int, len(sub.Lines))
	for i, l := range sub.Lines {
		left[i] = l.RemainingQty()
	}
	var parts []refundPart
	for _, r := range req {
		if r.Qty <= 0 {
			return nil, fmt.Errorf("%w: refund quantity for %s must be positive", orders.ErrInvalidRequest, r.VariantID)
		}
		want, matched := r.Qty, false
		for i, l := range sub.Lines {
			if l.VariantID != r.VariantID {
				continue
			}
			matched = true
			take := min(want, left[i])
			if take == 0 {
				continue
			}
			left[i] -= take
			want -= take
			parts = append(parts, refundPart{line: i, qty: take})
			if want == 0 {
				break
			}
		}
		if !matched {
			return nil, &orders.StockError{Err: orders.ErrInvalidVariant, VariantID: r.VariantID, SubOrderID: sub.ID, Requested: r.Qty}
		}
		if want > 0 {
			return nil, fmt.Errorf("%w: refund of %d x %s exceeds %d refundable on sub_order=%s",
				orders.ErrInvalidRequest, r.Qty, r.VariantID, r.Qty-want, sub.ID)
		}
	}
	return parts, nil
}

// Refund reverses inventory, commission and earnings for part or all of a sub-order.
// Replaying the same RefundRef is a no-op that reports Replayed.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (res *RefundResult, err error) {
	ctx, span := s.start(ctx, "Refund",
		attribute.String("sub_order.id", req.SubOrderID), attribute.String("refund.ref", req.RefundRef))
	defer func() { finish(span, err) }()

	if req.SubOrderID == "" || req.RefundRef == "" {
		return nil, fmt.Errorf("%w: sub order id and refund ref are required", orders.ErrInvalidRequest)
	}
	unlock, err := s.lockSubOrder(ctx, req.SubOrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &RefundResult{}
	var parent *orders.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.MarkProcessed(ctx, ScopeRefund, req.RefundRef); err != nil {
			if !errors.Is(err, orders.ErrAlreadyProcessed) {
				return err
			}
			sub, err := tx.SubOrder(ctx, req.SubOrderID)
			if err != nil {
				return err
			}
			o, err := tx.Order(ctx, sub.OrderID)
			if err != nil {
				return err
			}
			res.SubOrder, res.OrderStatus, res.Replayed = sub, o.Status, true
			return nil
		}
		o, err := s.refund(ctx, tx, req, res)
		parent = o
		return err
	})
	if err != nil {
		s.logFailure("refund", err, zap.String("sub_order_id", req.SubOrderID), zap.String("refund_ref", req.RefundRef))
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}

	s.logger.Info("sub-order refunded",
		zap.String("sub_order_id", res.SubOrder.ID),
		zap.String("refund_ref", req.RefundRef),
		zap.Int64("refunded", res.RefundedAmount),
		zap.Int64("reversal", res.Reversal),
		zap.String("status", res.SubOrder.Status.String()))
	s.emit(ctx, orders.TopicOrderRefunded, orders.EventOrderRefunded, parent.ID, orders.OrderRefundedPayload{
		OrderID:            parent.ID,
		SubOrderID:         res.SubOrder.ID,
		SellerID:           res.SubOrder.SellerID,
		RefundRef:          req.RefundRef,
		Lines:              req.Lines,
		RefundedAmount:     res.RefundedAmount,
		ReversedCommission: res.ReversedCommission,
		SubOrderStatus:     res.SubOrder.Status,
		OrderStatus:        parent.Status,
	})
	return res, nil
}

func (s *Service) refund(ctx context.Context, tx Tx, req RefundRequest, res *RefundResult) (*orders.Order, error) {
	sub, err := tx.SubOrder(ctx, req.SubOrderID)
	if err != nil {
		return nil, err
	}
	if sub.Status == orders.StatusPendingPayment {
		return nil, fmt.Errorf("%w: sub_order=%s", orders.ErrPaymentPending, sub.ID)
	}
	if !sub.Status.Refundable() {
		return nil, &orders.TransitionError{SubOrderID: sub.ID, From: sub.Status, To: orders.StatusRefunded}
	}

	parts, err := planRefund(sub, req.Lines)
	if err != nil {
		return nil, err
	}

	var refunded, reversedCommission int64
	for _, p := range parts {
		l := &sub.Lines[p.line]
		before := l.RemainingCommission()
		l.RefundedQty += p.qty
		reversedCommission += before - l.RemainingCommission()
		refunded += l.UnitPrice * int64(p.qty)
	}
	if req.Amount != 0 && req.Amount != refunded {
		return nil, fmt.Errorf("%w: refund %s asks %d, lines total %d", orders.ErrAmountMismatch, req.RefundRef, req.Amount, refunded)
	}
	reversal := refunded - reversedCommission

	to := orders.StatusPartiallyRefunded
	if sub.FullyRefunded() {
		to = orders.StatusRefunded
	}
	if err := orders.Transition(sub.ID, sub.Status, to); err != nil {
		return nil, err
	}

	existing, err := tx.Ledger().BySubOrder(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if err := ledger.CheckReversal(sub.ID, existing, reversal); err != nil {
		return nil, err
	}

	for _, p := range parts {
		if err := tx.Inventory().Restock(ctx, sub.Lines[p.line].VariantID, p.qty); err != nil {
			return nil, err
		}
	}

	now := s.now()
	// written even at zero so every refund has its reversal entry
	if err := tx.Ledger().Append(ctx, ledger.NewEntry(ledger.KindReversal, sub, reversal, req.RefundRef, now)); err != nil {
		return nil, err
	}
	sub.Recompute()
	sub.Status = to
	sub.UpdatedAt = now
	if err := tx.UpdateSubOrder(ctx, sub); err != nil {
		return nil, err
	}
	parent, err := syncParent(ctx, tx, sub.OrderID, now)
	if err != nil {
		return nil, err
	}

	res.SubOrder = sub
	res.OrderStatus = parent.Status
	res.RefundedAmount = refunded
	res.ReversedCommission = reversedCommission
	res.Reversal = reversal
	return parent, nil
}
