package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CheckoutRequest struct {
	BuyerID string
	// PaymentRef identifies the payment at the gateway and doubles as the checkout idempotency key.
	PaymentRef string
	Lines      []orders.CheckoutLine
}

type CheckoutResult struct {
	Order    *orders.Order
	Replayed bool
}

func (r CheckoutRequest) validate() error {
	if r.BuyerID == "" || r.PaymentRef == "" {
		return fmt.Errorf("%w: buyer id and payment ref are required", orders.ErrInvalidRequest)
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("%w: checkout has no lines", orders.ErrInvalidRequest)
	}
	for i, l := range r.Lines {
		if l.VariantID == "" {
			return &orders.StockError{Err: orders.ErrInvalidVariant, Requested: l.Qty}
		}
		if l.Qty <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", orders.ErrInvalidRequest, i+1)
		}
	}
	return nil
}

type sellerGroup struct {
	sellerID string
	lines    []orders.CheckoutLine
}

// groupBySeller keeps sellers in order of first appearance and lines in checkout order.
func groupBySeller(lines []orders.CheckoutLine, variants map[string]Variant) []*sellerGroup {
	var groups []*sellerGroup
	idx := map[string]*sellerGroup{}
	for _, l := range lines {
		seller := variants[l.VariantID].SellerID
		g, ok := idx[seller]
		if !ok {
			g = &sellerGroup{sellerID: seller}
			idx[seller] = g
			groups = append(groups, g)
		}
		g.lines = append(g.lines, l)
	}
	return groups
}

// Checkout splits a multi-seller purchase into one parent order and one
// pending_payment sub-order per seller. Either every sub-order is created with
// all of its holds, or nothing is.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (res *CheckoutResult, err error) {
	ctx, span := s.start(ctx, "Checkout",
		attribute.String("buyer.id", req.BuyerID), attribute.String("payment.ref", req.PaymentRef))
	defer func() { finish(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, CheckoutKey(req.PaymentRef))
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &CheckoutResult{}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.MarkProcessed(ctx, ScopeCheckout, req.PaymentRef); err != nil {
			if !errors.Is(err, orders.ErrAlreadyProcessed) {
				return err
			}
			existing, err := tx.OrderByPaymentRef(ctx, req.PaymentRef)
			if err != nil {
				return err
			}
			res.Order, res.Replayed = existing, true
			return nil
		}
		o, err := s.split(ctx, tx, req)
		if err != nil {
			return err
		}
		res.Order = o
		return nil
	})
	if err != nil {
		s.logFailure("checkout", err, zap.String("payment_ref", req.PaymentRef))
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", res.Order.ID))
	if res.Replayed {
		return res, nil
	}

	s.logger.Info("checkout split",
		zap.String("order_id", res.Order.ID),
		zap.Int("sub_orders", len(res.Order.SubOrders)),
		zap.Int64("total", res.Order.TotalAmount))
	s.emit(ctx, orders.TopicOrderSplit, orders.EventOrderSplit, res.Order.ID, orders.OrderSplitPayload{
		OrderID:     res.Order.ID,
		BuyerID:     res.Order.BuyerID,
		PaymentRef:  res.Order.PaymentRef,
		Currency:    res.Order.Currency,
		TotalAmount: res.Order.TotalAmount,
		SubOrders:   orders.Summaries(res.Order),
	})
	return res, nil
}

type holdRequest struct {
	variantID string
	sellerID  string
	token     string
	qty       int
}

func (s *Service) split(ctx context.Context, tx Tx, req CheckoutRequest) (*orders.Order, error) {
	ids := make([]string, 0, len(req.Lines))
	for _, l := range req.Lines {
		ids = append(ids, l.VariantID)
	}
	variants, err := tx.Variants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, l := range req.Lines {
		if _, ok := variants[l.VariantID]; !ok {
			return nil, &orders.StockError{Err: orders.ErrInvalidVariant, VariantID: l.VariantID, Requested: l.Qty}
		}
	}

	rules, err := tx.ActiveRuleSet(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &orders.Order{
		ID:         uuid.NewString(),
		BuyerID:    req.BuyerID,
		PaymentRef: req.PaymentRef,
		Currency:   s.opts.Currency,
		OrderedAt:  now,
		UpdatedAt:  now,
	}

	var holds []holdRequest
	for i, g := range groupBySeller(req.Lines, variants) {
		volume, err := tx.SellerVolume(ctx, g.sellerID, now.Add(-s.opts.TierWindow))
		if err != nil {
			return nil, err
		}
		tier := commission.ResolveTier(rules.Tiers, volume)

		calc := make([]commission.Line, 0, len(g.lines))
		for _, l := range g.lines {
			v := variants[l.VariantID]
			calc = append(calc, commission.Line{CategoryID: v.CategoryID, UnitPrice: v.UnitPrice, Quantity: l.Qty})
		}
		priced, err := commission.Compute(rules, tier, calc)
		if err != nil {
			return nil, err
		}

		sub := &orders.SubOrder{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			SellerID:    g.sellerID,
			Seq:         i + 1,
			Status:      orders.StatusPendingPayment,
			SellerTier:  tier,
			RuleVersion: priced.RuleVersion,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for j, l := range g.lines {
			v := variants[l.VariantID]
			sub.Lines = append(sub.Lines, orders.LineItem{
				LineNo:         j + 1,
				VariantID:      v.ID,
				CategoryID:     v.CategoryID,
				Quantity:       l.Qty,
				UnitPrice:      v.UnitPrice,
				CommissionRate: priced.Lines[j].Rate,
				Commission:     priced.Lines[j].Amount,
			})
			holds = append(holds, holdRequest{variantID: v.ID, sellerID: g.sellerID, token: sub.ID, qty: l.Qty})
		}
		sub.Recompute()
		o.SubOrders = append(o.SubOrders, sub)
	}

	// Lock variants in a global order so concurrent checkouts cannot deadlock.
	// On failure the unit of work rolls back and drops every hold taken here.
	sort.SliceStable(holds, func(i, j int) bool { return holds[i].variantID < holds[j].variantID })
	expires := now.Add(s.opts.HoldTTL)
	for _, h := range holds {
		if _, err := tx.Inventory().Reserve(ctx, h.variantID, h.qty, h.token, expires); err != nil {
			var se *orders.StockError
			if errors.As(err, &se) {
				se.SellerID = h.sellerID
				se.SubOrderID = h.token
			}
			return nil, err
		}
	}

	o.Recompute()
	if err := tx.InsertOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}
