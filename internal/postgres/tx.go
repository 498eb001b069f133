package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/inventory"
	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type tx struct{ q querier }

func (t *tx) Inventory() inventory.Store { return &inventoryRepo{q: t.q} }

func (t *tx) Ledger() ledger.Store { return &ledgerRepo{q: t.q} }

func (t *tx) Variants(ctx context.Context, ids []string) (map[string]settlement.Variant, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, seller_id, category_id, unit_price FROM variants WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]settlement.Variant, len(ids))
	for rows.Next() {
		var v settlement.Variant
		if err := rows.Scan(&v.ID, &v.SellerID, &v.CategoryID, &v.UnitPrice); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (t *tx) ActiveRuleSet(ctx context.Context) (*commission.RuleSet, error) {
	var body []byte
	err := t.q.QueryRow(ctx, `SELECT rules FROM commission_rule_sets WHERE active`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active commission rule set", orders.ErrRuleNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rs commission.RuleSet
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	return &rs, nil
}

func (t *tx) SellerVolume(ctx context.Context, sellerID string, since time.Time) (int64, error) {
	var sum int64
	err := t.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)::bigint FROM sub_orders
		WHERE seller_id = $1 AND created_at >= $2
		  AND status IN ('paid', 'fulfilled', 'partially_refunded', 'refunded')`,
		sellerID, since).Scan(&sum)
	return sum, err
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(id, buyer_id, payment_ref, currency, status, total_amount, ordered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.BuyerID, o.PaymentRef, o.Currency, o.Status, o.TotalAmount, o.OrderedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: payment ref %s already has an order", orders.ErrContention, o.PaymentRef)
	}
	if err != nil {
		return err
	}

	for _, s := range o.SubOrders {
		s.Version = 1
		if _, err := t.q.Exec(ctx, `
			INSERT INTO sub_orders(id, order_id, seller_id, seq, status, total_amount, commission_amount,
				net_payable, seller_tier, rule_version, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			s.ID, s.OrderID, s.SellerID, s.Seq, s.Status, s.TotalAmount, s.CommissionAmount,
			s.NetPayable, s.SellerTier, s.RuleVersion, s.Version, s.CreatedAt, s.UpdatedAt); err != nil {
			return err
		}
		for _, l := range s.Lines {
			if _, err := t.q.Exec(ctx, `
				INSERT INTO line_items(sub_order_id, line_no, variant_id, category_id, quantity,
					unit_price, commission_rate, commission, refunded_qty)
				VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`,
				s.ID, l.LineNo, l.VariantID, l.CategoryID, l.Quantity,
				l.UnitPrice, l.CommissionRate.String(), l.Commission, l.RefundedQty); err != nil {
				return err
			}
		}
	}
	return nil
}

const subOrderColumns = `id, order_id, seller_id, seq, status, total_amount, commission_amount,
	net_payable, seller_tier, rule_version, version, created_at, updated_at`

func scanSubOrder(row pgx.Row) (*orders.SubOrder, error) {
	var s orders.SubOrder
	var status string
	err := row.Scan(&s.ID, &s.OrderID, &s.SellerID, &s.Seq, &status, &s.TotalAmount, &s.CommissionAmount,
		&s.NetPayable, &s.SellerTier, &s.RuleVersion, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = orders.Status(status)
	return &s, nil
}

// lines loads line items for the given sub-orders, in line order.
func (t *tx) lines(ctx context.Context, subIDs []string) (map[string][]orders.LineItem, error) {
	rows, err := t.q.Query(ctx, `
		SELECT sub_order_id, line_no, variant_id, category_id, quantity, unit_price,
			commission_rate::text, commission, refunded_qty
		FROM line_items WHERE sub_order_id = ANY($1)
		ORDER BY sub_order_id, line_no`, subIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]orders.LineItem{}
	for rows.Next() {
		var (
			subID, rate string
			l           orders.LineItem
		)
		if err := rows.Scan(&subID, &l.LineNo, &l.VariantID, &l.CategoryID, &l.Quantity, &l.UnitPrice,
			&rate, &l.Commission, &l.RefundedQty); err != nil {
			return nil, err
		}
		if l.CommissionRate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		out[subID] = append(out[subID], l)
	}
	return out, rows.Err()
}

func (t *tx) Order(ctx context.Context, id string) (*orders.Order, error) {
	return t.order(ctx, id, "")
}

// OrderForUpdate locks the parent row first. Under read committed the sibling
// query that follows runs after the lock is granted and sees their latest commit.
func (t *tx) OrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return t.order(ctx, id, " FOR UPDATE")
}

func (t *tx) order(ctx context.Context, id, lock string) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, buyer_id, payment_ref, currency, status, total_amount, ordered_at, updated_at
		FROM orders WHERE id = $1`+lock, id).
		Scan(&o.ID, &o.BuyerID, &o.PaymentRef, &o.Currency, &status, &o.TotalAmount, &o.OrderedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", orders.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)

	rows, err := t.q.Query(ctx, `SELECT `+subOrderColumns+` FROM sub_orders WHERE order_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSubOrder(rows)
		if err != nil {
			return nil, err
		}
		o.SubOrders = append(o.SubOrders, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	lines, err := t.lines(ctx, o.SubOrderIDs())
	if err != nil {
		return nil, err
	}
	for _, s := range o.SubOrders {
		s.Lines = lines[s.ID]
	}
	return &o, nil
}

func (t *tx) OrderByPaymentRef(ctx context.Context, ref string) (*orders.Order, error) {
	var id string
	err := t.q.QueryRow(ctx, `SELECT id FROM orders WHERE payment_ref = $1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no order for payment ref %s", orders.ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return t.Order(ctx, id)
}

func (t *tx) SubOrder(ctx context.Context, id string) (*orders.SubOrder, error) {
	s, err := scanSubOrder(t.q.QueryRow(ctx, `SELECT `+subOrderColumns+` FROM sub_orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: sub_order %s", orders.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	lines, err := t.lines(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	s.Lines = lines[id]
	return s, nil
}

func (t *tx) UpdateSubOrder(ctx context.Context, s *orders.SubOrder) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE sub_orders SET status = $3, total_amount = $4, commission_amount = $5, net_payable = $6,
			version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2`,
		s.ID, s.Version, s.Status, s.TotalAmount, s.CommissionAmount, s.NetPayable, s.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: sub_order=%s changed since version %d", orders.ErrContention, s.ID, s.Version)
	}
	for _, l := range s.Lines {
		if _, err := t.q.Exec(ctx, `
			UPDATE line_items SET refunded_qty = $3 WHERE sub_order_id = $1 AND line_no = $2`,
			s.ID, l.LineNo, l.RefundedQty); err != nil {
			return err
		}
	}
	s.Version++
	return nil
}

func (t *tx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE orders SET status = $2, total_amount = $3, updated_at = $4 WHERE id = $1`,
		o.ID, o.Status, o.TotalAmount, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, o.ID)
	}
	return nil
}

func (t *tx) MarkProcessed(ctx context.Context, scope, ref string) error {
	ct, err := t.q.Exec(ctx, `
		INSERT INTO processed_events(scope, ref) VALUES ($1, $2)
		ON CONFLICT (scope, ref) DO NOTHING`, scope, ref)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", orders.ErrAlreadyProcessed, scope, ref)
	}
	return nil
}
