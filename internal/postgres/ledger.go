package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
)

type ledgerRepo struct{ q querier }

var _ ledger.Store = (*ledgerRepo)(nil)

func (r *ledgerRepo) Append(ctx context.Context, e ledger.Entry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO ledger_entries(id, seller_id, order_id, sub_order_id, kind, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.SellerID, e.OrderID, e.SubOrderID, e.Kind, e.Amount, e.Reference, e.CreatedAt)
	return err
}

const entryColumns = `id, seller_id, order_id, sub_order_id, kind, amount, reference, created_at`

func (r *ledgerRepo) list(ctx context.Context, sql string, args ...any) ([]ledger.Entry, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e    ledger.Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.SellerID, &e.OrderID, &e.SubOrderID, &kind, &e.Amount, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = ledger.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ledgerRepo) BySubOrder(ctx context.Context, subOrderID string) ([]ledger.Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE sub_order_id=$1 ORDER BY created_at, id`, subOrderID)
}

func (r *ledgerRepo) BySeller(ctx context.Context, sellerID string, from, to time.Time) ([]ledger.Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE seller_id=$1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at, id`, sellerID, bound(from), bound(to))
}

// bound maps an open (zero) time bound to NULL.
func bound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
