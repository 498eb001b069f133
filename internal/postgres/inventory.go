package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/inventory"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// inventoryRepo keeps held/committed counters on the stock row and one
// inventory_holds row per (token, variant) reservation.
type inventoryRepo struct{ q querier }

var _ inventory.Store = (*inventoryRepo)(nil)

func (r *inventoryRepo) Reserve(ctx context.Context, variantID string, qty int, token string, expiresAt time.Time) (inventory.Hold, error) {
	if qty <= 0 {
		return inventory.Hold{}, fmt.Errorf("%w: quantity must be positive", orders.ErrInvalidRequest)
	}
	var st inventory.Stock
	st.VariantID = variantID
	err := r.q.QueryRow(ctx, `SELECT on_hand, held, committed FROM stock WHERE variant_id=$1 FOR UPDATE`, variantID).
		Scan(&st.OnHand, &st.Held, &st.Committed)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Hold{}, &orders.StockError{Err: orders.ErrNotFound, VariantID: variantID, Requested: qty}
	}
	if err != nil {
		return inventory.Hold{}, err
	}
	if avail := st.Available(); avail < qty {
		return inventory.Hold{}, &orders.StockError{
			Err: orders.ErrInsufficientStock, VariantID: variantID, SubOrderID: token,
			Requested: qty, Available: avail,
		}
	}

	if _, err := r.q.Exec(ctx, `UPDATE stock SET held = held + $2 WHERE variant_id=$1`, variantID, qty); err != nil {
		return inventory.Hold{}, err
	}
	h := inventory.Hold{
		ID:        uuid.NewString(),
		VariantID: variantID,
		Token:     token,
		Quantity:  qty,
		Status:    inventory.HoldHeld,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if _, err := r.q.Exec(ctx, `
		INSERT INTO inventory_holds(id, variant_id, token, quantity, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.VariantID, h.Token, h.Quantity, h.Status, h.CreatedAt, h.ExpiresAt); err != nil {
		return inventory.Hold{}, err
	}
	return h, nil
}

type heldRow struct {
	variantID string
	qty       int
}

// heldFor locks the token's open holds, in variant order to match Reserve.
func (r *inventoryRepo) heldFor(ctx context.Context, token string) ([]heldRow, error) {
	rows, err := r.q.Query(ctx, `
		SELECT variant_id, quantity FROM inventory_holds
		WHERE token=$1 AND status='held'
		ORDER BY variant_id FOR UPDATE`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []heldRow
	for rows.Next() {
		var x heldRow
		if err := rows.Scan(&x.variantID, &x.qty); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (r *inventoryRepo) settle(ctx context.Context, token string, to inventory.HoldStatus, move string) error {
	recs, err := r.heldFor(ctx, token)
	if err != nil {
		return err
	}
	for _, x := range recs {
		if _, err := r.q.Exec(ctx, `UPDATE stock SET `+move+` WHERE variant_id=$1`, x.variantID, x.qty); err != nil {
			return err
		}
	}
	_, err = r.q.Exec(ctx, `UPDATE inventory_holds SET status=$2 WHERE token=$1 AND status='held'`, token, to)
	return err
}

func (r *inventoryRepo) Commit(ctx context.Context, token string) error {
	return r.settle(ctx, token, inventory.HoldCommitted, `held = held - $2, committed = committed + $2`)
}

func (r *inventoryRepo) Release(ctx context.Context, token string) error {
	return r.settle(ctx, token, inventory.HoldReleased, `held = held - $2`)
}

func (r *inventoryRepo) Restock(ctx context.Context, variantID string, qty int) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE stock SET committed = committed - $2
		WHERE variant_id=$1 AND $2 > 0 AND committed >= $2`, variantID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: restock %d of variant %s exceeds committed stock", orders.ErrIntegrity, qty, variantID)
	}
	return nil
}

func (r *inventoryRepo) Holds(ctx context.Context, token string) ([]inventory.Hold, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, variant_id, token, quantity, status, created_at, expires_at
		FROM inventory_holds WHERE token=$1 ORDER BY created_at, id`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Hold
	for rows.Next() {
		var (
			h      inventory.Hold
			status string
		)
		if err := rows.Scan(&h.ID, &h.VariantID, &h.Token, &h.Quantity, &status, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, err
		}
		h.Status = inventory.HoldStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *inventoryRepo) Stock(ctx context.Context, variantID string) (inventory.Stock, error) {
	st := inventory.Stock{VariantID: variantID}
	err := r.q.QueryRow(ctx, `SELECT on_hand, held, committed FROM stock WHERE variant_id=$1`, variantID).
		Scan(&st.OnHand, &st.Held, &st.Committed)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Stock{}, &orders.StockError{Err: orders.ErrNotFound, VariantID: variantID}
	}
	return st, err
}
