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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ settlement.Store = (*Store)(nil)

// querier is what both the pool and a pgx.Tx offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the pgx-backed unit of work. Row locks (FOR UPDATE) serialize
// writers per sub-order and per variant; lock_timeout bounds every wait.
type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = settlement.DefaultLockTimeout
	}
	return &Store{DB: db, LockTimeout: lockTimeout}
}

// mapErr turns lock timeouts, serialization failures and deadlocks into orders.ErrContention.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%w: %s (%s)", orders.ErrContention, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) WithinTx(ctx context.Context, fn settlement.TxFunc) error {
	pgtx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if _, err := pgtx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())); err != nil {
		return err
	}
	if err := fn(ctx, &tx{q: pgtx}); err != nil {
		return mapErr(err)
	}
	return mapErr(pgtx.Commit(ctx))
}

func (s *Store) SaveRuleSet(ctx context.Context, rs *commission.RuleSet, activate bool) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	return s.WithinTx(ctx, func(ctx context.Context, t settlement.Tx) error {
		q := t.(*tx).q
		if activate {
			if _, err := q.Exec(ctx, `UPDATE commission_rule_sets SET active = false WHERE active`); err != nil {
				return err
			}
		}
		_, err := q.Exec(ctx, `
			INSERT INTO commission_rule_sets(version, rules, active)
			VALUES ($1, $2, $3)`, rs.Version, body, activate)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: rule set version %d already exists", orders.ErrInvalidRequest, rs.Version)
		}
		return err
	})
}

// UpsertVariant registers a catalog variant and sets its on-hand stock.
func (s *Store) UpsertVariant(ctx context.Context, v settlement.Variant, onHand int) error {
	return s.WithinTx(ctx, func(ctx context.Context, t settlement.Tx) error {
		q := t.(*tx).q
		if _, err := q.Exec(ctx, `
			INSERT INTO variants(id, seller_id, category_id, unit_price) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id,
				category_id = EXCLUDED.category_id, unit_price = EXCLUDED.unit_price`,
			v.ID, v.SellerID, v.CategoryID, v.UnitPrice); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `
			INSERT INTO stock(variant_id, on_hand) VALUES ($1, $2)
			ON CONFLICT (variant_id) DO UPDATE SET on_hand = EXCLUDED.on_hand`, v.ID, onHand)
		return err
	})
}

// Inventory runs each call in its own unit of work.
func (s *Store) Inventory() inventory.Store { return poolInventory{s: s} }

func (s *Store) Ledger() ledger.Store { return &ledgerRepo{q: s.DB} }

type poolInventory struct{ s *Store }

func (p poolInventory) Reserve(ctx context.Context, variantID string, qty int, token string, expiresAt time.Time) (h inventory.Hold, err error) {
	err = p.s.WithinTx(ctx, func(ctx context.Context, t settlement.Tx) error {
		h, err = t.Inventory().Reserve(ctx, variantID, qty, token, expiresAt)
		return err
	})
	return h, err
}

func (p poolInventory) Commit(ctx context.Context, token string) error {
	return p.s.WithinTx(ctx, func(ctx context.Context, t settlement.Tx) error {
		return t.Inventory().Commit(ctx, token)
	})
}

func (p poolInventory) Release(ctx context.Context, token string) error {
	return p.s.WithinTx(ctx, func(ctx context.Context, t settlement.Tx) error {
		return t.Inventory().Release(ctx, token)
	})
}

func (p poolInventory) Restock(ctx context.Context, variantID string, qty int) error {
	return p.s.WithinTx(ctx, func(ctx context.Context, t settlement.Tx) error {
		return t.Inventory().Restock(ctx, variantID, qty)
	})
}

func (p poolInventory) Holds(ctx context.Context, token string) ([]inventory.Hold, error) {
	return (&inventoryRepo{q: p.s.DB}).Holds(ctx, token)
}

func (p poolInventory) Stock(ctx context.Context, variantID string) (inventory.Stock, error) {
	return (&inventoryRepo{q: p.s.DB}).Stock(ctx, variantID)
}
