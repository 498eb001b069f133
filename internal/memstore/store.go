// Package memstore is an in-process settlement.Store for tests and single-node runs.
//
// Units of work are optimistic: reads see committed state plus the unit's own
// writes, and commit fails with orders.ErrContention when a sub-order it read
// was changed underneath it. Stock holds are taken immediately and dropped on
// rollback; commit, release and restock of stock apply only when the unit commits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/inventory"
	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
)

var _ settlement.Store = (*Store)(nil)

type orderRow struct {
	order  orders.Order // SubOrders always nil
	subIDs []string
}

type Store struct {
	inv *inventory.MemoryStore

	mu        sync.Mutex
	variants  map[string]settlement.Variant
	ruleSets  map[int]*commission.RuleSet
	active    int
	orders    map[string]*orderRow
	subs      map[string]*orders.SubOrder
	byPayment map[string]string
	processed map[string]struct{}
	entries   []ledger.Entry
}

func New() *Store {
	return &Store{
		inv:       inventory.NewMemoryStore(),
		variants:  make(map[string]settlement.Variant),
		ruleSets:  make(map[int]*commission.RuleSet),
		orders:    make(map[string]*orderRow),
		subs:      make(map[string]*orders.SubOrder),
		byPayment: make(map[string]string),
		processed: make(map[string]struct{}),
	}
}

// AddVariant registers a catalog variant with its on-hand stock.
func (s *Store) AddVariant(v settlement.Variant, onHand int) {
	s.mu.Lock()
	s.variants[v.ID] = v
	s.mu.Unlock()
	s.inv.SetStock(v.ID, onHand)
}

func (s *Store) UpsertVariant(_ context.Context, v settlement.Variant, onHand int) error {
	s.AddVariant(v, onHand)
	return nil
}

func (s *Store) SaveRuleSet(_ context.Context, rs *commission.RuleSet, activate bool) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ruleSets[rs.Version]; ok {
		return fmt.Errorf("%w: rule set version %d already exists", orders.ErrInvalidRequest, rs.Version)
	}
	cp := *rs
	s.ruleSets[rs.Version] = &cp
	if activate {
		s.active = rs.Version
	}
	return nil
}

func (s *Store) Inventory() inventory.Store { return s.inv }

func (s *Store) Ledger() ledger.Store { return ledgerView{s: s} }

func (s *Store) WithinTx(ctx context.Context, fn settlement.TxFunc) error {
	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		t.rollback(ctx)
		return err
	}
	if err := t.commit(ctx); err != nil {
		t.rollback(ctx)
		return err
	}
	return nil
}

func cloneSub(in *orders.SubOrder) *orders.SubOrder {
	out := *in
	out.Lines = append([]orders.LineItem(nil), in.Lines...)
	return &out
}

func (s *Store) lockedEntries(match func(ledger.Entry) bool) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func sortEntries(es []ledger.Entry) {
	sort.SliceStable(es, func(i, j int) bool { return es[i].CreatedAt.Before(es[j].CreatedAt) })
}

// ledgerView reads committed entries only.
type ledgerView struct{ s *Store }

func (v ledgerView) Append(ctx context.Context, e ledger.Entry) error {
	return v.s.WithinTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		return tx.Ledger().Append(ctx, e)
	})
}

func (v ledgerView) BySubOrder(_ context.Context, subOrderID string) ([]ledger.Entry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.lockedEntries(func(e ledger.Entry) bool { return e.SubOrderID == subOrderID }), nil
}

func (v ledgerView) BySeller(_ context.Context, sellerID string, from, to time.Time) ([]ledger.Entry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := v.s.lockedEntries(func(e ledger.Entry) bool {
		return e.SellerID == sellerID && inRange(e.CreatedAt, from, to)
	})
	sortEntries(out)
	return out, nil
}
