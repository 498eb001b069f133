package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/inventory"
	"github.com/ariefcatur/go-marketplace-settlement/internal/ledger"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
)

type tx struct {
	s *Store

	rows     map[string]*orderRow
	newOrder map[string]bool
	subs     map[string]*orders.SubOrder
	newSub   map[string]bool
	marks    map[string]struct{}
	read     map[string]int
	entries  []ledger.Entry
	restocks map[string]int

	undo     []func(context.Context)
	deferred []func(context.Context) error
}

func newTx(s *Store) *tx {
	return &tx{
		s:        s,
		rows:     make(map[string]*orderRow),
		newOrder: make(map[string]bool),
		subs:     make(map[string]*orders.SubOrder),
		newSub:   make(map[string]bool),
		marks:    make(map[string]struct{}),
		read:     make(map[string]int),
		restocks: make(map[string]int),
	}
}

func markKey(scope, ref string) string { return scope + ":" + ref }

func (t *tx) commit(ctx context.Context) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range t.marks {
		if _, ok := s.processed[k]; ok {
			return fmt.Errorf("%w: %s processed concurrently", orders.ErrContention, k)
		}
	}
	for id := range t.newOrder {
		if _, ok := s.byPayment[t.rows[id].order.PaymentRef]; ok {
			return fmt.Errorf("%w: payment ref %s taken concurrently", orders.ErrContention, t.rows[id].order.PaymentRef)
		}
	}
	for id, sub := range t.subs {
		if t.newSub[id] {
			continue
		}
		if cur, ok := s.subs[id]; !ok || cur.Version != sub.Version {
			return fmt.Errorf("%w: sub_order=%s changed concurrently", orders.ErrContention, id)
		}
	}
	for id, version := range t.read {
		if _, wrote := t.subs[id]; wrote {
			continue
		}
		if cur, ok := s.subs[id]; !ok || cur.Version != version {
			return fmt.Errorf("%w: sibling sub_order=%s changed concurrently", orders.ErrContention, id)
		}
	}

	for _, op := range t.deferred {
		if err := op(ctx); err != nil {
			return err
		}
	}

	for k := range t.marks {
		s.processed[k] = struct{}{}
	}
	for id, row := range t.rows {
		cp := *row
		cp.subIDs = append([]string(nil), row.subIDs...)
		s.orders[id] = &cp
		if t.newOrder[id] {
			s.byPayment[row.order.PaymentRef] = id
		}
	}
	for id, sub := range t.subs {
		cp := cloneSub(sub)
		if !t.newSub[id] {
			cp.Version++
		}
		s.subs[id] = cp
	}
	s.entries = append(s.entries, t.entries...)
	return nil
}

func (t *tx) rollback(ctx context.Context) {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i](ctx)
	}
	t.undo = nil
}

func (t *tx) Variants(_ context.Context, ids []string) (map[string]settlement.Variant, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make(map[string]settlement.Variant, len(ids))
	for _, id := range ids {
		if v, ok := t.s.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (t *tx) ActiveRuleSet(context.Context) (*commission.RuleSet, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rs, ok := t.s.ruleSets[t.s.active]
	if !ok {
		return nil, fmt.Errorf("%w: no active commission rule set", orders.ErrRuleNotFound)
	}
	cp := *rs
	return &cp, nil
}

func (t *tx) SellerVolume(_ context.Context, sellerID string, since time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var sum int64
	for _, sub := range t.s.subs {
		if sub.SellerID == sellerID && sub.Status.Settled() && !sub.CreatedAt.Before(since) {
			sum += sub.TotalAmount
		}
	}
	return sum, nil
}

func (t *tx) Inventory() inventory.Store { return txInventory{t: t} }

func (t *tx) Ledger() ledger.Store { return txLedger{t: t} }

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	if _, ok := t.rows[o.ID]; ok {
		return fmt.Errorf("%w: order %s already exists", orders.ErrIntegrity, o.ID)
	}
	row := &orderRow{order: *o}
	row.order.SubOrders = nil
	for _, sub := range o.SubOrders {
		sub.Version = 1
		t.subs[sub.ID] = cloneSub(sub)
		t.newSub[sub.ID] = true
		row.subIDs = append(row.subIDs, sub.ID)
	}
	t.rows[o.ID] = row
	t.newOrder[o.ID] = true
	return nil
}

// sub returns the unit's view of a sub-order. Caller holds s.mu.
func (t *tx) sub(id string) (*orders.SubOrder, bool) {
	if sub, ok := t.subs[id]; ok {
		return cloneSub(sub), true
	}
	sub, ok := t.s.subs[id]
	if !ok {
		return nil, false
	}
	return cloneSub(sub), true
}

func (t *tx) Order(_ context.Context, id string) (*orders.Order, error) {
	return t.order(id, false)
}

// OrderForUpdate remembers the sibling versions it saw; commit fails with
// ErrContention when any of them moved in the meantime.
func (t *tx) OrderForUpdate(_ context.Context, id string) (*orders.Order, error) {
	return t.order(id, true)
}

func (t *tx) order(id string, track bool) (*orders.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		row, ok = t.s.orders[id]
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %s", orders.ErrNotFound, id)
	}
	o := row.order
	o.SubOrders = make([]*orders.SubOrder, 0, len(row.subIDs))
	for _, sid := range row.subIDs {
		sub, ok := t.sub(sid)
		if !ok {
			return nil, fmt.Errorf("%w: order %s lost sub_order %s", orders.ErrIntegrity, id, sid)
		}
		if track && !t.newSub[sid] {
			if _, wrote := t.subs[sid]; !wrote {
				t.read[sid] = sub.Version
			}
		}
		o.SubOrders = append(o.SubOrders, sub)
	}
	return &o, nil
}

func (t *tx) OrderByPaymentRef(ctx context.Context, ref string) (*orders.Order, error) {
	t.s.mu.Lock()
	id, ok := t.s.byPayment[ref]
	if !ok {
		for oid := range t.newOrder {
			if t.rows[oid].order.PaymentRef == ref {
				id, ok = oid, true
			}
		}
	}
	t.s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no order for payment ref %s", orders.ErrNotFound, ref)
	}
	return t.Order(ctx, id)
}

func (t *tx) SubOrder(_ context.Context, id string) (*orders.SubOrder, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	sub, ok := t.sub(id)
	if !ok {
		return nil, fmt.Errorf("%w: sub_order %s", orders.ErrNotFound, id)
	}
	return sub, nil
}

func (t *tx) UpdateSubOrder(_ context.Context, sub *orders.SubOrder) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.newSub[sub.ID] {
		cur, ok := t.s.subs[sub.ID]
		if !ok {
			return fmt.Errorf("%w: sub_order %s", orders.ErrNotFound, sub.ID)
		}
		if cur.Version != sub.Version {
			return fmt.Errorf("%w: sub_order=%s is at version %d, update was based on %d",
				orders.ErrContention, sub.ID, cur.Version, sub.Version)
		}
	}
	t.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, o *orders.Order) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.rows[o.ID]
	if !ok {
		row, ok = t.s.orders[o.ID]
	}
	if !ok {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, o.ID)
	}
	next := &orderRow{order: *o, subIDs: row.subIDs}
	next.order.SubOrders = nil
	t.rows[o.ID] = next
	return nil
}

func (t *tx) MarkProcessed(_ context.Context, scope, ref string) error {
	k := markKey(scope, ref)
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.processed[k]; ok {
		return fmt.Errorf("%w: %s %s", orders.ErrAlreadyProcessed, scope, ref)
	}
	if _, ok := t.marks[k]; ok {
		return fmt.Errorf("%w: %s %s", orders.ErrAlreadyProcessed, scope, ref)
	}
	t.marks[k] = struct{}{}
	return nil
}

// txInventory takes holds right away and defers every other stock movement to commit.
type txInventory struct{ t *tx }

func (v txInventory) Reserve(ctx context.Context, variantID string, qty int, token string, expiresAt time.Time) (inventory.Hold, error) {
	h, err := v.t.s.inv.Reserve(ctx, variantID, qty, token, expiresAt)
	if err != nil {
		return inventory.Hold{}, err
	}
	v.t.undo = append(v.t.undo, func(ctx context.Context) { _ = v.t.s.inv.Drop(ctx, h.ID) })
	return h, nil
}

func (v txInventory) Commit(_ context.Context, token string) error {
	v.t.deferred = append(v.t.deferred, func(ctx context.Context) error { return v.t.s.inv.Commit(ctx, token) })
	return nil
}

func (v txInventory) Release(_ context.Context, token string) error {
	v.t.deferred = append(v.t.deferred, func(ctx context.Context) error { return v.t.s.inv.Release(ctx, token) })
	return nil
}

func (v txInventory) Restock(ctx context.Context, variantID string, qty int) error {
	st, err := v.t.s.inv.Stock(ctx, variantID)
	if err != nil {
		return err
	}
	if qty <= 0 || st.Committed-v.t.restocks[variantID] < qty {
		return fmt.Errorf("%w: restock %d of variant %s with %d committed",
			orders.ErrIntegrity, qty, variantID, st.Committed-v.t.restocks[variantID])
	}
	v.t.restocks[variantID] += qty
	v.t.deferred = append(v.t.deferred, func(ctx context.Context) error { return v.t.s.inv.Restock(ctx, variantID, qty) })
	return nil
}

func (v txInventory) Holds(ctx context.Context, token string) ([]inventory.Hold, error) {
	return v.t.s.inv.Holds(ctx, token)
}

func (v txInventory) Stock(ctx context.Context, variantID string) (inventory.Stock, error) {
	return v.t.s.inv.Stock(ctx, variantID)
}

type txLedger struct{ t *tx }

func (l txLedger) Append(_ context.Context, e ledger.Entry) error {
	if e.Amount < 0 {
		return fmt.Errorf("%w: ledger entry amount must not be negative, got %d", orders.ErrIntegrity, e.Amount)
	}
	l.t.entries = append(l.t.entries, e)
	return nil
}

func (l txLedger) BySubOrder(_ context.Context, subOrderID string) ([]ledger.Entry, error) {
	l.t.s.mu.Lock()
	out := l.t.s.lockedEntries(func(e ledger.Entry) bool { return e.SubOrderID == subOrderID })
	l.t.s.mu.Unlock()
	for _, e := range l.t.entries {
		if e.SubOrderID == subOrderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l txLedger) BySeller(_ context.Context, sellerID string, from, to time.Time) ([]ledger.Entry, error) {
	match := func(e ledger.Entry) bool { return e.SellerID == sellerID && inRange(e.CreatedAt, from, to) }
	l.t.s.mu.Lock()
	out := l.t.s.lockedEntries(match)
	l.t.s.mu.Unlock()
	for _, e := range l.t.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}
