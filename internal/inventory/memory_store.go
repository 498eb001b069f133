package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/google/uuid"
)

type variantStock struct {
	mu    sync.Mutex
	stock Stock
}

// MemoryStore implements Store in memory. Each variant carries its own mutex so
// reservations on different variants proceed in parallel.
type MemoryStore struct {
	mu       sync.RWMutex // guards the variants map itself
	variants map[string]*variantStock

	holdsMu sync.Mutex
	holds   map[string]*Hold   // hold id -> hold
	byToken map[string][]string // token -> hold ids, creation order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		variants: make(map[string]*variantStock),
		holds:    make(map[string]*Hold),
		byToken:  make(map[string][]string),
	}
}

// SetStock sets on-hand stock for a variant, keeping current holds and commits.
func (s *MemoryStore) SetStock(variantID string, onHand int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantID]
	if !ok {
		s.variants[variantID] = &variantStock{stock: Stock{VariantID: variantID, OnHand: onHand}}
		return
	}
	v.mu.Lock()
	v.stock.OnHand = onHand
	v.mu.Unlock()
}

func (s *MemoryStore) variant(id string) (*variantStock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	return v, ok
}

func (s *MemoryStore) Reserve(_ context.Context, variantID string, qty int, token string, expiresAt time.Time) (Hold, error) {
	if qty <= 0 {
		return Hold{}, fmt.Errorf("%w: quantity must be positive", orders.ErrInvalidRequest)
	}
	v, ok := s.variant(variantID)
	if !ok {
		return Hold{}, &orders.StockError{Err: orders.ErrNotFound, VariantID: variantID, Requested: qty}
	}

	v.mu.Lock()
	if avail := v.stock.Available(); avail < qty {
		v.mu.Unlock()
		return Hold{}, &orders.StockError{
			Err: orders.ErrInsufficientStock, VariantID: variantID, SubOrderID: token,
			Requested: qty, Available: avail,
		}
	}
	v.stock.Held += qty
	v.mu.Unlock()

	h := &Hold{
		ID:        uuid.NewString(),
		VariantID: variantID,
		Token:     token,
		Quantity:  qty,
		Status:    HoldHeld,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	s.holdsMu.Lock()
	s.holds[h.ID] = h
	s.byToken[token] = append(s.byToken[token], h.ID)
	s.holdsMu.Unlock()
	return *h, nil
}

// Drop removes a held hold entirely, as if it never existed.
func (s *MemoryStore) Drop(_ context.Context, holdID string) error {
	s.holdsMu.Lock()
	defer s.holdsMu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return nil
	}
	if h.Status == HoldHeld {
		if v, ok := s.variant(h.VariantID); ok {
			v.mu.Lock()
			v.stock.Held -= h.Quantity
			v.mu.Unlock()
		}
	}
	delete(s.holds, holdID)
	ids := s.byToken[h.Token]
	for i, id := range ids {
		if id == holdID {
			s.byToken[h.Token] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byToken[h.Token]) == 0 {
		delete(s.byToken, h.Token)
	}
	return nil
}

func (s *MemoryStore) Commit(_ context.Context, token string) error {
	s.holdsMu.Lock()
	defer s.holdsMu.Unlock()
	for _, id := range s.byToken[token] {
		h := s.holds[id]
		if h.Status != HoldHeld {
			continue
		}
		v, ok := s.variant(h.VariantID)
		if !ok {
			return &orders.StockError{Err: orders.ErrNotFound, VariantID: h.VariantID}
		}
		v.mu.Lock()
		v.stock.Held -= h.Quantity
		v.stock.Committed += h.Quantity
		v.mu.Unlock()
		h.Status = HoldCommitted
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, token string) error {
	s.holdsMu.Lock()
	defer s.holdsMu.Unlock()
	for _, id := range s.byToken[token] {
		h := s.holds[id]
		if h.Status != HoldHeld {
			continue
		}
		if v, ok := s.variant(h.VariantID); ok {
			v.mu.Lock()
			v.stock.Held -= h.Quantity
			v.mu.Unlock()
		}
		h.Status = HoldReleased
	}
	return nil
}

func (s *MemoryStore) Restock(_ context.Context, variantID string, qty int) error {
	v, ok := s.variant(variantID)
	if !ok {
		return &orders.StockError{Err: orders.ErrNotFound, VariantID: variantID}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if qty <= 0 || v.stock.Committed < qty {
		return fmt.Errorf("%w: restock %d of variant %s with %d committed",
			orders.ErrIntegrity, qty, variantID, v.stock.Committed)
	}
	v.stock.Committed -= qty
	return nil
}

func (s *MemoryStore) Holds(_ context.Context, token string) ([]Hold, error) {
	s.holdsMu.Lock()
	defer s.holdsMu.Unlock()
	out := make([]Hold, 0, len(s.byToken[token]))
	for _, id := range s.byToken[token] {
		out = append(out, *s.holds[id])
	}
	return out, nil
}

func (s *MemoryStore) Stock(_ context.Context, variantID string) (Stock, error) {
	v, ok := s.variant(variantID)
	if !ok {
		return Stock{}, &orders.StockError{Err: orders.ErrNotFound, VariantID: variantID}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stock, nil
}

// Snapshot returns every variant's counters, sorted by variant id.
func (s *MemoryStore) Snapshot() []Stock {
	s.mu.RLock()
	ids := make([]string, 0, len(s.variants))
	for id := range s.variants {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]Stock, 0, len(ids))
	for _, id := range ids {
		st, err := s.Stock(context.Background(), id)
		if err == nil {
			out = append(out, st)
		}
	}
	return out
}
