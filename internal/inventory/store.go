package inventory

import (
	"context"
	"time"
)

// Store is the per-variant stock ledger. Operations on one variant are linearizable;
// different variants never share a lock.
type Store interface {
	// Reserve takes qty units out of available stock for token.
	// Fails with orders.ErrInsufficientStock or orders.ErrNotFound (both as *orders.StockError).
	Reserve(ctx context.Context, variantID string, qty int, token string, expiresAt time.Time) (Hold, error)

	// Commit turns every held hold under token into a permanent deduction. Idempotent.
	Commit(ctx context.Context, token string) error

	// Release returns every held hold under token to available stock. Idempotent.
	Release(ctx context.Context, token string) error

	// Restock returns qty previously committed units to available stock (refunds, paid cancellations).
	Restock(ctx context.Context, variantID string, qty int) error

	Holds(ctx context.Context, token string) ([]Hold, error)
	Stock(ctx context.Context, variantID string) (Stock, error)
}
