package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
)

// Reader is the read-only query surface for reporting collaborators.
type Reader struct {
	Store Store
}

type Statement struct {
	SellerID string    `json:"seller_id"`
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
	Entries  []Entry   `json:"entries"`
	Net      int64     `json:"net"`
}

func (r *Reader) Statement(ctx context.Context, sellerID string, from, to time.Time) (Statement, error) {
	if sellerID == "" {
		return Statement{}, fmt.Errorf("%w: seller id is required", orders.ErrInvalidRequest)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return Statement{}, fmt.Errorf("%w: from must be before to", orders.ErrInvalidRequest)
	}
	entries, err := r.Store.BySeller(ctx, sellerID, from, to)
	if err != nil {
		return Statement{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Statement{SellerID: sellerID, From: from, To: to, Entries: entries, Net: Balance(entries)}, nil
}

// Balance is recomputed from every entry the seller has; it is never stored.
func (r *Reader) Balance(ctx context.Context, sellerID string) (int64, error) {
	entries, err := r.Store.BySeller(ctx, sellerID, time.Time{}, time.Time{})
	if err != nil {
		return 0, err
	}
	return Balance(entries), nil
}
