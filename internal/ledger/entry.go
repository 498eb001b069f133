package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/google/uuid"
)

type Kind string

const (
	KindCredit   Kind = "credit"
	KindDebit    Kind = "debit"
	KindReversal Kind = "reversal"
)

// Entry is immutable once appended. Amount is never negative; Kind gives the sign.
// A zero amount still records the transition, e.g. a sub-order whose net payable
// rounds to nothing.
type Entry struct {
	ID         string `json:"id"`
	SellerID   string `json:"seller_id"`
	OrderID    string `json:"order_id"`
	SubOrderID string `json:"sub_order_id"`
	Kind       Kind   `json:"kind"`
	Amount     int64  `json:"amount"`
	// Reference is the payment or refund reference that caused the entry.
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

func (e Entry) Signed() int64 {
	if e.Kind == KindCredit {
		return e.Amount
	}
	return -e.Amount
}

func NewEntry(kind Kind, sub *orders.SubOrder, amount int64, ref string, at time.Time) Entry {
	return Entry{
		ID:         uuid.NewString(),
		SellerID:   sub.SellerID,
		OrderID:    sub.OrderID,
		SubOrderID: sub.ID,
		Kind:       kind,
		Amount:     amount,
		Reference:  ref,
		CreatedAt:  at,
	}
}

// Store is append-only: there is no update or delete.
type Store interface {
	Append(ctx context.Context, e Entry) error
	BySubOrder(ctx context.Context, subOrderID string) ([]Entry, error)
	// BySeller lists entries with from <= created_at < to; zero bounds are open.
	BySeller(ctx context.Context, sellerID string, from, to time.Time) ([]Entry, error)
}

func Balance(entries []Entry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Signed()
	}
	return sum
}

// Totals splits a sub-order's entries into credited and reversed (debit + reversal) sums.
func Totals(entries []Entry) (credited, reversed int64) {
	for _, e := range entries {
		if e.Kind == KindCredit {
			credited += e.Amount
		} else {
			reversed += e.Amount
		}
	}
	return credited, reversed
}

// CheckCredit fails when a sub-order about to be credited already has entries.
func CheckCredit(subOrderID string, existing []Entry) error {
	if len(existing) > 0 {
		return fmt.Errorf("%w: sub_order=%s already has %d ledger entries before payment",
			orders.ErrIntegrity, subOrderID, len(existing))
	}
	return nil
}

// CheckReversal fails when reversing amount would take a sub-order below zero.
func CheckReversal(subOrderID string, existing []Entry, amount int64) error {
	if !hasCredit(existing) {
		return fmt.Errorf("%w: sub_order=%s reversal without credit", orders.ErrIntegrity, subOrderID)
	}
	credited, reversed := Totals(existing)
	if amount < 0 || reversed+amount > credited {
		return fmt.Errorf("%w: sub_order=%s reversal %d exceeds outstanding %d",
			orders.ErrIntegrity, subOrderID, amount, credited-reversed)
	}
	return nil
}

func hasCredit(entries []Entry) bool {
	for _, e := range entries {
		if e.Kind == KindCredit {
			return true
		}
	}
	return false
}
