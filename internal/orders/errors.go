package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidVariant    = errors.New("invalid variant")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrContention is retryable: a lock could not be taken within its timeout.
	ErrContention = errors.New("contention, retry later")
	// ErrAlreadyProcessed marks an idempotent replay. Callers treat it as success.
	ErrAlreadyProcessed = errors.New("already processed")
	ErrRuleNotFound     = errors.New("no active commission rule set")
	ErrPaymentPending   = errors.New("order created but payment not confirmed")
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrAmountMismatch   = errors.New("amount mismatch")
	// ErrIntegrity means ledger and order state disagree. Never retried automatically.
	ErrIntegrity = errors.New("ledger integrity violation")
)

// StockError carries the variant and quantities behind an ErrInsufficientStock or ErrInvalidVariant.
type StockError struct {
	Err        error
	VariantID  string
	SellerID   string
	SubOrderID string
	Requested  int
	Available  int
}

func (e *StockError) Error() string {
	if !errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("%v: variant=%s", e.Err, e.VariantID)
	}
	return fmt.Sprintf("%v: variant=%s seller=%s requested=%d available=%d",
		e.Err, e.VariantID, e.SellerID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return e.Err }

type TransitionError struct {
	SubOrderID string
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: sub_order=%s %s -> %s", ErrInvalidTransition, e.SubOrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Retryable reports whether err is worth retrying as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrContention)
}
