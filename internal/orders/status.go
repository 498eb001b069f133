package orders

import "fmt"

type Status string

const (
	StatusPendingPayment    Status = "pending_payment"
	StatusPaid              Status = "paid"
	StatusFulfilled         Status = "fulfilled"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusCancelled         Status = "cancelled"

	// StatusMixed only ever appears on a parent order.
	StatusMixed Status = "mixed"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment:    {StatusPaid: true, StatusCancelled: true},
	StatusPaid:              {StatusFulfilled: true, StatusPartiallyRefunded: true, StatusRefunded: true, StatusCancelled: true},
	StatusFulfilled:         {},
	StatusPartiallyRefunded: {StatusPartiallyRefunded: true, StatusRefunded: true},
	StatusRefunded:          {},
	StatusCancelled:         {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Transition checks a sub-order move and returns a *TransitionError when it is illegal.
func Transition(subOrderID string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{SubOrderID: subOrderID, From: from, To: to}
}

// Refundable reports whether a sub-order in s may take a (further) refund.
func (s Status) Refundable() bool {
	return s == StatusPaid || s == StatusPartiallyRefunded
}

// Settled reports whether the sub-order has reached paid or any state after it.
func (s Status) Settled() bool {
	switch s {
	case StatusPaid, StatusFulfilled, StatusPartiallyRefunded, StatusRefunded:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) String() string { return string(s) }

// DeriveParentStatus computes a parent order status from its sub-orders.
//
// All pending -> pending_payment, all cancelled -> cancelled, all refunded ->
// refunded, all at or past paid -> paid, anything else -> mixed. A refunded and
// cancelled mix is mixed.
func DeriveParentStatus(subs []Status) Status {
	if len(subs) == 0 {
		return StatusPendingPayment
	}
	var pending, cancelled, refunded, settled int
	for _, s := range subs {
		switch {
		case s == StatusPendingPayment:
			pending++
		case s == StatusCancelled:
			cancelled++
		case s == StatusRefunded:
			refunded++
			settled++
		case s.Settled():
			settled++
		}
	}
	n := len(subs)
	switch {
	case pending == n:
		return StatusPendingPayment
	case cancelled == n:
		return StatusCancelled
	case refunded == n:
		return StatusRefunded
	case settled == n:
		return StatusPaid
	}
	return StatusMixed
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st == StatusMixed || st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}
