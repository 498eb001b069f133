package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are integer minor units of the order currency.

type Order struct {
	ID          string
	BuyerID     string
	PaymentRef  string
	Currency    string
	Status      Status
	TotalAmount int64
	OrderedAt   time.Time
	UpdatedAt   time.Time
	SubOrders   []*SubOrder
}

func (o *Order) SubOrderIDs() []string {
	ids := make([]string, 0, len(o.SubOrders))
	for _, s := range o.SubOrders {
		ids = append(ids, s.ID)
	}
	return ids
}

// Recompute refreshes TotalAmount and Status from the sub-orders.
func (o *Order) Recompute() {
	var total int64
	st := make([]Status, 0, len(o.SubOrders))
	for _, s := range o.SubOrders {
		total += s.TotalAmount
		st = append(st, s.Status)
	}
	o.TotalAmount = total
	o.Status = DeriveParentStatus(st)
}

type SubOrder struct {
	ID               string
	OrderID          string
	SellerID         string
	Seq              int
	Status           Status
	Lines            []LineItem
	TotalAmount      int64
	CommissionAmount int64
	NetPayable       int64
	SellerTier       string
	RuleVersion      int
	// Version is bumped on every update; stores reject stale writes.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recompute refreshes the money fields from the non-refunded part of each line.
func (s *SubOrder) Recompute() {
	var total, commission int64
	for i := range s.Lines {
		total += s.Lines[i].RemainingTotal()
		commission += s.Lines[i].RemainingCommission()
	}
	s.TotalAmount = total
	s.CommissionAmount = commission
	s.NetPayable = total - commission
	if s.NetPayable < 0 {
		s.NetPayable = 0
	}
}

func (s *SubOrder) FullyRefunded() bool {
	for i := range s.Lines {
		if s.Lines[i].RemainingQty() > 0 {
			return false
		}
	}
	return true
}

// LineItem snapshots price, category and commission at checkout. Only RefundedQty changes later.
type LineItem struct {
	LineNo         int
	VariantID      string
	CategoryID     string
	Quantity       int
	UnitPrice      int64
	CommissionRate decimal.Decimal
	Commission     int64
	RefundedQty    int
}

func (l LineItem) Total() int64 { return l.UnitPrice * int64(l.Quantity) }

func (l LineItem) RemainingQty() int { return l.Quantity - l.RefundedQty }

func (l LineItem) RemainingTotal() int64 { return l.UnitPrice * int64(l.RemainingQty()) }

// RemainingCommission prorates the line commission onto the units not yet refunded.
// Banker's rounding keeps the sum of partial reversals equal to a one-shot reversal.
func (l LineItem) RemainingCommission() int64 {
	return CommissionForQty(l.Commission, l.Quantity, l.RemainingQty())
}

// CommissionForQty returns the share of a line commission attributable to qty of total units.
func CommissionForQty(commission int64, total, qty int) int64 {
	switch {
	case qty <= 0 || total <= 0:
		return 0
	case qty >= total:
		return commission
	}
	return decimal.NewFromInt(commission).
		Mul(decimal.NewFromInt(int64(qty))).
		Div(decimal.NewFromInt(int64(total))).
		RoundBank(0).
		IntPart()
}

// CheckoutLine is one (variant, quantity) pair of a checkout payload.
type CheckoutLine struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

// RefundLine asks to refund Qty units of VariantID within a sub-order.
type RefundLine struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}
