package httpx

import (
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/inventory"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
)

type lineView struct {
	LineNo         int    `json:"line_no"`
	VariantID      string `json:"variant_id"`
	CategoryID     string `json:"category_id"`
	Qty            int    `json:"qty"`
	RefundedQty    int    `json:"refunded_qty"`
	UnitPrice      int64  `json:"unit_price"`
	CommissionRate string `json:"commission_rate"`
	Commission     int64  `json:"commission"`
}

type subOrderView struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"order_id"`
	SellerID         string        `json:"seller_id"`
	Status           orders.Status `json:"status"`
	TotalAmount      int64         `json:"total_amount"`
	CommissionAmount int64         `json:"commission_amount"`
	NetPayable       int64         `json:"net_payable"`
	SellerTier       string        `json:"seller_tier,omitempty"`
	RuleVersion      int           `json:"rule_version"`
	Lines            []lineView    `json:"lines"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type orderView struct {
	ID          string         `json:"id"`
	BuyerID     string         `json:"buyer_id"`
	PaymentRef  string         `json:"payment_ref"`
	Currency    string         `json:"currency"`
	Status      orders.Status  `json:"status"`
	TotalAmount int64          `json:"total_amount"`
	OrderedAt   time.Time      `json:"ordered_at"`
	SubOrders   []subOrderView `json:"sub_orders"`
	Replayed    bool           `json:"replayed,omitempty"`
}

type stockView struct {
	VariantID string `json:"variant_id"`
	OnHand    int    `json:"on_hand"`
	Held      int    `json:"held"`
	Committed int    `json:"committed"`
	Available int    `json:"available"`
}

func toSubOrderView(s *orders.SubOrder) subOrderView {
	v := subOrderView{
		ID:               s.ID,
		OrderID:          s.OrderID,
		SellerID:         s.SellerID,
		Status:           s.Status,
		TotalAmount:      s.TotalAmount,
		CommissionAmount: s.CommissionAmount,
		NetPayable:       s.NetPayable,
		SellerTier:       s.SellerTier,
		RuleVersion:      s.RuleVersion,
		Lines:            make([]lineView, 0, len(s.Lines)),
		UpdatedAt:        s.UpdatedAt,
	}
	for _, l := range s.Lines {
		v.Lines = append(v.Lines, lineView{
			LineNo:         l.LineNo,
			VariantID:      l.VariantID,
			CategoryID:     l.CategoryID,
			Qty:            l.Quantity,
			RefundedQty:    l.RefundedQty,
			UnitPrice:      l.UnitPrice,
			CommissionRate: l.CommissionRate.String(),
			Commission:     l.Commission,
		})
	}
	return v
}

func toOrderView(o *orders.Order, replayed bool) orderView {
	v := orderView{
		ID:          o.ID,
		BuyerID:     o.BuyerID,
		PaymentRef:  o.PaymentRef,
		Currency:    o.Currency,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		OrderedAt:   o.OrderedAt,
		SubOrders:   make([]subOrderView, 0, len(o.SubOrders)),
		Replayed:    replayed,
	}
	for _, s := range o.SubOrders {
		v.SubOrders = append(v.SubOrders, toSubOrderView(s))
	}
	return v
}

func toStockView(s inventory.Stock) stockView {
	return stockView{VariantID: s.VariantID, OnHand: s.OnHand, Held: s.Held, Committed: s.Committed, Available: s.Available()}
}
