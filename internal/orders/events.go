package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderSplit      = "OrderSplit"
	EventOrderPaid       = "OrderPaid"
	EventOrderRefunded   = "OrderRefunded"
	EventOrderCancelled  = "OrderCancelled"
	EventPaymentCaptured = "PaymentCaptured"
	EventRefundIssued    = "RefundIssued"
	EventIntegrityFailed = "IntegrityFailed"
)

type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	EventVersion   int             `json:"event_version"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Producer       string          `json:"producer"`
	TraceID        string          `json:"trace_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"` // usually order_id
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// ---- outbound payloads ----

type SubOrderSummary struct {
	SubOrderID       string `json:"sub_order_id"`
	SellerID         string `json:"seller_id"`
	Status           Status `json:"status"`
	TotalAmount      int64  `json:"total_amount"`
	CommissionAmount int64  `json:"commission_amount"`
	NetPayable       int64  `json:"net_payable"`
}

type OrderSplitPayload struct {
	OrderID     string            `json:"order_id"`
	BuyerID     string            `json:"buyer_id"`
	PaymentRef  string            `json:"payment_ref"`
	Currency    string            `json:"currency"`
	TotalAmount int64             `json:"total_amount"`
	SubOrders   []SubOrderSummary `json:"sub_orders"`
}

type OrderPaidPayload struct {
	OrderID        string            `json:"order_id"`
	PaymentRef     string            `json:"payment_ref"`
	CapturedAmount int64             `json:"captured_amount"`
	SubOrders      []SubOrderSummary `json:"sub_orders"`
}

type OrderRefundedPayload struct {
	OrderID            string       `json:"order_id"`
	SubOrderID         string       `json:"sub_order_id"`
	SellerID           string       `json:"seller_id"`
	RefundRef          string       `json:"refund_ref"`
	Lines              []RefundLine `json:"lines"`
	RefundedAmount     int64        `json:"refunded_amount"`
	ReversedCommission int64        `json:"reversed_commission"`
	SubOrderStatus     Status       `json:"sub_order_status"`
	OrderStatus        Status       `json:"order_status"`
}

type OrderCancelledPayload struct {
	OrderID     string `json:"order_id"`
	SubOrderID  string `json:"sub_order_id"`
	SellerID    string `json:"seller_id"`
	Reason      string `json:"reason,omitempty"`
	OrderStatus Status `json:"order_status"`
}

// ---- inbound payloads (payment gateway) ----

type PaymentCapturedPayload struct {
	OrderID        string `json:"order_id"`
	PaymentRef     string `json:"payment_ref"`
	CapturedAmount int64  `json:"captured_amount"`
}

type RefundIssuedPayload struct {
	SubOrderID string       `json:"sub_order_id"`
	RefundRef  string       `json:"refund_ref"`
	Lines      []RefundLine `json:"lines"`
	Amount     int64        `json:"amount"`
}

type IntegrityFailedPayload struct {
	EventID string `json:"event_id"`
	Topic   string `json:"topic"`
	Reason  string `json:"reason"`
}

// Summaries lists the sub-orders of o in payload form.
func Summaries(o *Order) []SubOrderSummary {
	out := make([]SubOrderSummary, 0, len(o.SubOrders))
	for _, s := range o.SubOrders {
		out = append(out, SubOrderSummary{
			SubOrderID:       s.ID,
			SellerID:         s.SellerID,
			Status:           s.Status,
			TotalAmount:      s.TotalAmount,
			CommissionAmount: s.CommissionAmount,
			NetPayable:       s.NetPayable,
		})
	}
	return out
}
