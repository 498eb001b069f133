package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/go-chi/chi/v5"
)

const opTimeout = 5 * time.Second

type SettlementHandler struct {
	Service *settlement.Service
}

type checkoutReq struct {
	BuyerID    string                `json:"buyer_id"`
	PaymentRef string                `json:"payment_ref"`
	Lines      []orders.CheckoutLine `json:"lines"`
}

type paymentReq struct {
	PaymentRef     string `json:"payment_ref"`
	CapturedAmount int64  `json:"captured_amount"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type refundReq struct {
	RefundRef string              `json:"refund_ref"`
	Lines     []orders.RefundLine `json:"lines"`
	Amount    int64               `json:"amount"`
}

type refundResp struct {
	SubOrder           subOrderView  `json:"sub_order"`
	OrderStatus        orders.Status `json:"order_status"`
	RefundedAmount     int64         `json:"refunded_amount"`
	ReversedCommission int64         `json:"reversed_commission"`
	Reversal           int64         `json:"reversal"`
	Replayed           bool          `json:"replayed,omitempty"`
}

type cancelResp struct {
	Order     orderView      `json:"order"`
	Cancelled []subOrderView `json:"cancelled"`
	Debited   int64          `json:"debited"`
}

type ruleSetReq struct {
	commission.RuleSet
	Activate bool `json:"activate"`
}

func (h *SettlementHandler) Register(r chi.Router) {
	r.Post("/checkouts", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/payments", h.confirmPayment)
	r.Post("/orders/{id}/cancel", h.cancelOrder)

	r.Post("/sub-orders/{id}/fulfil", h.fulfil)
	r.Post("/sub-orders/{id}/cancel", h.cancelSubOrder)
	r.Post("/sub-orders/{id}/refunds", h.refund)

	r.Get("/sellers/{id}/ledger", h.statement)
	r.Get("/sellers/{id}/balance", h.balance)
	r.Get("/variants/{id}/stock", h.stock)
	r.Get("/holds/{token}/expired", h.holdExpired)

	r.Get("/commission/rule-set", h.activeRuleSet)
	r.Put("/commission/rule-set", h.saveRuleSet)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json", Code: "invalid_request"})
		return false
	}
	return true
}

func opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), opTimeout)
}

func (h *SettlementHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()

	res, err := h.Service.Checkout(ctx, settlement.CheckoutRequest{BuyerID: req.BuyerID, PaymentRef: req.PaymentRef, Lines: req.Lines})
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, toOrderView(res.Order, res.Replayed))
}

func (h *SettlementHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r)
	defer cancel()
	o, err := h.Service.Order(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o, false))
}

func (h *SettlementHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()

	res, err := h.Service.ConfirmPayment(ctx, settlement.PaymentConfirmation{
		OrderID: chi.URLParam(r, "id"), PaymentRef: req.PaymentRef, CapturedAmount: req.CapturedAmount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(res.Order, res.Replayed))
}

func (h *SettlementHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	res, err := h.Service.CancelOrder(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCancelResp(res))
}

func (h *SettlementHandler) cancelSubOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	res, err := h.Service.CancelSubOrder(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCancelResp(res))
}

func toCancelResp(res *settlement.CancelResult) cancelResp {
	out := cancelResp{Order: toOrderView(res.Order, false), Cancelled: make([]subOrderView, 0, len(res.Cancelled)), Debited: res.Debited}
	for _, s := range res.Cancelled {
		out.Cancelled = append(out.Cancelled, toSubOrderView(s))
	}
	return out
}

func (h *SettlementHandler) fulfil(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r)
	defer cancel()
	sub, err := h.Service.Fulfil(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubOrderView(sub))
}

func (h *SettlementHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()

	res, err := h.Service.Refund(ctx, settlement.RefundRequest{
		SubOrderID: chi.URLParam(r, "id"), RefundRef: req.RefundRef, Lines: req.Lines, Amount: req.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResp{
		SubOrder:           toSubOrderView(res.SubOrder),
		OrderStatus:        res.OrderStatus,
		RefundedAmount:     res.RefundedAmount,
		ReversedCommission: res.ReversedCommission,
		Reversal:           res.Reversal,
		Replayed:           res.Replayed,
	})
}

// statement serves ?from=&to= as RFC3339; both are optional.
func (h *SettlementHandler) statement(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	st, err := h.Service.Ledger().Statement(ctx, chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", orders.ErrInvalidRequest, s)
	}
	return t, nil
}

func (h *SettlementHandler) balance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r)
	defer cancel()
	seller := chi.URLParam(r, "id")
	b, err := h.Service.Ledger().Balance(ctx, seller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seller_id": seller, "balance": b})
}

func (h *SettlementHandler) stock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r)
	defer cancel()
	st, err := h.Service.Reservations().Stock(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockView(st))
}

func (h *SettlementHandler) holdExpired(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r)
	defer cancel()
	token := chi.URLParam(r, "token")
	expired, err := h.Service.Reservations().IsExpired(ctx, token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expired": expired})
}

func (h *SettlementHandler) activeRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r)
	defer cancel()
	rs, err := h.Service.ActiveRuleSet(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *SettlementHandler) saveRuleSet(w http.ResponseWriter, r *http.Request) {
	var req ruleSetReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	if err := h.Service.SaveRuleSet(ctx, &req.RuleSet, req.Activate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": req.Version, "active": req.Activate})
}
