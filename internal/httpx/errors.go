package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
)

type errorResp struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	SubOrderID string `json:"sub_order_id,omitempty"`
	VariantID  string `json:"variant_id,omitempty"`
	SellerID   string `json:"seller_id,omitempty"`
	Requested  int    `json:"requested,omitempty"`
	Available  *int   `json:"available,omitempty"`
}

var statusByErr = []struct {
	err    error
	status int
	code   string
}{
	{orders.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{orders.ErrInvalidVariant, http.StatusUnprocessableEntity, "invalid_variant"},
	{orders.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{orders.ErrContention, http.StatusServiceUnavailable, "contention"},
	{orders.ErrRuleNotFound, http.StatusInternalServerError, "rule_not_found"},
	{orders.ErrPaymentPending, http.StatusConflict, "payment_pending"},
	{orders.ErrNotFound, http.StatusNotFound, "not_found"},
	{orders.ErrIntegrity, http.StatusInternalServerError, "integrity"},
	{orders.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
	{commission.ErrInvalidRuleSet, http.StatusUnprocessableEntity, "invalid_rule_set"},
	{orders.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := http.StatusInternalServerError, errorResp{Error: err.Error(), Code: "internal"}
	for _, m := range statusByErr {
		if errors.Is(err, m.err) {
			status, body.Code = m.status, m.code
			break
		}
	}
	var se *orders.StockError
	if errors.As(err, &se) {
		body.SubOrderID, body.VariantID, body.SellerID, body.Requested = se.SubOrderID, se.VariantID, se.SellerID, se.Requested
		if errors.Is(se.Err, orders.ErrInsufficientStock) {
			avail := se.Available
			body.Available = &avail
		}
	}
	var te *orders.TransitionError
	if errors.As(err, &te) {
		body.SubOrderID = te.SubOrderID
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}
