package settlement_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/memstore"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	sellerA = "seller-a"
	sellerB = "seller-b"
)

type published struct {
	topic string
	env   orders.Envelope
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(_ context.Context, topic string, _ []byte, env orders.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{topic: topic, env: env})
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.topic)
	}
	return out
}

type fixture struct {
	store *memstore.Store
	svc   *settlement.Service
	pub   *recorder
}

func baseRules() *commission.RuleSet {
	return &commission.RuleSet{
		Version:     1,
		DefaultRate: decimal.RequireFromString("0.15"),
		CategoryRates: map[string]decimal.Decimal{
			"electronics": decimal.RequireFromString("0.10"),
			"books":       decimal.RequireFromString("0.05"),
		},
	}
}

// newFixture seeds two sellers: A sells electronics at 10000, B sells books at 2000.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	st.AddVariant(settlement.Variant{ID: "v-phone", SellerID: sellerA, CategoryID: "electronics", UnitPrice: 10000}, 10)
	st.AddVariant(settlement.Variant{ID: "v-tablet", SellerID: sellerA, CategoryID: "electronics", UnitPrice: 10000}, 10)
	st.AddVariant(settlement.Variant{ID: "v-book", SellerID: sellerB, CategoryID: "books", UnitPrice: 2000}, 10)
	st.AddVariant(settlement.Variant{ID: "v-print", SellerID: sellerB, CategoryID: "books", UnitPrice: 1010}, 10)
	st.AddVariant(settlement.Variant{ID: "v-rare", SellerID: sellerB, CategoryID: "books", UnitPrice: 5000}, 1)
	require.NoError(t, st.SaveRuleSet(context.Background(), baseRules(), true))

	pub := &recorder{}
	svc := settlement.NewService(st, settlement.NewLocalLocker(settlement.DefaultLockTimeout), pub,
		zaptest.NewLogger(t), settlement.Options{Producer: "settlement-test"})
	return &fixture{store: st, svc: svc, pub: pub}
}

func (f *fixture) checkout(t *testing.T, ref string, lines ...orders.CheckoutLine) *orders.Order {
	t.Helper()
	res, err := f.svc.Checkout(context.Background(), settlement.CheckoutRequest{
		BuyerID: "buyer-1", PaymentRef: ref, Lines: lines,
	})
	require.NoError(t, err)
	require.False(t, res.Replayed)
	return res.Order
}

func (f *fixture) pay(t *testing.T, o *orders.Order) *orders.Order {
	t.Helper()
	res, err := f.svc.ConfirmPayment(context.Background(), settlement.PaymentConfirmation{
		OrderID: o.ID, PaymentRef: o.PaymentRef, CapturedAmount: o.TotalAmount,
	})
	require.NoError(t, err)
	return res.Order
}

func (f *fixture) balance(t *testing.T, seller string) int64 {
	t.Helper()
	b, err := f.svc.Ledger().Balance(context.Background(), seller)
	require.NoError(t, err)
	return b
}

func line(variant string, qty int) orders.CheckoutLine {
	return orders.CheckoutLine{VariantID: variant, Qty: qty}
}

func subFor(t *testing.T, o *orders.Order, seller string) *orders.SubOrder {
	t.Helper()
	for _, s := range o.SubOrders {
		if s.SellerID == seller {
			return s
		}
	}
	t.Fatalf("order %s has no sub-order for %s", o.ID, seller)
	return nil
}

func tierSilver() commission.Tier {
	return commission.Tier{
		Name:        "silver",
		MinVolume:   10000,
		DefaultRate: decimal.NewNullDecimal(decimal.RequireFromString("0.12")),
		CategoryRates: map[string]decimal.Decimal{
			"electronics": decimal.RequireFromString("0.08"),
			"books":       decimal.RequireFromString("0.05"),
		},
	}
}
