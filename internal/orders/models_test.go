package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommissionForQty(t *testing.T) {
	assert.Equal(t, int64(100), CommissionForQty(200, 2, 1))
	assert.Equal(t, int64(200), CommissionForQty(200, 2, 2))
	assert.Equal(t, int64(0), CommissionForQty(200, 2, 0))
	// 101 * 1/2 = 50.5 -> 50 (round half to even)
	assert.Equal(t, int64(50), CommissionForQty(101, 2, 1))
	// 103 * 1/2 = 51.5 -> 52
	assert.Equal(t, int64(52), CommissionForQty(103, 2, 1))
}

func TestSubOrderRecompute_PartialRefund(t *testing.T) {
	s := &SubOrder{Lines: []LineItem{
		{LineNo: 1, VariantID: "v1", Quantity: 2, UnitPrice: 1000, Commission: 200},
		{LineNo: 2, VariantID: "v2", Quantity: 1, UnitPrice: 500, Commission: 25},
	}}
	s.Recompute()
	assert.Equal(t, int64(2500), s.TotalAmount)
	assert.Equal(t, int64(225), s.CommissionAmount)
	assert.Equal(t, int64(2275), s.NetPayable)

	s.Lines[0].RefundedQty = 1
	s.Recompute()
	assert.Equal(t, int64(1500), s.TotalAmount)
	assert.Equal(t, int64(125), s.CommissionAmount)
	assert.Equal(t, int64(1375), s.NetPayable)
	assert.False(t, s.FullyRefunded())

	s.Lines[0].RefundedQty = 2
	s.Lines[1].RefundedQty = 1
	s.Recompute()
	assert.Zero(t, s.TotalAmount)
	assert.Zero(t, s.NetPayable)
	assert.True(t, s.FullyRefunded())
}

func TestOrderRecompute(t *testing.T) {
	o := &Order{SubOrders: []*SubOrder{
		{ID: "a", Status: StatusPaid, TotalAmount: 18000},
		{ID: "b", Status: StatusPendingPayment, TotalAmount: 2000},
	}}
	o.Recompute()
	assert.Equal(t, int64(20000), o.TotalAmount)
	assert.Equal(t, StatusMixed, o.Status)
	assert.Equal(t, []string{"a", "b"}, o.SubOrderIDs())
}
