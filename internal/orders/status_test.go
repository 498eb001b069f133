package orders

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusPendingPayment, StatusPaid},
		{StatusPendingPayment, StatusCancelled},
		{StatusPaid, StatusFulfilled},
		{StatusPaid, StatusPartiallyRefunded},
		{StatusPaid, StatusRefunded},
		{StatusPaid, StatusCancelled},
		{StatusPartiallyRefunded, StatusPartiallyRefunded},
		{StatusPartiallyRefunded, StatusRefunded},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]Status{
		{StatusPendingPayment, StatusRefunded},
		{StatusPendingPayment, StatusFulfilled},
		{StatusPaid, StatusPendingPayment},
		{StatusPartiallyRefunded, StatusPaid},
		{StatusRefunded, StatusPartiallyRefunded},
		{StatusCancelled, StatusPaid},
		{StatusFulfilled, StatusCancelled},
		{StatusFulfilled, StatusRefunded},
		{StatusFulfilled, StatusPartiallyRefunded},
		{StatusMixed, StatusPaid},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestTransition_ReturnsTypedError(t *testing.T) {
	err := Transition("sub-1", StatusRefunded, StatusPaid)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "sub-1", te.SubOrderID)
	assert.Equal(t, StatusRefunded, te.From)

	assert.NoError(t, Transition("sub-1", StatusPaid, StatusRefunded))
}

func TestDeriveParentStatus(t *testing.T) {
	cases := []struct {
		name string
		subs []Status
		want Status
	}{
		{"all pending", []Status{StatusPendingPayment, StatusPendingPayment}, StatusPendingPayment},
		{"all paid", []Status{StatusPaid, StatusPaid}, StatusPaid},
		{"paid and fulfilled", []Status{StatusPaid, StatusFulfilled}, StatusPaid},
		{"paid and partial refund", []Status{StatusPaid, StatusPartiallyRefunded}, StatusPaid},
		{"one ahead", []Status{StatusPaid, StatusPendingPayment}, StatusMixed},
		{"all refunded", []Status{StatusRefunded, StatusRefunded}, StatusRefunded},
		{"refunded and cancelled", []Status{StatusRefunded, StatusCancelled}, StatusMixed},
		{"all cancelled", []Status{StatusCancelled}, StatusCancelled},
		{"cancelled and paid", []Status{StatusCancelled, StatusPaid}, StatusMixed},
		{"paid and refunded", []Status{StatusPaid, StatusRefunded}, StatusPaid},
		{"refunded and pending", []Status{StatusRefunded, StatusPendingPayment}, StatusMixed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveParentStatus(tc.subs))
		})
	}
}

func TestRefundable(t *testing.T) {
	assert.True(t, StatusPaid.Refundable())
	assert.True(t, StatusPartiallyRefunded.Refundable())
	assert.False(t, StatusFulfilled.Refundable())
	assert.False(t, StatusRefunded.Refundable())
	assert.False(t, StatusPendingPayment.Refundable())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("partially_refunded")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyRefunded, s)

	s, err = ParseStatus("mixed")
	require.NoError(t, err)
	assert.Equal(t, StatusMixed, s)

	_, err = ParseStatus("PAID")
	assert.Error(t, err)
}
