package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceStore struct{ entries []Entry }

func (s *sliceStore) Append(_ context.Context, e Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *sliceStore) BySubOrder(_ context.Context, id string) ([]Entry, error) {
	var out []Entry
	for _, e := range s.entries {
		if e.SubOrderID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *sliceStore) BySeller(_ context.Context, seller string, from, to time.Time) ([]Entry, error) {
	var out []Entry
	for _, e := range s.entries {
		if e.SellerID != seller {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func TestBalanceAndTotals(t *testing.T) {
	sub := &orders.SubOrder{ID: "s1", OrderID: "o1", SellerID: "seller-a"}
	now := time.Now()
	entries := []Entry{
		NewEntry(KindCredit, sub, 9000, "pay-1", now),
		NewEntry(KindReversal, sub, 4500, "ref-1", now),
		NewEntry(KindDebit, sub, 100, "cancel", now),
	}
	assert.Equal(t, int64(4400), Balance(entries))
	c, r := Totals(entries)
	assert.Equal(t, int64(9000), c)
	assert.Equal(t, int64(4600), r)
	assert.Equal(t, "seller-a", entries[0].SellerID)
	assert.NotEmpty(t, entries[0].ID)
}

func TestCheckCredit(t *testing.T) {
	sub := &orders.SubOrder{ID: "s1", SellerID: "a"}
	assert.NoError(t, CheckCredit("s1", nil))
	err := CheckCredit("s1", []Entry{NewEntry(KindCredit, sub, 1, "p", time.Now())})
	assert.ErrorIs(t, err, orders.ErrIntegrity)
}

func TestCheckReversal(t *testing.T) {
	sub := &orders.SubOrder{ID: "s1", SellerID: "a"}
	credit := []Entry{NewEntry(KindCredit, sub, 1000, "p", time.Now())}

	assert.ErrorIs(t, CheckReversal("s1", nil, 10), orders.ErrIntegrity)
	assert.NoError(t, CheckReversal("s1", credit, 1000))
	assert.ErrorIs(t, CheckReversal("s1", credit, 1001), orders.ErrIntegrity)
	assert.ErrorIs(t, CheckReversal("s1", credit, -1), orders.ErrIntegrity)

	// a zero credit still counts, so its zero reversal is allowed
	zero := []Entry{NewEntry(KindCredit, sub, 0, "p", time.Now())}
	assert.NoError(t, CheckReversal("s1", zero, 0))
	assert.ErrorIs(t, CheckReversal("s1", zero, 1), orders.ErrIntegrity)
	assert.ErrorIs(t, CheckReversal("s1", nil, 0), orders.ErrIntegrity)
}

func TestReader_Statement(t *testing.T) {
	sub := &orders.SubOrder{ID: "s1", SellerID: "seller-a"}
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &sliceStore{}
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, NewEntry(KindCredit, sub, 9000, "p", t0)))
	require.NoError(t, store.Append(ctx, NewEntry(KindReversal, sub, 1000, "r", t0.Add(48*time.Hour))))

	r := &Reader{Store: store}
	st, err := r.Statement(ctx, "seller-a", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, st.Entries, 1)
	assert.Equal(t, int64(9000), st.Net)

	bal, err := r.Balance(ctx, "seller-a")
	require.NoError(t, err)
	assert.Equal(t, int64(8000), bal)

	_, err = r.Statement(ctx, "seller-a", t0, t0)
	assert.ErrorIs(t, err, orders.ErrInvalidRequest)

	st, err = r.Statement(ctx, "nobody", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.NotNil(t, st.Entries)
	assert.Zero(t, st.Net)
}
