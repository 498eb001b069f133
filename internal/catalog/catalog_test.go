package catalog

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-marketplace-settlement/internal/memstore"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAndSeed(t *testing.T) {
	items, err := LoadFile("testdata/catalog.yaml")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "seller-b", items[1].Variant.SellerID)
	assert.Equal(t, 25, items[1].OnHand)

	st := memstore.New()
	require.NoError(t, Seed(context.Background(), st, items))
	stock, err := st.Inventory().Stock(context.Background(), "v-book")
	require.NoError(t, err)
	assert.Equal(t, 25, stock.Available())
}

func TestParse_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"missing seller": "variants: [{id: a, category_id: c, unit_price: 1}]",
		"zero price":     "variants: [{id: a, seller_id: s, category_id: c, unit_price: 0}]",
		"duplicate":      "variants: [{id: a, seller_id: s, category_id: c, unit_price: 1}, {id: a, seller_id: s, category_id: c, unit_price: 1}]",
		"not yaml":       "variants: [",
	} {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, orders.ErrInvalidRequest, name)
	}
}
