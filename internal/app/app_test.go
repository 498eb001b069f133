package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-marketplace-settlement/internal/config"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func memoryConfig(t *testing.T) config.Config {
	t.Setenv("STORE", config.StoreMemory)
	t.Setenv("CATALOG_FILE", "../catalog/testdata/catalog.yaml")
	t.Setenv("COMMISSION_RULES_FILE", "../commission/testdata/rules.yaml")
	t.Setenv("REDIS_ADDR", "")
	return config.Load()
}

func TestBuild_MemoryStoreIsSeeded(t *testing.T) {
	rt, err := Build(context.Background(), memoryConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer rt.Close()
	assert.Nil(t, rt.Redis)

	res, err := rt.Service.Checkout(context.Background(), settlement.CheckoutRequest{
		BuyerID: "buyer", PaymentRef: "pay-1", Lines: []orders.CheckoutLine{{VariantID: "v-book", Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.Order.TotalAmount)
}

func TestBuild_UsesRedisWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.RedisAddr = mr.Addr()

	rt, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Redis)

	_, err = rt.Service.Checkout(context.Background(), settlement.CheckoutRequest{
		BuyerID: "buyer", PaymentRef: "pay-1", Lines: []orders.CheckoutLine{{VariantID: "v-phone", Qty: 1}},
	})
	require.NoError(t, err)
}

func TestBuild_UnknownStore(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store = "sqlite"
	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
