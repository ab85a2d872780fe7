package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/domain"
)

func TestNoopCacheAlwaysMisses(t *testing.T) {
	var c SaleReplayCache = NoopSaleReplayCache{}
	require.NoError(t, c.Set(context.Background(), "k", &SaleReplay{RequestHash: "h"}, time.Minute))

	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("CAIXA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAIXA_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	c := NewRedisSaleReplayCache(RedisOptions{
		Addr:      addr,
		Password:  os.Getenv("CAIXA_TEST_REDIS_PASSWORD"),
		Namespace: "caixa-test:",
	})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := SaleReplayKey("m-test", "key-"+time.Now().Format("150405.000000"))
	tendered := domain.MustMoney("50.00")
	replay := &SaleReplay{
		Sale: domain.Sale{
			ID:             "vnd_1",
			Total:          domain.MustMoney("30.00"),
			PaymentMethod:  domain.PaymentCash,
			AmountTendered: &tendered,
			Status:         domain.SaleConcluida,
		},
		RequestHash: "abc",
	}
	require.NoError(t, c.Set(ctx, key, replay, 0))

	ttl, err := c.client.TTL(ctx, "caixa-test:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour, "a zero ttl falls back to the default expiry")

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", got.RequestHash)
	assert.True(t, got.Sale.Total.Equal(domain.MustMoney("30.00")))

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheEvictsUndecodablePayload(t *testing.T) {
	addr := os.Getenv("CAIXA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAIXA_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	c := NewRedisSaleReplayCache(RedisOptions{Addr: addr, Password: os.Getenv("CAIXA_TEST_REDIS_PASSWORD"), Namespace: "caixa-test:"})
	t.Cleanup(func() { _ = c.Close() })

	key := SaleReplayKey("m-test", "broken-"+time.Now().Format("150405.000000"))
	require.NoError(t, c.client.Set(ctx, "caixa-test:"+key, "{not json", time.Minute).Err())

	_, ok, err := c.Get(ctx, key)
	assert.Error(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
