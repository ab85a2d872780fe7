package cache

import (
	"context"
	"time"

	"caixa/backend/internal/domain"
)

// SaleReplay is the committed result of a sale keyed by its idempotency key.
type SaleReplay struct {
	Sale        domain.Sale `json:"sale"`
	RequestHash string      `json:"request_hash"`
}

// SaleReplayCache fronts idempotent replays of sale creation. It is never
// the source of truth: a miss falls back to storage.
type SaleReplayCache interface {
	Get(ctx context.Context, key string) (*SaleReplay, bool, error)
	Set(ctx context.Context, key string, value *SaleReplay, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func SaleReplayKey(merchantID string, idempotencyKey string) string {
	return "caixa:sale-replay:" + merchantID + ":" + idempotencyKey
}

type NoopSaleReplayCache struct{}

func (NoopSaleReplayCache) Get(_ context.Context, _ string) (*SaleReplay, bool, error) {
	return nil, false, nil
}

func (NoopSaleReplayCache) Set(_ context.Context, _ string, _ *SaleReplay, _ time.Duration) error {
	return nil
}

func (NoopSaleReplayCache) Delete(_ context.Context, _ string) error {
	return nil
}
