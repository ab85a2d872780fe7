// Package service holds the stock ledger, the conta fiada ledger and the
// sale engine that moves both inside one unit of work.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/store"
)

type Service struct {
	repo      store.Repository
	replay    cache.SaleReplayCache
	replayTTL time.Duration
	now       func() time.Time
}

func New(repo store.Repository, replay cache.SaleReplayCache, replayTTL time.Duration) *Service {
	if replay == nil {
		replay = cache.NoopSaleReplayCache{}
	}
	if replayTTL <= 0 {
		replayTTL = 24 * time.Hour
	}

	return &Service{
		repo:      repo,
		replay:    replay,
		replayTTL: replayTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// inTransaction runs fn as one unit of work and retries it once, with fresh
// reads, when it loses a race on a conditional update.
func (s *Service) inTransaction(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.repo.RunInTransaction(ctx, fn)
	if errors.Is(err, apperror.ErrConcurrencyConflict) {
		logger.Warn(ctx, "concurrency conflict, retrying once", "op", op, "error", err)
		err = s.repo.RunInTransaction(ctx, fn)
	}
	return err
}

// fail passes domain errors through and turns anything else into a storage
// failure, logged with its cause.
func (s *Service) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.AsAppError(err); !ok {
		err = apperror.NewStorage(err)
	}
	if errors.Is(err, apperror.ErrStorage) {
		logger.Error(ctx, op+" failed", "error", err)
	}
	return err
}

func validateScope(scope domain.Scope) error {
	if strings.TrimSpace(scope.MerchantID) == "" {
		return apperror.NewValidation("merchant_id", "merchant_id is required")
	}
	if strings.TrimSpace(scope.UserID) == "" {
		return apperror.NewValidation("user_id", "user_id is required")
	}
	return nil
}

func validateMerchant(scope domain.Scope) error {
	if strings.TrimSpace(scope.MerchantID) == "" {
		return apperror.NewValidation("merchant_id", "merchant_id is required")
	}
	return nil
}

func scopedLogger(ctx context.Context, scope domain.Scope) context.Context {
	return logger.With(ctx, "merchant_id", scope.MerchantID, "user_id", scope.UserID)
}

func defaultString(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
