package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/store"
)

const (
	reasonSale         = "venda"
	reasonSaleCancel   = "cancelamento de venda"
	reasonInitialStock = "estoque inicial"
)

// ReserveAndCommit applies one stock change and appends exactly one
// movement. Nothing is written when it fails.
func (s *Service) ReserveAndCommit(ctx context.Context, scope domain.Scope, change domain.StockChange) (*domain.StockMovement, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	change, err := normalizeStockChange(change)
	if err != nil {
		return nil, err
	}

	var movement *domain.StockMovement
	err = s.inTransaction(ctx, "reserve_and_commit", func(ctx context.Context) error {
		applied, err := s.applyStock(ctx, scope, change)
		movement = applied
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, "reserve and commit", err)
	}
	return movement, nil
}

// AdjustStock is the operator-facing stock entry: restocks, losses and
// count corrections on live products.
func (s *Service) AdjustStock(ctx context.Context, scope domain.Scope, productID string, req domain.StockAdjustRequest) (*domain.StockMovement, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	ctx = scopedLogger(ctx, scope)

	product, err := s.repo.GetProduct(ctx, scope.MerchantID, strings.TrimSpace(productID))
	if errors.Is(err, store.ErrNotFound) || (err == nil && product.Deleted) {
		return nil, apperror.NewNotFound("product", productID)
	}
	if err != nil {
		return nil, s.fail(ctx, "adjust stock", err)
	}

	movement, err := s.ReserveAndCommit(ctx, scope, domain.StockChange{
		ProductID: product.ID,
		Kind:      req.Kind,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Notes:     req.Notes,
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock adjusted",
		"product_id", movement.ProductID,
		"kind", movement.Kind,
		"delta", movement.QuantityDelta,
		"quantity", movement.QuantityAfter,
	)
	return movement, nil
}

func (s *Service) CurrentQuantity(ctx context.Context, scope domain.Scope, productID string) (int, error) {
	if err := validateMerchant(scope); err != nil {
		return 0, err
	}
	qty, err := s.repo.GetStockQuantity(ctx, scope.MerchantID, productID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apperror.NewNotFound("product", productID)
	}
	if err != nil {
		return 0, s.fail(ctx, "current quantity", err)
	}
	return qty, nil
}

func (s *Service) Movements(ctx context.Context, scope domain.Scope, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	movements, err := s.repo.ListStockMovements(ctx, scope.MerchantID, filter)
	if err != nil {
		return nil, s.fail(ctx, "list movements", err)
	}
	return movements, nil
}

// Reconcile compares the stock record with the sum of its movement deltas.
func (s *Service) Reconcile(ctx context.Context, scope domain.Scope, productID string) (domain.StockReconciliation, error) {
	qty, err := s.CurrentQuantity(ctx, scope, productID)
	if err != nil {
		return domain.StockReconciliation{}, err
	}
	sum, count, err := s.repo.SumStockMovements(ctx, scope.MerchantID, productID)
	if err != nil {
		return domain.StockReconciliation{}, s.fail(ctx, "reconcile stock", err)
	}
	return domain.StockReconciliation{
		ProductID:     productID,
		Quantity:      qty,
		MovementSum:   sum,
		MovementCount: count,
		Consistent:    qty == sum,
	}, nil
}

// applyStock writes inside the caller's unit of work.
func (s *Service) applyStock(ctx context.Context, scope domain.Scope, change domain.StockChange) (*domain.StockMovement, error) {
	movement, err := s.repo.ApplyStockChange(ctx, scope.MerchantID, scope.UserID, change, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NewNotFound("product", change.ProductID)
	}
	return movement, err
}

func normalizeStockChange(change domain.StockChange) (domain.StockChange, error) {
	change.ProductID = strings.TrimSpace(change.ProductID)
	if change.ProductID == "" {
		return change, apperror.NewValidation("product_id", "product_id is required")
	}
	switch change.Kind {
	case domain.MovementEntrada, domain.MovementSaida:
		if change.Quantity < 1 {
			return change, apperror.NewValidation("quantity", "quantity must be at least 1")
		}
	case domain.MovementAjuste:
		if change.Quantity == 0 {
			return change, apperror.NewValidation("quantity", "ajuste quantity must not be zero")
		}
		if change.Quantity < -maxQuantity {
			return change, apperror.NewValidation("quantity", fmt.Sprintf("quantity must not exceed %d", maxQuantity))
		}
	default:
		return change, apperror.NewValidation("kind", "kind must be one of entrada, saida, ajuste")
	}
	if change.Quantity > maxQuantity {
		return change, apperror.NewValidation("quantity", fmt.Sprintf("quantity must not exceed %d", maxQuantity))
	}
	change.Reason = defaultString(change.Reason, string(change.Kind)+" manual")
	change.Notes = strings.TrimSpace(change.Notes)
	return change, nil
}
