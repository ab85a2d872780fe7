package service

import (
	"context"
	"errors"
	"strings"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

func (s *Service) CreateProduct(ctx context.Context, scope domain.Scope, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := validateScope(scope); err != nil {
		return domain.Product{}, err
	}
	ctx = scopedLogger(ctx, scope)

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, apperror.NewValidation("name", "name is required")
	}
	if !domain.IsMoney(req.Price) {
		return domain.Product{}, apperror.NewValidation("price", "price must be a non-negative amount with two decimal places")
	}
	if req.MinStock < 0 {
		return domain.Product{}, apperror.NewValidation("min_stock", "min_stock must not be negative")
	}
	if req.InitialStock < 0 || req.InitialStock > maxQuantity {
		return domain.Product{}, apperror.NewValidation("initial_stock", "initial_stock must be between 0 and 2147483647")
	}

	now := s.now()
	product := domain.Product{
		ID:         xid.New("prd"),
		MerchantID: scope.MerchantID,
		Name:       req.Name,
		Category:   req.Category,
		Price:      domain.Money(req.Price),
		MinStock:   req.MinStock,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.inTransaction(ctx, "create_product", func(ctx context.Context) error {
		if err := s.repo.CreateProduct(ctx, product); err != nil {
			return err
		}
		if req.InitialStock > 0 {
			_, err := s.applyStock(ctx, scope, domain.StockChange{
				ProductID: product.ID,
				Kind:      domain.MovementEntrada,
				Quantity:  req.InitialStock,
				Reason:    reasonInitialStock,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, s.fail(ctx, "create product", err)
	}

	logger.Info(ctx, "product created",
		"product_id", product.ID,
		"price", product.Price.StringFixed(domain.MoneyPlaces),
		"initial_stock", req.InitialStock,
	)
	return product, nil
}

// UpdateProduct changes catalog fields. Price changes apply to the next
// sale; committed line items keep their snapshot.
func (s *Service) UpdateProduct(ctx context.Context, scope domain.Scope, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := validateScope(scope); err != nil {
		return domain.Product{}, err
	}
	ctx = scopedLogger(ctx, scope)

	product, err := s.liveProduct(ctx, scope, productID)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, apperror.NewValidation("name", "name must not be empty")
		}
		product.Name = name
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if !domain.IsMoney(*req.Price) {
			return domain.Product{}, apperror.NewValidation("price", "price must be a non-negative amount with two decimal places")
		}
		product.Price = domain.Money(*req.Price)
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, apperror.NewValidation("min_stock", "min_stock must not be negative")
		}
		product.MinStock = *req.MinStock
	}
	product.UpdatedAt = s.now()

	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return domain.Product{}, s.fail(ctx, "update product", err)
	}
	logger.Info(ctx, "product updated", "product_id", product.ID, "price", product.Price.StringFixed(domain.MoneyPlaces))
	return product, nil
}

// DeleteProduct tombstones the product. Historical sales keep referencing it.
func (s *Service) DeleteProduct(ctx context.Context, scope domain.Scope, productID string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	ctx = scopedLogger(ctx, scope)

	product, err := s.liveProduct(ctx, scope, productID)
	if err != nil {
		return err
	}
	now := s.now()
	product.Deleted = true
	product.DeletedAt = &now
	product.UpdatedAt = now

	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return s.fail(ctx, "delete product", err)
	}
	logger.Info(ctx, "product deleted", "product_id", product.ID)
	return nil
}

func (s *Service) GetProduct(ctx context.Context, scope domain.Scope, productID string) (domain.Product, error) {
	if err := validateMerchant(scope); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, scope.MerchantID, strings.TrimSpace(productID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, apperror.NewNotFound("product", productID)
	}
	if err != nil {
		return domain.Product{}, s.fail(ctx, "get product", err)
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context, scope domain.Scope, includeDeleted bool) ([]domain.ProductListItem, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, scope.MerchantID, includeDeleted)
	if err != nil {
		return nil, s.fail(ctx, "list products", err)
	}
	return products, nil
}

func (s *Service) liveProduct(ctx context.Context, scope domain.Scope, productID string) (domain.Product, error) {
	product, err := s.GetProduct(ctx, scope, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.Deleted {
		return domain.Product{}, apperror.NewNotFound("product", productID)
	}
	return product, nil
}
