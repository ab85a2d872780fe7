package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/store/memory"
)

var testScope = domain.Scope{MerchantID: "mrc_1", UserID: "usr_caixa"}

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	return New(repo, cache.NoopSaleReplayCache{}, 0), repo
}

func newServiceWithRepo(repo store.Repository) *Service {
	return New(repo, cache.NoopSaleReplayCache{}, 0)
}

func seedProduct(t *testing.T, svc *Service, price string, stock int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(context.Background(), testScope, domain.ProductCreateRequest{
		Name:         "Feijao 1kg " + price,
		Price:        domain.MustMoney(price),
		MinStock:     1,
		InitialStock: stock,
	})
	require.NoError(t, err)
	return product
}

func seedCustomer(t *testing.T, svc *Service) domain.Customer {
	t.Helper()
	customer, err := svc.CreateCustomer(context.Background(), testScope, domain.CustomerCreateRequest{
		Name:  "Dona Cida",
		Phone: "11 99999-0000",
	})
	require.NoError(t, err)
	return customer
}

func money(s string) *decimal.Decimal {
	d := domain.MustMoney(s)
	return &d
}

func cashSale(key string, productID string, qty int, tendered string) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		IdempotencyKey: key,
		Items:          []domain.SaleItemRequest{{ProductID: productID, Quantity: qty}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: money(tendered),
	}
}

func fiadoSale(key string, productID string, qty int, customerID string) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		IdempotencyKey: key,
		Items:          []domain.SaleItemRequest{{ProductID: productID, Quantity: qty}},
		PaymentMethod:  domain.PaymentStoreCredit,
		CustomerID:     customerID,
	}
}

func requireQuantity(t *testing.T, svc *Service, productID string, want int) {
	t.Helper()
	qty, err := svc.CurrentQuantity(context.Background(), testScope, productID)
	require.NoError(t, err)
	require.Equal(t, want, qty)

	rec, err := svc.Reconcile(context.Background(), testScope, productID)
	require.NoError(t, err)
	require.True(t, rec.Consistent, "stock %d does not match movement sum %d", rec.Quantity, rec.MovementSum)
}

func domainInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
