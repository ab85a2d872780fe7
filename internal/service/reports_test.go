package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
)

func TestDailyReportSeparatesSettlementBuckets(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	fixed := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	product := seedProduct(t, svc, "10.00", 20)
	customer := seedCustomer(t, svc)

	_, err := svc.CreateSale(ctx, testScope, cashSale("r1", product.ID, 2, "20.00"))
	require.NoError(t, err)
	fiado, err := svc.CreateSale(ctx, testScope, fiadoSale("r2", product.ID, 1, customer.ID))
	require.NoError(t, err)
	toCancel, err := svc.CreateSale(ctx, testScope, cashSale("r3", product.ID, 3, "30.00"))
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, testScope, toCancel.Sale.ID, "")
	require.NoError(t, err)

	report, err := svc.DailyReport(ctx, testScope, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sales)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 3, report.ItemsSold)
	assert.Equal(t, "30.00", report.Net.StringFixed(2))

	statuses := map[domain.SaleStatus]int{}
	for _, line := range report.ByStatus {
		statuses[line.Status] = line.Sales
	}
	assert.Equal(t, map[domain.SaleStatus]int{
		domain.SaleConcluida:  1,
		domain.SaleContaFiada: 1,
		domain.SaleCancelada:  1,
	}, statuses)

	open, err := svc.OpenAccounts(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, open.Accounts, 1)
	assert.Equal(t, fiado.Sale.Total.StringFixed(2), open.TotalReceivable.StringFixed(2))

	top, err := svc.TopProducts(ctx, testScope, "2026-03-01", "2026-03-14", 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 3, top[0].Quantity)

	empty, err := svc.DailyReport(ctx, testScope, "2026-03-15")
	require.NoError(t, err)
	assert.Zero(t, empty.Sales)

	_, err = svc.DailyReport(ctx, testScope, "14/03/2026")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestLowStockListsProductsAtOrBelowMinimum(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	low := seedProduct(t, svc, "1.00", 1)
	seedProduct(t, svc, "2.00", 10)

	items, err := svc.LowStock(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, low.ID, items[0].ProductID)
}
