package memory

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
)

func (s *Store) GetDailyReport(ctx context.Context, merchantID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	defer s.read(ctx)()

	report := domain.DailyReport{
		MerchantID: merchantID,
		Date:       from.Format("2006-01-02"),
		Gross:      decimal.Zero,
		Discount:   decimal.Zero,
		Net:        decimal.Zero,
	}
	byPayment := map[domain.PaymentMethod]*domain.ReportPaymentLine{}
	byStatus := map[domain.SaleStatus]*domain.ReportStatusLine{}

	for _, sale := range s.salesByID {
		if sale.MerchantID != merchantID || !inRange(sale.CreatedAt, from, to) {
			continue
		}

		status := sale.ReportStatus()
		statusLine, ok := byStatus[status]
		if !ok {
			statusLine = &domain.ReportStatusLine{Status: status, Total: decimal.Zero}
			byStatus[status] = statusLine
		}
		statusLine.Sales++
		statusLine.Total = statusLine.Total.Add(sale.Total)

		if sale.Status == domain.SaleCancelada {
			report.Cancelled++
			continue
		}

		report.Sales++
		report.Gross = report.Gross.Add(sale.Subtotal)
		report.Discount = report.Discount.Add(sale.Discount)
		report.Net = report.Net.Add(sale.Total)
		for _, item := range sale.Items {
			report.ItemsSold += item.Quantity
		}

		paymentLine, ok := byPayment[sale.PaymentMethod]
		if !ok {
			paymentLine = &domain.ReportPaymentLine{Method: sale.PaymentMethod, Total: decimal.Zero}
			byPayment[sale.PaymentMethod] = paymentLine
		}
		paymentLine.Sales++
		paymentLine.Total = paymentLine.Total.Add(sale.Total)
	}

	report.ByPayment = make([]domain.ReportPaymentLine, 0, len(byPayment))
	for _, line := range byPayment {
		report.ByPayment = append(report.ByPayment, *line)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.ReportPaymentLine) int {
		return cmpString(string(a.Method), string(b.Method))
	})

	report.ByStatus = make([]domain.ReportStatusLine, 0, len(byStatus))
	for _, line := range byStatus {
		report.ByStatus = append(report.ByStatus, *line)
	}
	slices.SortFunc(report.ByStatus, func(a, b domain.ReportStatusLine) int {
		return cmpString(string(a.Status), string(b.Status))
	})

	return report, nil
}

func (s *Store) TopProducts(ctx context.Context, merchantID string, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	defer s.read(ctx)()

	if limit < 1 {
		limit = 10
	}
	byProduct := map[string]*domain.TopProduct{}
	for _, sale := range s.salesByID {
		if sale.MerchantID != merchantID || sale.Status != domain.SaleConcluida || !inRange(sale.CreatedAt, from, to) {
			continue
		}
		for _, item := range sale.Items {
			top, ok := byProduct[item.ProductID]
			if !ok {
				top = &domain.TopProduct{ProductID: item.ProductID, Name: item.ProductName, Revenue: decimal.Zero}
				byProduct[item.ProductID] = top
			}
			top.Quantity += item.Quantity
			top.Revenue = top.Revenue.Add(item.Subtotal)
		}
	}

	result := make([]domain.TopProduct, 0, len(byProduct))
	for _, top := range byProduct {
		result = append(result, *top)
	}
	slices.SortFunc(result, func(a, b domain.TopProduct) int {
		if a.Quantity == b.Quantity {
			return cmpString(a.ProductID, b.ProductID)
		}
		return b.Quantity - a.Quantity
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) LowStock(ctx context.Context, merchantID string) ([]domain.LowStockItem, error) {
	defer s.read(ctx)()

	result := make([]domain.LowStockItem, 0, 16)
	for _, product := range s.products {
		if product.MerchantID != merchantID || product.Deleted {
			continue
		}
		qty := s.stock[merchantID][product.ID]
		if qty > product.MinStock {
			continue
		}
		result = append(result, domain.LowStockItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  qty,
			MinStock:  product.MinStock,
		})
	}
	slices.SortFunc(result, func(a, b domain.LowStockItem) int {
		if a.Quantity == b.Quantity {
			return cmpString(a.ProductID, b.ProductID)
		}
		return a.Quantity - b.Quantity
	})
	return result, nil
}
