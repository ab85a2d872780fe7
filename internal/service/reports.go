package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
)

const dateLayout = "2006-01-02"

// DailyReport summarizes one UTC day. An empty date means today.
func (s *Service) DailyReport(ctx context.Context, scope domain.Scope, date string) (domain.DailyReport, error) {
	if err := validateMerchant(scope); err != nil {
		return domain.DailyReport{}, err
	}
	from, err := s.parseDay("date", date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	to := from.Add(24 * time.Hour)

	report, err := s.repo.GetDailyReport(ctx, scope.MerchantID, from, to)
	if err != nil {
		return domain.DailyReport{}, s.fail(ctx, "daily report", err)
	}
	report.MerchantID = scope.MerchantID
	report.Date = from.Format(dateLayout)
	return report, nil
}

// TopProducts ranks products by quantity sold between two dates, both inclusive.
func (s *Service) TopProducts(ctx context.Context, scope domain.Scope, fromDate string, toDate string, limit int) ([]domain.TopProduct, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	to, err := s.parseDay("to", toDate)
	if err != nil {
		return nil, err
	}
	from := to.AddDate(0, 0, -29)
	if strings.TrimSpace(fromDate) != "" {
		if from, err = s.parseDay("from", fromDate); err != nil {
			return nil, err
		}
	}
	if from.After(to) {
		return nil, apperror.NewValidation("from", "from must not be after to")
	}

	top, err := s.repo.TopProducts(ctx, scope.MerchantID, from, to.Add(24*time.Hour), limit)
	if err != nil {
		return nil, s.fail(ctx, "top products", err)
	}
	return top, nil
}

func (s *Service) LowStock(ctx context.Context, scope domain.Scope) ([]domain.LowStockItem, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	items, err := s.repo.LowStock(ctx, scope.MerchantID)
	if err != nil {
		return nil, s.fail(ctx, "low stock", err)
	}
	return items, nil
}

func (s *Service) OpenAccounts(ctx context.Context, scope domain.Scope) (domain.OpenAccountsReport, error) {
	if err := validateMerchant(scope); err != nil {
		return domain.OpenAccountsReport{}, err
	}
	accounts, err := s.repo.ListOpenAccounts(ctx, scope.MerchantID)
	if err != nil {
		return domain.OpenAccountsReport{}, s.fail(ctx, "open accounts", err)
	}
	total := decimal.Zero
	for _, account := range accounts {
		total = total.Add(account.Balance)
	}
	return domain.OpenAccountsReport{Accounts: accounts, TotalReceivable: total}, nil
}

func (s *Service) parseDay(field string, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		now := s.now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, apperror.NewValidation(field, "expected a date as YYYY-MM-DD")
	}
	return parsed.UTC(), nil
}
