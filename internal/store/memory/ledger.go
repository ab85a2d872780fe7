package memory

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

func (s *Store) ApplyStockChange(ctx context.Context, merchantID string, userID string, change domain.StockChange, at time.Time) (*domain.StockMovement, error) {
	tx, unlock := s.write(ctx)
	defer unlock()

	product, ok := s.products[change.ProductID]
	if !ok || product.MerchantID != merchantID {
		return nil, store.ErrNotFound
	}

	byProduct, ok := s.stock[merchantID]
	if !ok {
		byProduct = make(map[string]int)
		s.stock[merchantID] = byProduct
	}

	delta := change.SignedDelta()
	before := byProduct[change.ProductID]
	after := before + delta
	if after < 0 {
		return nil, apperror.NewInsufficientStock(change.ProductID, -delta, before)
	}

	byProduct[change.ProductID] = after
	tx.onRollback(func() { byProduct[change.ProductID] = before })

	movement := domain.StockMovement{
		ID:             xid.New("mov"),
		ProductID:      change.ProductID,
		MerchantID:     merchantID,
		UserID:         userID,
		SaleID:         change.SaleID,
		Kind:           change.Kind,
		QuantityBefore: before,
		QuantityDelta:  delta,
		QuantityAfter:  after,
		Reason:         change.Reason,
		Notes:          change.Notes,
		CreatedAt:      at,
	}
	n := len(s.movements)
	s.movements = append(s.movements, movement)
	tx.onRollback(func() { s.movements = s.movements[:n] })

	return &movement, nil
}

func (s *Store) GetStockQuantity(ctx context.Context, merchantID string, productID string) (int, error) {
	defer s.read(ctx)()

	product, ok := s.products[productID]
	if !ok || product.MerchantID != merchantID {
		return 0, store.ErrNotFound
	}
	return s.stock[merchantID][productID], nil
}

func (s *Store) ListStockMovements(ctx context.Context, merchantID string, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	defer s.read(ctx)()

	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	result := make([]domain.StockMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0 && len(result) < limit; i-- {
		movement := s.movements[i]
		if movement.MerchantID != merchantID {
			continue
		}
		if filter.ProductID != "" && movement.ProductID != filter.ProductID {
			continue
		}
		if filter.SaleID != "" && movement.SaleID != filter.SaleID {
			continue
		}
		if !inRange(movement.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, movement)
	}
	return result, nil
}

func (s *Store) SumStockMovements(ctx context.Context, merchantID string, productID string) (int, int, error) {
	defer s.read(ctx)()

	sum, count := 0, 0
	for _, movement := range s.movements {
		if movement.MerchantID == merchantID && movement.ProductID == productID {
			sum += movement.QuantityDelta
			count++
		}
	}
	return sum, count, nil
}

func (s *Store) PostAccountEntry(ctx context.Context, merchantID string, userID string, entry domain.AccountEntry, at time.Time) (*domain.AccountLedger, *domain.AccountPosting, error) {
	tx, unlock := s.write(ctx)
	defer unlock()

	customer, ok := s.customers[entry.CustomerID]
	if !ok || customer.MerchantID != merchantID {
		return nil, nil, store.ErrNotFound
	}

	key := accountKey(merchantID, entry.CustomerID)
	prev, existed := s.accounts[key]
	ledger := prev
	if !existed {
		ledger = domain.AccountLedger{
			ID:         xid.New("cta"),
			CustomerID: entry.CustomerID,
			MerchantID: merchantID,
			Balance:    decimal.Zero,
			Status:     domain.AccountQuitada,
			CreatedAt:  at,
		}
	}

	before := ledger.Balance
	after := domain.Money(before.Add(entry.Amount))
	ledger.Balance = after
	ledger.Status = domain.StatusForBalance(after)
	ledger.UpdatedAt = at
	s.accounts[key] = ledger
	tx.onRollback(func() {
		if existed {
			s.accounts[key] = prev
		} else {
			delete(s.accounts, key)
		}
	})

	posting := domain.AccountPosting{
		ID:            xid.New("lan"),
		LedgerID:      ledger.ID,
		CustomerID:    entry.CustomerID,
		MerchantID:    merchantID,
		UserID:        userID,
		SaleID:        entry.SaleID,
		Amount:        domain.Money(entry.Amount),
		BalanceBefore: before,
		BalanceAfter:  after,
		Memo:          entry.Memo,
		ReversesID:    entry.ReversesID,
		CreatedAt:     at,
	}
	n := len(s.postings)
	s.postings = append(s.postings, posting)
	s.postingIndex[posting.ID] = n
	tx.onRollback(func() {
		delete(s.postingIndex, posting.ID)
		s.postings = s.postings[:n]
	})

	return &ledger, &posting, nil
}

func (s *Store) GetAccount(ctx context.Context, merchantID string, customerID string) (*domain.AccountLedger, error) {
	defer s.read(ctx)()

	ledger, ok := s.accounts[accountKey(merchantID, customerID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ledger, nil
}

func (s *Store) GetAccountPosting(ctx context.Context, merchantID string, postingID string) (*domain.AccountPosting, error) {
	defer s.read(ctx)()

	idx, ok := s.postingIndex[postingID]
	if !ok || s.postings[idx].MerchantID != merchantID {
		return nil, store.ErrNotFound
	}
	posting := s.postings[idx]
	return &posting, nil
}

func (s *Store) FindSalePosting(ctx context.Context, merchantID string, saleID string) (*domain.AccountPosting, error) {
	defer s.read(ctx)()

	for _, posting := range s.postings {
		if posting.MerchantID == merchantID && posting.SaleID == saleID && posting.ReversesID == "" {
			return &posting, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MarkPostingReversed(ctx context.Context, merchantID string, postingID string, reversalID string) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	idx, ok := s.postingIndex[postingID]
	if !ok || s.postings[idx].MerchantID != merchantID {
		return store.ErrNotFound
	}
	if s.postings[idx].ReversedByID != "" {
		return store.ErrConflict
	}
	s.postings[idx].ReversedByID = reversalID
	tx.onRollback(func() { s.postings[idx].ReversedByID = "" })
	return nil
}

func (s *Store) ListAccountPostings(ctx context.Context, merchantID string, customerID string, limit int) ([]domain.AccountPosting, error) {
	defer s.read(ctx)()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AccountPosting, 0, 16)
	for i := len(s.postings) - 1; i >= 0 && len(result) < limit; i-- {
		posting := s.postings[i]
		if posting.MerchantID == merchantID && posting.CustomerID == customerID {
			result = append(result, posting)
		}
	}
	return result, nil
}

func (s *Store) ListOpenAccounts(ctx context.Context, merchantID string) ([]domain.OpenAccount, error) {
	defer s.read(ctx)()

	result := make([]domain.OpenAccount, 0, 16)
	for _, ledger := range s.accounts {
		if ledger.MerchantID != merchantID || !ledger.Balance.IsPositive() {
			continue
		}
		result = append(result, domain.OpenAccount{
			CustomerID:   ledger.CustomerID,
			CustomerName: s.customers[ledger.CustomerID].Name,
			Balance:      ledger.Balance,
			UpdatedAt:    ledger.UpdatedAt,
		})
	}
	slices.SortFunc(result, func(a, b domain.OpenAccount) int {
		if c := b.Balance.Cmp(a.Balance); c != 0 {
			return c
		}
		return cmpString(a.CustomerID, b.CustomerID)
	})
	return result, nil
}
