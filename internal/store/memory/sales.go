package memory

import (
	"context"
	"slices"
	"time"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	idemKey := accountKey(sale.MerchantID, sale.IdempotencyKey)
	if _, exists := s.salesByIdem[idemKey]; exists {
		return store.ErrDuplicate
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return store.ErrDuplicate
	}
	s.salesByID[sale.ID] = cloneSale(&sale)
	s.salesByIdem[idemKey] = sale.ID
	tx.onRollback(func() {
		delete(s.salesByID, sale.ID)
		delete(s.salesByIdem, idemKey)
	})
	return nil
}

func (s *Store) GetSale(ctx context.Context, merchantID string, saleID string) (*domain.Sale, error) {
	defer s.read(ctx)()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.MerchantID != merchantID {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

// LockSale is GetSale: a transaction already holds the store-wide lock.
func (s *Store) LockSale(ctx context.Context, merchantID string, saleID string) (*domain.Sale, error) {
	return s.GetSale(ctx, merchantID, saleID)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, merchantID string, key string) (*domain.Sale, error) {
	defer s.read(ctx)()

	id, ok := s.salesByIdem[accountKey(merchantID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) MarkSaleCancelled(ctx context.Context, merchantID string, saleID string, userID string, reason string, at time.Time) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.MerchantID != merchantID {
		return store.ErrNotFound
	}
	if sale.Status != domain.SaleConcluida {
		return store.ErrConflict
	}
	prev := cloneSale(sale)
	cancelledAt := at
	sale.Status = domain.SaleCancelada
	sale.CancelReason = reason
	sale.CancelledBy = userID
	sale.CancelledAt = &cancelledAt
	tx.onRollback(func() { s.salesByID[saleID] = prev })
	return nil
}

func (s *Store) ListSales(ctx context.Context, merchantID string, filter domain.SaleFilter) ([]domain.Sale, error) {
	defer s.read(ctx)()

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if !matchesSaleFilter(sale, merchantID, filter) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func matchesSaleFilter(sale *domain.Sale, merchantID string, filter domain.SaleFilter) bool {
	if sale.MerchantID != merchantID {
		return false
	}
	if !inRange(sale.CreatedAt, filter.From, filter.To) {
		return false
	}
	if filter.Status != "" && sale.ReportStatus() != filter.Status {
		return false
	}
	if filter.PaymentMethod != "" && sale.PaymentMethod != filter.PaymentMethod {
		return false
	}
	if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
		return false
	}
	return true
}

func (s *Store) SaveDraft(ctx context.Context, draft domain.SaleDraft) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	prev, existed := s.drafts[draft.ID]
	if existed && prev.MerchantID != draft.MerchantID {
		return store.ErrNotFound
	}
	s.drafts[draft.ID] = cloneDraft(draft)
	tx.onRollback(func() {
		if existed {
			s.drafts[draft.ID] = prev
		} else {
			delete(s.drafts, draft.ID)
		}
	})
	return nil
}

func (s *Store) GetDraft(ctx context.Context, merchantID string, draftID string) (*domain.SaleDraft, error) {
	defer s.read(ctx)()

	draft, ok := s.drafts[draftID]
	if !ok || draft.MerchantID != merchantID {
		return nil, store.ErrNotFound
	}
	dup := cloneDraft(draft)
	return &dup, nil
}

func (s *Store) ListDrafts(ctx context.Context, merchantID string, limit int) ([]domain.SaleDraft, error) {
	defer s.read(ctx)()

	result := make([]domain.SaleDraft, 0, 16)
	for _, draft := range s.drafts {
		if draft.MerchantID == merchantID {
			result = append(result, cloneDraft(draft))
		}
	}
	slices.SortFunc(result, func(a, b domain.SaleDraft) int {
		return newestFirst(a.UpdatedAt, a.ID, b.UpdatedAt, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteDraft(ctx context.Context, merchantID string, draftID string) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	draft, ok := s.drafts[draftID]
	if !ok || draft.MerchantID != merchantID {
		return store.ErrNotFound
	}
	delete(s.drafts, draftID)
	tx.onRollback(func() { s.drafts[draftID] = draft })
	return nil
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.SaleLineItem, len(src.Items))
	copy(dup.Items, src.Items)
	if src.AmountTendered != nil {
		v := *src.AmountTendered
		dup.AmountTendered = &v
	}
	if src.Change != nil {
		v := *src.Change
		dup.Change = &v
	}
	if src.CancelledAt != nil {
		v := *src.CancelledAt
		dup.CancelledAt = &v
	}
	return &dup
}

func cloneDraft(src domain.SaleDraft) domain.SaleDraft {
	dup := src
	dup.Items = make([]domain.DraftItem, len(src.Items))
	copy(dup.Items, src.Items)
	return dup
}
