package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

const draftKeyPrefix = "draft:"

// SaveDraft parks a cart. An empty draftID creates a new draft. Drafts
// never touch stock or accounts.
func (s *Service) SaveDraft(ctx context.Context, scope domain.Scope, draftID string, req domain.DraftSaveRequest) (domain.SaleDraft, error) {
	if err := validateScope(scope); err != nil {
		return domain.SaleDraft{}, err
	}

	items, err := normalizeDraftItems(req.Items)
	if err != nil {
		return domain.SaleDraft{}, err
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		return domain.SaleDraft{}, apperror.NewValidation("payment_method", "unknown payment_method")
	}
	if !domain.IsMoney(req.Discount) {
		return domain.SaleDraft{}, apperror.NewValidation("discount", "discount must be a non-negative amount with two decimal places")
	}

	now := s.now()
	draft := domain.SaleDraft{
		ID:            xid.New("rsc"),
		MerchantID:    scope.MerchantID,
		UserID:        scope.UserID,
		CustomerID:    strings.TrimSpace(req.CustomerID),
		PaymentMethod: req.PaymentMethod,
		Discount:      domain.Money(req.Discount),
		Notes:         strings.TrimSpace(req.Notes),
		Items:         items,
		Status:        domain.SalePendente,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if draftID = strings.TrimSpace(draftID); draftID != "" {
		existing, err := s.repo.GetDraft(ctx, scope.MerchantID, draftID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleDraft{}, apperror.NewNotFound("draft", draftID)
		}
		if err != nil {
			return domain.SaleDraft{}, s.fail(ctx, "save draft", err)
		}
		draft.ID = existing.ID
		draft.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.SaveDraft(ctx, draft); err != nil {
		return domain.SaleDraft{}, s.fail(ctx, "save draft", err)
	}
	return draft, nil
}

func (s *Service) GetDraft(ctx context.Context, scope domain.Scope, draftID string) (domain.SaleDraft, error) {
	if err := validateMerchant(scope); err != nil {
		return domain.SaleDraft{}, err
	}
	draft, err := s.repo.GetDraft(ctx, scope.MerchantID, strings.TrimSpace(draftID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleDraft{}, apperror.NewNotFound("draft", draftID)
	}
	if err != nil {
		return domain.SaleDraft{}, s.fail(ctx, "get draft", err)
	}
	return *draft, nil
}

func (s *Service) ListDrafts(ctx context.Context, scope domain.Scope, limit int) ([]domain.SaleDraft, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	drafts, err := s.repo.ListDrafts(ctx, scope.MerchantID, limit)
	if err != nil {
		return nil, s.fail(ctx, "list drafts", err)
	}
	return drafts, nil
}

// CommitDraft turns a draft into a sale keyed by the draft id and discards
// the draft in the same unit of work. Committing again replays the sale.
func (s *Service) CommitDraft(ctx context.Context, scope domain.Scope, draftID string, req domain.DraftCommitRequest) (domain.SaleResponse, error) {
	if err := validateScope(scope); err != nil {
		return domain.SaleResponse{}, err
	}
	ctx = scopedLogger(ctx, scope)
	draftID = strings.TrimSpace(draftID)
	key := draftKeyPrefix + draftID

	draft, err := s.repo.GetDraft(ctx, scope.MerchantID, draftID)
	if errors.Is(err, store.ErrNotFound) {
		return s.replayDraftCommit(ctx, scope, draftID, req)
	}
	if err != nil {
		return domain.SaleResponse{}, s.fail(ctx, "commit draft", err)
	}

	items := make([]domain.SaleItemRequest, 0, len(draft.Items))
	for _, item := range draft.Items {
		items = append(items, domain.SaleItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	saleReq := draftSaleRequest(key, items, draft.PaymentMethod, draft.CustomerID, draft.Discount, draft.Notes, req)

	// The draft is removed in the sale's own unit of work, so a concurrent
	// CancelOpenDraft either wins and the sale rolls back, or finds nothing.
	resp, err := s.createSale(ctx, scope, saleReq, func(ctx context.Context, sale *domain.Sale) error {
		err := s.repo.DeleteDraft(ctx, scope.MerchantID, draftID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NewNotFound("draft", draftID)
		}
		return err
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	logger.Info(ctx, "draft committed", "draft_id", draftID, "sale_id", resp.Sale.ID)
	return resp, nil
}

// replayDraftCommit answers a commit of a draft that no longer exists. It is
// a duplicate only when a sale was committed from the draft and the request
// rebuilt from that sale matches what was hashed at commit time.
func (s *Service) replayDraftCommit(ctx context.Context, scope domain.Scope, draftID string, req domain.DraftCommitRequest) (domain.SaleResponse, error) {
	key := draftKeyPrefix + draftID
	existing, err := s.repo.FindSaleByIdempotency(ctx, scope.MerchantID, key)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, apperror.NewNotFound("draft", draftID)
	}
	if err != nil {
		return domain.SaleResponse{}, s.fail(ctx, "commit draft", err)
	}

	items := make([]domain.SaleItemRequest, 0, len(existing.Items))
	for _, item := range existing.Items {
		items = append(items, domain.SaleItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	saleReq := draftSaleRequest(key, items, existing.PaymentMethod, existing.CustomerID, existing.Discount, existing.Notes, req)
	if requestHash(saleReq, mergeSaleLines(saleReq.Items)) != existing.RequestHash {
		return domain.SaleResponse{}, apperror.NewIdempotencyMismatch(key)
	}
	return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
}

// draftSaleRequest builds the sale request for a draft commit. Payment fields
// in the commit request override the draft's defaults.
func draftSaleRequest(key string, items []domain.SaleItemRequest, method domain.PaymentMethod, customerID string, discount decimal.Decimal, notes string, req domain.DraftCommitRequest) domain.SaleCreateRequest {
	if req.PaymentMethod != "" {
		method = req.PaymentMethod
	}
	customer := ""
	if method == domain.PaymentStoreCredit {
		customer = defaultString(req.CustomerID, customerID)
	}
	return domain.SaleCreateRequest{
		IdempotencyKey: key,
		Items:          items,
		PaymentMethod:  method,
		AmountTendered: req.AmountTendered,
		CustomerID:     customer,
		Discount:       discount,
		Notes:          notes,
	}
}

// CancelOpenDraft discards a draft. Nothing was ever posted for it, so no
// ledger is touched; committed sales go through CancelSale.
func (s *Service) CancelOpenDraft(ctx context.Context, scope domain.Scope, draftID string) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	ctx = scopedLogger(ctx, scope)

	err := s.repo.DeleteDraft(ctx, scope.MerchantID, strings.TrimSpace(draftID))
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NewNotFound("draft", draftID)
	}
	if err != nil {
		return s.fail(ctx, "cancel draft", err)
	}
	logger.Info(ctx, "draft discarded", "draft_id", draftID)
	return nil
}

func normalizeDraftItems(items []domain.DraftItem) ([]domain.DraftItem, error) {
	if len(items) == 0 {
		return nil, apperror.NewValidation("items", "at least one item is required")
	}
	merged := make([]domain.DraftItem, 0, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, apperror.NewValidation(fmt.Sprintf("items[%d].product_id", i), "product_id is required")
		}
		if item.Quantity < 1 {
			return nil, apperror.NewValidation(fmt.Sprintf("items[%d].quantity", i), "quantity must be at least 1")
		}
		if item.Quantity > maxQuantity {
			return nil, apperror.NewValidation(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("quantity must not exceed %d", maxQuantity))
		}
		if at, ok := index[item.ProductID]; ok {
			sum, ok := addQuantity(merged[at].Quantity, item.Quantity)
			if !ok {
				return nil, apperror.NewValidation(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("quantity must not exceed %d", maxQuantity))
			}
			merged[at].Quantity = sum
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
