package service

import (
	"context"
	"errors"
	"strings"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/store"
)

// PostAccount adds entry.Amount to the customer's conta fiada, creating the
// ledger at zero on first use. Positive amounts are new debt.
func (s *Service) PostAccount(ctx context.Context, scope domain.Scope, entry domain.AccountEntry) (domain.AccountPostingResponse, error) {
	if err := validateScope(scope); err != nil {
		return domain.AccountPostingResponse{}, err
	}
	ctx = scopedLogger(ctx, scope)

	var resp domain.AccountPostingResponse
	err := s.inTransaction(ctx, "post_account", func(ctx context.Context) error {
		ledger, posting, err := s.post(ctx, scope, entry)
		if err != nil {
			return err
		}
		resp = domain.AccountPostingResponse{Account: *ledger, Posting: *posting}
		return nil
	})
	if err != nil {
		return domain.AccountPostingResponse{}, s.fail(ctx, "post account", err)
	}

	logger.Info(ctx, "account posted",
		"customer_id", resp.Account.CustomerID,
		"amount", resp.Posting.Amount.StringFixed(domain.MoneyPlaces),
		"balance", resp.Account.Balance.StringFixed(domain.MoneyPlaces),
	)
	return resp, nil
}

// RecordPayment settles part or all of an existing conta fiada.
func (s *Service) RecordPayment(ctx context.Context, scope domain.Scope, customerID string, req domain.AccountPaymentRequest) (domain.AccountPostingResponse, error) {
	if !req.Amount.IsPositive() || !domain.IsMoney(req.Amount) {
		return domain.AccountPostingResponse{}, apperror.NewValidation("amount", "amount must be a positive amount with two decimal places")
	}
	if _, err := s.Account(ctx, scope, customerID); err != nil {
		return domain.AccountPostingResponse{}, err
	}

	return s.PostAccount(ctx, scope, domain.AccountEntry{
		CustomerID: customerID,
		Amount:     req.Amount.Neg(),
		Memo:       defaultString(req.Memo, "pagamento"),
	})
}

func (s *Service) Account(ctx context.Context, scope domain.Scope, customerID string) (*domain.AccountLedger, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	if err := s.requireCustomer(ctx, scope, customerID); err != nil {
		return nil, s.fail(ctx, "get account", err)
	}

	ledger, err := s.repo.GetAccount(ctx, scope.MerchantID, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NewAccountNotFound(customerID)
	}
	if err != nil {
		return nil, s.fail(ctx, "get account", err)
	}
	return ledger, nil
}

func (s *Service) Postings(ctx context.Context, scope domain.Scope, customerID string, limit int) ([]domain.AccountPosting, error) {
	if _, err := s.Account(ctx, scope, customerID); err != nil {
		return nil, err
	}
	postings, err := s.repo.ListAccountPostings(ctx, scope.MerchantID, customerID, limit)
	if err != nil {
		return nil, s.fail(ctx, "list postings", err)
	}
	return postings, nil
}

func (s *Service) post(ctx context.Context, scope domain.Scope, entry domain.AccountEntry) (*domain.AccountLedger, *domain.AccountPosting, error) {
	entry.CustomerID = strings.TrimSpace(entry.CustomerID)
	if entry.Amount.IsZero() {
		return nil, nil, apperror.NewValidation("amount", "amount must not be zero")
	}
	if !domain.IsMoney(entry.Amount.Abs()) {
		return nil, nil, apperror.NewValidation("amount", "amount must have at most two decimal places")
	}
	if err := s.requireCustomer(ctx, scope, entry.CustomerID); err != nil {
		return nil, nil, err
	}
	entry.Memo = strings.TrimSpace(entry.Memo)

	ledger, posting, err := s.repo.PostAccountEntry(ctx, scope.MerchantID, scope.UserID, entry, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperror.NewCustomerNotFound(entry.CustomerID)
	}
	return ledger, posting, err
}

// reverse posts the exact negative of a prior posting. It is reached only
// through CancelSale: a posting is reversed at most once and reversals are
// never reversed.
func (s *Service) reverse(ctx context.Context, scope domain.Scope, postingID string, memo string) (*domain.AccountLedger, *domain.AccountPosting, error) {
	original, err := s.repo.GetAccountPosting(ctx, scope.MerchantID, postingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperror.NewAccountNotFound("").WithDetail("posting_id", postingID)
	}
	if err != nil {
		return nil, nil, err
	}
	if original.ReversesID != "" {
		return nil, nil, apperror.NewValidation("posting_id", "a reversal cannot be reversed")
	}
	if original.ReversedByID != "" {
		return nil, nil, apperror.NewAlreadyCancelled("posting", postingID)
	}

	ledger, reversal, err := s.post(ctx, scope, domain.AccountEntry{
		CustomerID: original.CustomerID,
		Amount:     original.Amount.Neg(),
		Memo:       defaultString(memo, "estorno de "+original.ID),
		SaleID:     original.SaleID,
		ReversesID: original.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	err = s.repo.MarkPostingReversed(ctx, scope.MerchantID, original.ID, reversal.ID)
	if errors.Is(err, store.ErrConflict) {
		return nil, nil, apperror.NewAlreadyCancelled("posting", postingID)
	}
	if err != nil {
		return nil, nil, err
	}
	return ledger, reversal, nil
}

func (s *Service) requireCustomer(ctx context.Context, scope domain.Scope, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return apperror.NewValidation("customer_id", "customer_id is required")
	}
	_, err := s.repo.GetCustomer(ctx, scope.MerchantID, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NewCustomerNotFound(customerID)
	}
	return err
}
