package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
)

func TestAccountLookupErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	customer := seedCustomer(t, svc)

	_, err := svc.Account(ctx, testScope, "cli_ghost")
	assert.ErrorIs(t, err, apperror.ErrCustomerNotFound)

	_, err = svc.Account(ctx, testScope, customer.ID)
	assert.ErrorIs(t, err, apperror.ErrAccountNotFound)

	other := domain.Scope{MerchantID: "mrc_2", UserID: "usr_2"}
	_, err = svc.Account(ctx, other, customer.ID)
	assert.ErrorIs(t, err, apperror.ErrCustomerNotFound)
}

func TestRecordPaymentSettlesAccount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	customer := seedCustomer(t, svc)

	_, err := svc.RecordPayment(ctx, testScope, customer.ID, domain.AccountPaymentRequest{Amount: domain.MustMoney("5.00")})
	assert.ErrorIs(t, err, apperror.ErrAccountNotFound)

	_, err = svc.PostAccount(ctx, testScope, domain.AccountEntry{CustomerID: customer.ID, Amount: domain.MustMoney("30.00")})
	require.NoError(t, err)

	resp, err := svc.RecordPayment(ctx, testScope, customer.ID, domain.AccountPaymentRequest{Amount: domain.MustMoney("12.25"), Memo: "pix"})
	require.NoError(t, err)
	assert.Equal(t, "17.75", resp.Account.Balance.StringFixed(2))
	assert.Equal(t, "-12.25", resp.Posting.Amount.StringFixed(2))
	assert.Equal(t, domain.AccountAtiva, resp.Account.Status)

	resp, err = svc.RecordPayment(ctx, testScope, customer.ID, domain.AccountPaymentRequest{Amount: domain.MustMoney("17.75")})
	require.NoError(t, err)
	assert.True(t, resp.Account.Balance.IsZero())
	assert.Equal(t, domain.AccountQuitada, resp.Account.Status)

	for _, bad := range []string{"0", "-1.00", "0.001"} {
		_, err = svc.RecordPayment(ctx, testScope, customer.ID, domain.AccountPaymentRequest{Amount: mustDecimal(bad)})
		assert.ErrorIs(t, err, apperror.ErrValidation, bad)
	}
}

func TestPostRejectsZeroAndUnknownCustomer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	customer := seedCustomer(t, svc)

	_, err := svc.PostAccount(ctx, testScope, domain.AccountEntry{CustomerID: customer.ID})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.PostAccount(ctx, testScope, domain.AccountEntry{CustomerID: "cli_ghost", Amount: domain.MustMoney("1.00")})
	assert.ErrorIs(t, err, apperror.ErrCustomerNotFound)
}

func reverseInTransaction(t *testing.T, svc *Service, postingID string) (*domain.AccountLedger, *domain.AccountPosting, error) {
	t.Helper()
	var ledger *domain.AccountLedger
	var posting *domain.AccountPosting
	err := svc.inTransaction(context.Background(), "reverse_posting", func(ctx context.Context) error {
		var err error
		ledger, posting, err = svc.reverse(ctx, testScope, postingID, "")
		return err
	})
	return ledger, posting, err
}

func TestReverseAppliesExactNegativeOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	customer := seedCustomer(t, svc)

	posted, err := svc.PostAccount(ctx, testScope, domain.AccountEntry{CustomerID: customer.ID, Amount: domain.MustMoney("8.80")})
	require.NoError(t, err)

	ledger, reversal, err := reverseInTransaction(t, svc, posted.Posting.ID)
	require.NoError(t, err)
	assert.Equal(t, "-8.80", reversal.Amount.StringFixed(2))
	assert.True(t, ledger.Balance.IsZero())

	_, _, err = reverseInTransaction(t, svc, posted.Posting.ID)
	assert.ErrorIs(t, err, apperror.ErrAlreadyCancelled)

	_, _, err = reverseInTransaction(t, svc, reversal.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, _, err = reverseInTransaction(t, svc, "lan_missing")
	assert.ErrorIs(t, err, apperror.ErrAccountNotFound)
}

// A payment between sale and cancellation must not block the cancel: only
// the sale's own posting is reversed.
func TestCancelReversesOnlyTheSalePosting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	product := seedProduct(t, svc, "10.00", 5)
	customer := seedCustomer(t, svc)

	resp, err := svc.CreateSale(ctx, testScope, fiadoSale("k-fiado-pay", product.ID, 2, customer.ID))
	require.NoError(t, err)
	paid, err := svc.RecordPayment(ctx, testScope, customer.ID, domain.AccountPaymentRequest{Amount: domain.MustMoney("5.00")})
	require.NoError(t, err)

	cancelled, err := svc.CancelSale(ctx, testScope, resp.Sale.ID, "troca")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelada, cancelled.Status)
	requireQuantity(t, svc, product.ID, 5)

	account, err := svc.Account(ctx, testScope, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "-5.00", account.Balance.StringFixed(2))
	assert.Equal(t, domain.AccountQuitada, account.Status)

	postings, err := svc.Postings(ctx, testScope, customer.ID, 10)
	require.NoError(t, err)
	require.Len(t, postings, 3)
	for _, posting := range postings {
		if posting.ID == paid.Posting.ID {
			assert.Empty(t, posting.ReversedByID)
		}
	}
}

func TestStockAdjustments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	product := seedProduct(t, svc, "3.00", 2)

	mv, err := svc.AdjustStock(ctx, testScope, product.ID, domain.StockAdjustRequest{Kind: domain.MovementEntrada, Quantity: 10, Reason: "compra fornecedor"})
	require.NoError(t, err)
	assert.Equal(t, 12, mv.QuantityAfter)

	mv, err = svc.AdjustStock(ctx, testScope, product.ID, domain.StockAdjustRequest{Kind: domain.MovementAjuste, Quantity: -4, Reason: "contagem"})
	require.NoError(t, err)
	assert.Equal(t, -4, mv.QuantityDelta)
	assert.Equal(t, 8, mv.QuantityAfter)

	_, err = svc.AdjustStock(ctx, testScope, product.ID, domain.StockAdjustRequest{Kind: domain.MovementAjuste, Quantity: -9})
	assert.ErrorIs(t, err, apperror.ErrInsufficientStock)

	_, err = svc.AdjustStock(ctx, testScope, product.ID, domain.StockAdjustRequest{Kind: domain.MovementSaida, Quantity: 0})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.AdjustStock(ctx, testScope, product.ID, domain.StockAdjustRequest{Kind: "perda", Quantity: 1})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.AdjustStock(ctx, testScope, "prd_missing", domain.StockAdjustRequest{Kind: domain.MovementEntrada, Quantity: 1})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	requireQuantity(t, svc, product.ID, 8)
}
