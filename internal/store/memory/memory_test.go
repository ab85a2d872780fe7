package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store, merchantID string, id string) {
	t.Helper()
	require.NoError(t, s.CreateProduct(context.Background(), domain.Product{
		ID:         id,
		MerchantID: merchantID,
		Name:       "Arroz 5kg",
		Price:      domain.MustMoney("10.00"),
	}))
}

func TestApplyStockChangeRecordsMovementChain(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s, "m1", "prd_1")
	now := time.Now().UTC()

	in, err := s.ApplyStockChange(ctx, "m1", "usr_1", domain.StockChange{ProductID: "prd_1", Kind: domain.MovementEntrada, Quantity: 5}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, in.QuantityBefore)
	assert.Equal(t, 5, in.QuantityAfter)

	out, err := s.ApplyStockChange(ctx, "m1", "usr_1", domain.StockChange{ProductID: "prd_1", Kind: domain.MovementSaida, Quantity: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, -2, out.QuantityDelta)
	assert.Equal(t, 3, out.QuantityAfter)

	sum, count, err := s.SumStockMovements(ctx, "m1", "prd_1")
	require.NoError(t, err)
	qty, err := s.GetStockQuantity(ctx, "m1", "prd_1")
	require.NoError(t, err)
	assert.Equal(t, qty, sum)
	assert.Equal(t, 2, count)
}

func TestApplyStockChangeRejectsNegativeAndForeignProduct(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s, "m1", "prd_1")

	_, err := s.ApplyStockChange(ctx, "m1", "usr_1", domain.StockChange{ProductID: "prd_1", Kind: domain.MovementSaida, Quantity: 1}, time.Now())
	require.ErrorIs(t, err, apperror.ErrInsufficientStock)

	_, err = s.ApplyStockChange(ctx, "m2", "usr_1", domain.StockChange{ProductID: "prd_1", Kind: domain.MovementEntrada, Quantity: 1}, time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)

	movements, err := s.ListStockMovements(ctx, "m1", domain.MovementFilter{ProductID: "prd_1"})
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestRunInTransactionRollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s, "m1", "prd_1")
	require.NoError(t, s.CreateCustomer(ctx, domain.Customer{ID: "cli_1", MerchantID: "m1", Name: "Dona Maria"}))
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.ApplyStockChange(ctx, "m1", "usr_1", domain.StockChange{ProductID: "prd_1", Kind: domain.MovementEntrada, Quantity: 4}, time.Now()); err != nil {
			return err
		}
		if _, _, err := s.PostAccountEntry(ctx, "m1", "usr_1", domain.AccountEntry{CustomerID: "cli_1", Amount: domain.MustMoney("12.50")}, time.Now()); err != nil {
			return err
		}
		if err := s.InsertSale(ctx, domain.Sale{ID: "vnd_1", MerchantID: "m1", IdempotencyKey: "k1", Status: domain.SaleConcluida}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	qty, err := s.GetStockQuantity(ctx, "m1", "prd_1")
	require.NoError(t, err)
	assert.Zero(t, qty)

	_, err = s.GetAccount(ctx, "m1", "cli_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindSaleByIdempotency(ctx, "m1", "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	sum, count, err := s.SumStockMovements(ctx, "m1", "prd_1")
	require.NoError(t, err)
	assert.Zero(t, sum)
	assert.Zero(t, count)
}

func TestNestedTransactionJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s, "m1", "prd_1")

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.RunInTransaction(ctx, func(ctx context.Context) error {
			_, err := s.ApplyStockChange(ctx, "m1", "usr_1", domain.StockChange{ProductID: "prd_1", Kind: domain.MovementEntrada, Quantity: 2}, time.Now())
			return err
		}))
		return errors.New("outer fails")
	})
	require.Error(t, err)

	qty, err := s.GetStockQuantity(ctx, "m1", "prd_1")
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestInsertSaleIsUniquePerMerchantKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.InsertSale(ctx, domain.Sale{ID: "vnd_1", MerchantID: "m1", IdempotencyKey: "k1"}))
	assert.ErrorIs(t, s.InsertSale(ctx, domain.Sale{ID: "vnd_2", MerchantID: "m1", IdempotencyKey: "k1"}), store.ErrDuplicate)
	assert.NoError(t, s.InsertSale(ctx, domain.Sale{ID: "vnd_3", MerchantID: "m2", IdempotencyKey: "k1"}))
}

func TestMarkSaleCancelledAndPostingReversedAreConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	require.NoError(t, s.CreateCustomer(ctx, domain.Customer{ID: "cli_1", MerchantID: "m1", Name: "Seu Jorge"}))
	require.NoError(t, s.InsertSale(ctx, domain.Sale{ID: "vnd_1", MerchantID: "m1", IdempotencyKey: "k1", Status: domain.SaleConcluida}))

	require.NoError(t, s.MarkSaleCancelled(ctx, "m1", "vnd_1", "usr_1", "cliente desistiu", now))
	assert.ErrorIs(t, s.MarkSaleCancelled(ctx, "m1", "vnd_1", "usr_1", "again", now), store.ErrConflict)
	assert.ErrorIs(t, s.MarkSaleCancelled(ctx, "m2", "vnd_1", "usr_1", "", now), store.ErrNotFound)

	_, posting, err := s.PostAccountEntry(ctx, "m1", "usr_1", domain.AccountEntry{CustomerID: "cli_1", Amount: domain.MustMoney("5.00"), SaleID: "vnd_1"}, now)
	require.NoError(t, err)
	require.NoError(t, s.MarkPostingReversed(ctx, "m1", posting.ID, "lan_x"))
	assert.ErrorIs(t, s.MarkPostingReversed(ctx, "m1", posting.ID, "lan_y"), store.ErrConflict)

	found, err := s.FindSalePosting(ctx, "m1", "vnd_1")
	require.NoError(t, err)
	assert.Equal(t, "lan_x", found.ReversedByID)
}

func TestPostAccountEntryDerivesStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	require.NoError(t, s.CreateCustomer(ctx, domain.Customer{ID: "cli_1", MerchantID: "m1", Name: "Seu Jorge"}))

	ledger, posting, err := s.PostAccountEntry(ctx, "m1", "usr_1", domain.AccountEntry{CustomerID: "cli_1", Amount: domain.MustMoney("45.50")}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountAtiva, ledger.Status)
	assert.True(t, posting.BalanceBefore.IsZero())
	assert.True(t, posting.BalanceAfter.Equal(domain.MustMoney("45.50")))

	ledger, _, err = s.PostAccountEntry(ctx, "m1", "usr_1", domain.AccountEntry{CustomerID: "cli_1", Amount: domain.MustMoney("-45.50")}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountQuitada, ledger.Status)
	assert.True(t, ledger.Balance.IsZero())

	_, _, err = s.PostAccountEntry(ctx, "m2", "usr_1", domain.AccountEntry{CustomerID: "cli_1", Amount: domain.MustMoney("1.00")}, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
