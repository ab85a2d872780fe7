package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/apperror"
)

func TestNewPaymentBuildsVariant(t *testing.T) {
	tendered := MustMoney("50.00")

	cash, err := NewPayment(PaymentCash, &tendered, "")
	require.NoError(t, err)
	assert.Equal(t, CashPayment{Tendered: tendered}, cash)

	fiado, err := NewPayment(PaymentStoreCredit, nil, " cli_1 ")
	require.NoError(t, err)
	assert.Equal(t, StoreCreditPayment{CustomerID: "cli_1"}, fiado)

	pix, err := NewPayment(PaymentPix, nil, "")
	require.NoError(t, err)
	assert.Equal(t, PaymentPix, pix.Method())
}

func TestNewPaymentRejectsMissingFields(t *testing.T) {
	_, err := NewPayment(PaymentCash, nil, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = NewPayment(PaymentStoreCredit, nil, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = NewPayment("cheque", nil, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	fractional := decimal.RequireFromString("10.005")
	_, err = NewPayment(PaymentCash, &fractional, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestReportStatusFoldsStoreCredit(t *testing.T) {
	sale := Sale{Status: SaleConcluida, PaymentMethod: PaymentStoreCredit}
	assert.Equal(t, SaleContaFiada, sale.ReportStatus())

	sale.Status = SaleCancelada
	assert.Equal(t, SaleCancelada, sale.ReportStatus())

	assert.Equal(t, SaleConcluida, Sale{Status: SaleConcluida, PaymentMethod: PaymentPix}.ReportStatus())
}

func TestStockChangeSignedDelta(t *testing.T) {
	assert.Equal(t, -3, StockChange{Kind: MovementSaida, Quantity: 3}.SignedDelta())
	assert.Equal(t, 3, StockChange{Kind: MovementEntrada, Quantity: 3}.SignedDelta())
	assert.Equal(t, -2, StockChange{Kind: MovementAjuste, Quantity: -2}.SignedDelta())
}

func TestIsMoney(t *testing.T) {
	assert.True(t, IsMoney(decimal.RequireFromString("10.50")))
	assert.True(t, IsMoney(decimal.RequireFromString("10.500")))
	assert.False(t, IsMoney(decimal.RequireFromString("-1")))
	assert.False(t, IsMoney(decimal.RequireFromString("0.001")))
	assert.Equal(t, AccountQuitada, StatusForBalance(decimal.Zero))
	assert.Equal(t, AccountAtiva, StatusForBalance(MustMoney("0.01")))
}

func TestNewPaymentRejectsFieldsOfOtherMethods(t *testing.T) {
	tendered := MustMoney("10.00")

	_, err := NewPayment(PaymentPix, &tendered, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = NewPayment(PaymentCash, &tendered, "cli_1")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	credit, err := NewPayment(PaymentCredit, nil, "")
	require.NoError(t, err)
	assert.Equal(t, CreditPayment{}, credit)
}
