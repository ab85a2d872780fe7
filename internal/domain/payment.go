package domain

import (
	"strings"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/apperror"
)

type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "dinheiro"
	PaymentPix         PaymentMethod = "pix"
	PaymentDebit       PaymentMethod = "debito"
	PaymentCredit      PaymentMethod = "credito"
	PaymentStoreCredit PaymentMethod = "conta_fiada"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentPix, PaymentDebit, PaymentCredit, PaymentStoreCredit:
		return true
	}
	return false
}

// Payment is the tender of a sale. Each variant carries exactly the data
// its method needs.
type Payment interface {
	Method() PaymentMethod
	isPayment()
}

type CashPayment struct {
	Tendered decimal.Decimal
}

type PixPayment struct{}

type DebitPayment struct{}

type CreditPayment struct{}

// StoreCreditPayment defers the sale total to the customer's conta fiada.
type StoreCreditPayment struct {
	CustomerID string
}

func (CashPayment) Method() PaymentMethod        { return PaymentCash }
func (PixPayment) Method() PaymentMethod         { return PaymentPix }
func (DebitPayment) Method() PaymentMethod       { return PaymentDebit }
func (CreditPayment) Method() PaymentMethod      { return PaymentCredit }
func (StoreCreditPayment) Method() PaymentMethod { return PaymentStoreCredit }

func (CashPayment) isPayment()        {}
func (PixPayment) isPayment()         {}
func (DebitPayment) isPayment()       {}
func (CreditPayment) isPayment()      {}
func (StoreCreditPayment) isPayment() {}

// NewPayment builds the variant for method from the flat request fields.
// It checks presence and shape only; amounts against the total are checked
// by the sale engine.
func NewPayment(method PaymentMethod, tendered *decimal.Decimal, customerID string) (Payment, error) {
	if !method.Valid() {
		return nil, apperror.NewValidation("payment_method", "payment_method must be one of dinheiro, pix, debito, credito, conta_fiada")
	}
	customerID = strings.TrimSpace(customerID)
	if method != PaymentStoreCredit && customerID != "" {
		return nil, apperror.NewValidation("customer_id", "customer_id is only accepted for conta_fiada")
	}
	if method != PaymentCash && tendered != nil {
		return nil, apperror.NewValidation("amount_tendered", "amount_tendered is only accepted for dinheiro")
	}

	switch method {
	case PaymentCash:
		if tendered == nil {
			return nil, apperror.NewValidation("amount_tendered", "amount_tendered is required for dinheiro")
		}
		if !IsMoney(*tendered) {
			return nil, apperror.NewValidation("amount_tendered", "amount_tendered must be a non-negative amount with two decimal places")
		}
		return CashPayment{Tendered: Money(*tendered)}, nil
	case PaymentPix:
		return PixPayment{}, nil
	case PaymentDebit:
		return DebitPayment{}, nil
	case PaymentStoreCredit:
		if customerID == "" {
			return nil, apperror.NewValidation("customer_id", "customer_id is required for conta_fiada")
		}
		return StoreCreditPayment{CustomerID: customerID}, nil
	default:
		return CreditPayment{}, nil
	}
}
