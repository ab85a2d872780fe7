package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountAtiva   AccountStatus = "ativa"
	AccountQuitada AccountStatus = "quitada"
)

// StatusForBalance derives the display status: a positive balance means the
// customer owes the merchant.
func StatusForBalance(balance decimal.Decimal) AccountStatus {
	if balance.IsPositive() {
		return AccountAtiva
	}
	return AccountQuitada
}

// AccountLedger is the conta fiada of one customer at one merchant.
type AccountLedger struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	MerchantID  string          `json:"merchant_id"`
	Balance     decimal.Decimal `json:"balance"`
	Description string          `json:"description,omitempty"`
	Status      AccountStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type AccountPosting struct {
	ID            string          `json:"id"`
	LedgerID      string          `json:"ledger_id"`
	CustomerID    string          `json:"customer_id"`
	MerchantID    string          `json:"merchant_id"`
	UserID        string          `json:"user_id"`
	SaleID        string          `json:"sale_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Memo          string          `json:"memo,omitempty"`
	ReversesID    string          `json:"reverses_id,omitempty"`
	ReversedByID  string          `json:"reversed_by_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AccountEntry is a posting request. Positive Amount is new debt, negative is a payment.
type AccountEntry struct {
	CustomerID string
	Amount     decimal.Decimal
	Memo       string
	SaleID     string
	ReversesID string
}

type AccountPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo"`
}

type AccountPostingResponse struct {
	Account AccountLedger  `json:"account"`
	Posting AccountPosting `json:"posting"`
}
