package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SalePendente  SaleStatus = "pendente"
	SaleConcluida SaleStatus = "concluida"
	SaleCancelada SaleStatus = "cancelada"
	// SaleContaFiada is a reporting status only; it is never stored.
	SaleContaFiada SaleStatus = "conta_fiada"
)

type SaleItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	// UnitPrice is accepted for display parity with the client and ignored:
	// the catalog price at commit time always wins.
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleCreateRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Items          []SaleItemRequest `json:"items"`
	PaymentMethod  PaymentMethod     `json:"payment_method"`
	AmountTendered *decimal.Decimal  `json:"amount_tendered,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Discount       decimal.Decimal   `json:"discount"`
	Notes          string            `json:"notes,omitempty"`
}

type SaleLineItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Sale struct {
	ID             string           `json:"id"`
	MerchantID     string           `json:"merchant_id"`
	UserID         string           `json:"user_id"`
	CustomerID     string           `json:"customer_id,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
	RequestHash    string           `json:"-"`
	Items          []SaleLineItem   `json:"items"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	Discount       decimal.Decimal  `json:"discount"`
	Total          decimal.Decimal  `json:"total"`
	PaymentMethod  PaymentMethod    `json:"payment_method"`
	AmountTendered *decimal.Decimal `json:"amount_tendered,omitempty"`
	Change         *decimal.Decimal `json:"change,omitempty"`
	Status         SaleStatus       `json:"status"`
	Notes          string           `json:"notes,omitempty"`
	CancelReason   string           `json:"cancel_reason,omitempty"`
	CancelledBy    string           `json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ReportStatus folds payment method into status for reporting views.
func (s Sale) ReportStatus() SaleStatus {
	if s.Status == SaleConcluida && s.PaymentMethod == PaymentStoreCredit {
		return SaleContaFiada
	}
	return s.Status
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type SaleCancelRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type SaleFilter struct {
	From          time.Time
	To            time.Time
	Status        SaleStatus
	PaymentMethod PaymentMethod
	CustomerID    string
	Limit         int
}

type DraftItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// SaleDraft is a parked cart. It has no stock or account effects until committed.
type SaleDraft struct {
	ID            string          `json:"id"`
	MerchantID    string          `json:"merchant_id"`
	UserID        string          `json:"user_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	Discount      decimal.Decimal `json:"discount"`
	Notes         string          `json:"notes,omitempty"`
	Items         []DraftItem     `json:"items"`
	Status        SaleStatus      `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type DraftSaveRequest struct {
	Items         []DraftItem     `json:"items"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Discount      decimal.Decimal `json:"discount"`
	Notes         string          `json:"notes,omitempty"`
}

type DraftCommitRequest struct {
	PaymentMethod  PaymentMethod    `json:"payment_method,omitempty"`
	AmountTendered *decimal.Decimal `json:"amount_tendered,omitempty"`
	CustomerID     string           `json:"customer_id,omitempty"`
}
