package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DailyReport struct {
	MerchantID string              `json:"merchant_id"`
	Date       string              `json:"date"`
	Sales      int                 `json:"sales"`
	Cancelled  int                 `json:"cancelled"`
	ItemsSold  int                 `json:"items_sold"`
	Gross      decimal.Decimal     `json:"gross"`
	Discount   decimal.Decimal     `json:"discount"`
	Net        decimal.Decimal     `json:"net"`
	ByPayment  []ReportPaymentLine `json:"by_payment"`
	ByStatus   []ReportStatusLine  `json:"by_status"`
}

type ReportPaymentLine struct {
	Method PaymentMethod   `json:"method"`
	Sales  int             `json:"sales"`
	Total  decimal.Decimal `json:"total"`
}

type ReportStatusLine struct {
	Status SaleStatus      `json:"status"`
	Sales  int             `json:"sales"`
	Total  decimal.Decimal `json:"total"`
}

type TopProduct struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type LowStockItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	MinStock  int    `json:"min_stock"`
}

type OpenAccount struct {
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Balance      decimal.Decimal `json:"balance"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type OpenAccountsReport struct {
	Accounts        []OpenAccount   `json:"accounts"`
	TotalReceivable decimal.Decimal `json:"total_receivable"`
}
