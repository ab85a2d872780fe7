package store

import (
	"context"
	"errors"
	"time"

	"caixa/backend/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict means a conditional update matched no row because the
	// state it guarded had already changed.
	ErrConflict = errors.New("conditional update lost")
)

// TxManager runs fn as one atomic unit of work. Repository calls made with
// the ctx handed to fn join the transaction; nested calls reuse it.
type TxManager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository is the persistence contract shared by the memory and
// PostgreSQL stores. Every read and write is scoped to a merchant.
//
// ApplyStockChange and PostAccountEntry are the only writers of stock
// quantities and balances. Each applies its delta as one checked update
// and appends the matching movement or posting.
type Repository interface {
	TxManager

	CreateProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, merchantID string, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, merchantID string, productIDs []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, merchantID string, includeDeleted bool) ([]domain.ProductListItem, error)

	// ApplyStockChange returns *apperror.AppError INSUFFICIENT_STOCK when the
	// change would drive the quantity below zero, and ErrNotFound when the
	// product is not the merchant's. Tombstoned products are accepted.
	ApplyStockChange(ctx context.Context, merchantID string, userID string, change domain.StockChange, at time.Time) (*domain.StockMovement, error)
	GetStockQuantity(ctx context.Context, merchantID string, productID string) (int, error)
	ListStockMovements(ctx context.Context, merchantID string, filter domain.MovementFilter) ([]domain.StockMovement, error)
	SumStockMovements(ctx context.Context, merchantID string, productID string) (sum int, count int, err error)

	CreateCustomer(ctx context.Context, customer domain.Customer) error
	GetCustomer(ctx context.Context, merchantID string, customerID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, merchantID string, limit int) ([]domain.Customer, error)

	// PostAccountEntry creates the ledger at zero on first use.
	PostAccountEntry(ctx context.Context, merchantID string, userID string, entry domain.AccountEntry, at time.Time) (*domain.AccountLedger, *domain.AccountPosting, error)
	GetAccount(ctx context.Context, merchantID string, customerID string) (*domain.AccountLedger, error)
	GetAccountPosting(ctx context.Context, merchantID string, postingID string) (*domain.AccountPosting, error)
	// FindSalePosting returns the original (non-reversal) posting of a sale.
	FindSalePosting(ctx context.Context, merchantID string, saleID string) (*domain.AccountPosting, error)
	// MarkPostingReversed returns ErrConflict when the posting already has a reversal.
	MarkPostingReversed(ctx context.Context, merchantID string, postingID string, reversalID string) error
	ListAccountPostings(ctx context.Context, merchantID string, customerID string, limit int) ([]domain.AccountPosting, error)
	ListOpenAccounts(ctx context.Context, merchantID string) ([]domain.OpenAccount, error)

	// InsertSale returns ErrDuplicate when the merchant already used the idempotency key.
	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, merchantID string, saleID string) (*domain.Sale, error)
	// LockSale reads the sale and holds it against concurrent cancellation
	// until the surrounding transaction ends.
	LockSale(ctx context.Context, merchantID string, saleID string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, merchantID string, key string) (*domain.Sale, error)
	// MarkSaleCancelled returns ErrConflict when the sale is no longer concluida.
	MarkSaleCancelled(ctx context.Context, merchantID string, saleID string, userID string, reason string, at time.Time) error
	ListSales(ctx context.Context, merchantID string, filter domain.SaleFilter) ([]domain.Sale, error)

	SaveDraft(ctx context.Context, draft domain.SaleDraft) error
	GetDraft(ctx context.Context, merchantID string, draftID string) (*domain.SaleDraft, error)
	ListDrafts(ctx context.Context, merchantID string, limit int) ([]domain.SaleDraft, error)
	DeleteDraft(ctx context.Context, merchantID string, draftID string) error

	GetDailyReport(ctx context.Context, merchantID string, from time.Time, to time.Time) (domain.DailyReport, error)
	TopProducts(ctx context.Context, merchantID string, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error)
	LowStock(ctx context.Context, merchantID string) ([]domain.LowStockItem, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
