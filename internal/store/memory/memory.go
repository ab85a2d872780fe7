// Package memory is the in-process Repository used by tests and by the
// server when no DATABASE_URL is configured.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	stock           map[string]map[string]int
	movements       []domain.StockMovement
	customers       map[string]domain.Customer
	accounts        map[string]domain.AccountLedger
	postings        []domain.AccountPosting
	postingIndex    map[string]int
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]string
	drafts          map[string]domain.SaleDraft
	usersByUsername map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		stock:           make(map[string]map[string]int),
		movements:       make([]domain.StockMovement, 0, 128),
		customers:       make(map[string]domain.Customer),
		accounts:        make(map[string]domain.AccountLedger),
		postings:        make([]domain.AccountPosting, 0, 64),
		postingIndex:    make(map[string]int),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]string),
		drafts:          make(map[string]domain.SaleDraft),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

type txKey struct{}

// txState is one unit of work. It holds the store's write lock for its
// whole lifetime and records an undo step for every mutation.
type txState struct {
	owner *Store
	undo  []func()
	done  bool
}

func (tx *txState) onRollback(fn func()) {
	if tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func (tx *txState) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.activeTx(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txState{owner: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			tx.done = true
			panic(p)
		}
	}()

	err := fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		tx.rollback()
	}
	tx.done = true
	return err
}

func (s *Store) activeTx(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	if tx == nil || tx.owner != s || tx.done {
		return nil
	}
	return tx
}

// write takes the write lock unless ctx already runs inside a transaction
// of this store, which holds it.
func (s *Store) write(ctx context.Context) (*txState, func()) {
	if tx := s.activeTx(ctx); tx != nil {
		return tx, func() {}
	}
	s.mu.Lock()
	return nil, s.mu.Unlock
}

func (s *Store) read(ctx context.Context) func() {
	if s.activeTx(ctx) != nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	if _, exists := s.products[product.ID]; exists {
		return store.ErrDuplicate
	}
	s.products[product.ID] = product
	tx.onRollback(func() { delete(s.products, product.ID) })
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	prev, exists := s.products[product.ID]
	if !exists || prev.MerchantID != product.MerchantID {
		return store.ErrNotFound
	}
	s.products[product.ID] = product
	tx.onRollback(func() { s.products[product.ID] = prev })
	return nil
}

func (s *Store) GetProduct(ctx context.Context, merchantID string, productID string) (*domain.Product, error) {
	defer s.read(ctx)()

	product, ok := s.products[productID]
	if !ok || product.MerchantID != merchantID {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, merchantID string, productIDs []string) (map[string]domain.Product, error) {
	defer s.read(ctx)()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok && product.MerchantID == merchantID {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(ctx context.Context, merchantID string, includeDeleted bool) ([]domain.ProductListItem, error) {
	defer s.read(ctx)()

	items := make([]domain.ProductListItem, 0, len(s.products))
	for _, product := range s.products {
		if product.MerchantID != merchantID || (product.Deleted && !includeDeleted) {
			continue
		}
		items = append(items, domain.ProductListItem{
			Product:  product,
			Quantity: s.stock[merchantID][product.ID],
		})
	}
	slices.SortFunc(items, func(a, b domain.ProductListItem) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	if _, exists := s.customers[customer.ID]; exists {
		return store.ErrDuplicate
	}
	s.customers[customer.ID] = customer
	tx.onRollback(func() { delete(s.customers, customer.ID) })
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, merchantID string, customerID string) (*domain.Customer, error) {
	defer s.read(ctx)()

	customer, ok := s.customers[customerID]
	if !ok || customer.MerchantID != merchantID {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, merchantID string, limit int) ([]domain.Customer, error) {
	defer s.read(ctx)()

	result := make([]domain.Customer, 0, 32)
	for _, customer := range s.customers {
		if customer.MerchantID == merchantID {
			result = append(result, customer)
		}
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	tx, unlock := s.write(ctx)
	defer unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	tx.onRollback(func() { delete(s.usersByUsername, username) })
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	defer s.read(ctx)()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func accountKey(merchantID string, customerID string) string {
	return merchantID + "|" + customerID
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func newestFirst(aAt time.Time, aID string, bAt time.Time, bID string) int {
	if aAt.Equal(bAt) {
		return cmpString(bID, aID)
	}
	if aAt.After(bAt) {
		return -1
	}
	return 1
}
