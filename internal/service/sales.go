package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

const (
	maxIdempotencyKeyLength = 128
	// maxQuantity bounds one line or stock change to the persisted INTEGER range.
	maxQuantity = math.MaxInt32
)

type saleLine struct {
	ProductID   string
	Quantity    int
	minQuantity int
	tooLarge    bool
}

// CreateSale validates, prices and commits a sale together with its stock
// movements and, for conta_fiada, the account posting. A replay of the same
// idempotency key with the same request returns the original sale.
func (s *Service) CreateSale(ctx context.Context, scope domain.Scope, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	return s.createSale(ctx, scope, req, nil)
}

// createSale runs the sale unit of work. withinUnit, when set, runs inside
// the same transaction after every ledger effect; its error rolls the sale back.
func (s *Service) createSale(ctx context.Context, scope domain.Scope, req domain.SaleCreateRequest, withinUnit func(ctx context.Context, sale *domain.Sale) error) (domain.SaleResponse, error) {
	if err := validateScope(scope); err != nil {
		return domain.SaleResponse{}, err
	}
	ctx = scopedLogger(ctx, scope)

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return domain.SaleResponse{}, apperror.NewValidation("idempotency_key", "idempotency_key is required")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return domain.SaleResponse{}, apperror.NewValidation("idempotency_key", "idempotency_key is too long")
	}

	lines := mergeSaleLines(req.Items)
	hash := requestHash(req, lines)

	if resp, ok, err := s.replaySale(ctx, scope, req.IdempotencyKey, hash); err != nil || ok {
		return resp, err
	}

	var created *domain.Sale
	err := s.inTransaction(ctx, "create_sale", func(ctx context.Context) error {
		sale, err := s.priceSale(ctx, scope, req, lines)
		if err != nil {
			return err
		}
		sale.RequestHash = hash

		if err := s.repo.InsertSale(ctx, *sale); err != nil {
			return err
		}
		for _, item := range byProductID(sale.Items) {
			if _, err := s.applyStock(ctx, scope, domain.StockChange{
				ProductID: item.ProductID,
				Kind:      domain.MovementSaida,
				Quantity:  item.Quantity,
				Reason:    reasonSale,
				SaleID:    sale.ID,
			}); err != nil {
				return err
			}
		}
		if sale.PaymentMethod == domain.PaymentStoreCredit && sale.Total.IsPositive() {
			if _, _, err := s.post(ctx, scope, domain.AccountEntry{
				CustomerID: sale.CustomerID,
				Amount:     sale.Total,
				Memo:       "venda " + sale.ID,
				SaleID:     sale.ID,
			}); err != nil {
				return err
			}
		}
		if withinUnit != nil {
			if err := withinUnit(ctx, sale); err != nil {
				return err
			}
		}
		created = sale
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		resp, ok, replayErr := s.replaySale(ctx, scope, req.IdempotencyKey, hash)
		if replayErr != nil || ok {
			return resp, replayErr
		}
	}
	if err != nil {
		return domain.SaleResponse{}, s.fail(ctx, "create sale", err)
	}

	if err := s.replay.Set(ctx, cache.SaleReplayKey(scope.MerchantID, created.IdempotencyKey), &cache.SaleReplay{
		Sale:        *created,
		RequestHash: hash,
	}, s.replayTTL); err != nil {
		logger.Warn(ctx, "sale replay cache write failed", "sale_id", created.ID, "error", err)
	}

	logger.Info(ctx, "sale committed",
		"sale_id", created.ID,
		"total", created.Total.StringFixed(domain.MoneyPlaces),
		"payment_method", created.PaymentMethod,
		"items", len(created.Items),
	)
	return domain.SaleResponse{Sale: *created}, nil
}

// CancelSale restores stock with entrada movements and reverses the
// conta fiada posting of the sale. The sale itself is kept as cancelada.
func (s *Service) CancelSale(ctx context.Context, scope domain.Scope, saleID string, reason string) (domain.Sale, error) {
	if err := validateScope(scope); err != nil {
		return domain.Sale{}, err
	}
	ctx = scopedLogger(ctx, scope)
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, apperror.NewValidation("sale_id", "sale_id is required")
	}
	reason = defaultString(reason, "cancelamento")

	var cancelled *domain.Sale
	err := s.inTransaction(ctx, "cancel_sale", func(ctx context.Context) error {
		sale, err := s.repo.LockSale(ctx, scope.MerchantID, saleID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NewNotFound("sale", saleID)
		}
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleCancelada {
			return apperror.NewAlreadyCancelled("sale", saleID)
		}

		for _, item := range byProductID(sale.Items) {
			if _, err := s.applyStock(ctx, scope, domain.StockChange{
				ProductID: item.ProductID,
				Kind:      domain.MovementEntrada,
				Quantity:  item.Quantity,
				Reason:    reasonSaleCancel,
				SaleID:    sale.ID,
			}); err != nil {
				return err
			}
		}

		if sale.PaymentMethod == domain.PaymentStoreCredit && sale.Total.IsPositive() {
			posting, err := s.repo.FindSalePosting(ctx, scope.MerchantID, sale.ID)
			if errors.Is(err, store.ErrNotFound) {
				return apperror.NewAccountNotFound(sale.CustomerID)
			}
			if err != nil {
				return err
			}
			if _, _, err := s.reverse(ctx, scope, posting.ID, "estorno da venda "+sale.ID); err != nil {
				return err
			}
		}

		err = s.repo.MarkSaleCancelled(ctx, scope.MerchantID, sale.ID, scope.UserID, reason, s.now())
		if errors.Is(err, store.ErrConflict) {
			return apperror.NewAlreadyCancelled("sale", saleID)
		}
		if err != nil {
			return err
		}

		cancelled, err = s.repo.GetSale(ctx, scope.MerchantID, sale.ID)
		return err
	})
	if err != nil {
		return domain.Sale{}, s.fail(ctx, "cancel sale", err)
	}

	if err := s.replay.Delete(ctx, cache.SaleReplayKey(scope.MerchantID, cancelled.IdempotencyKey)); err != nil {
		logger.Warn(ctx, "sale replay cache eviction failed", "sale_id", cancelled.ID, "error", err)
	}

	logger.Info(ctx, "sale cancelled",
		"sale_id", cancelled.ID,
		"total", cancelled.Total.StringFixed(domain.MoneyPlaces),
		"payment_method", cancelled.PaymentMethod,
		"reason", reason,
	)
	return *cancelled, nil
}

func (s *Service) GetSale(ctx context.Context, scope domain.Scope, saleID string) (domain.Sale, error) {
	if err := validateMerchant(scope); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, scope.MerchantID, strings.TrimSpace(saleID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, apperror.NewNotFound("sale", saleID)
	}
	if err != nil {
		return domain.Sale{}, s.fail(ctx, "get sale", err)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, scope domain.Scope, filter domain.SaleFilter) ([]domain.Sale, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	switch filter.Status {
	case "", domain.SaleConcluida, domain.SaleCancelada, domain.SaleContaFiada:
	default:
		return nil, apperror.NewValidation("status", "status must be one of concluida, cancelada, conta_fiada")
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return nil, apperror.NewValidation("payment_method", "unknown payment_method")
	}

	sales, err := s.repo.ListSales(ctx, scope.MerchantID, filter)
	if err != nil {
		return nil, s.fail(ctx, "list sales", err)
	}
	return sales, nil
}

// priceSale runs the validation steps in their fixed order and snapshots
// catalog prices into the line items.
func (s *Service) priceSale(ctx context.Context, scope domain.Scope, req domain.SaleCreateRequest, lines []saleLine) (*domain.Sale, error) {
	if len(lines) == 0 {
		return nil, apperror.NewValidation("items", "at least one item is required")
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductID != "" {
			ids = append(ids, line.ProductID)
		}
	}
	products, err := s.repo.GetProductsByIDs(ctx, scope.MerchantID, ids)
	if err != nil {
		return nil, err
	}
	for i, line := range lines {
		field := fmt.Sprintf("items[%d].product_id", i)
		if line.ProductID == "" {
			return nil, apperror.NewValidation(field, "product_id is required")
		}
		if product, ok := products[line.ProductID]; !ok || product.Deleted {
			return nil, apperror.NewValidation(field, fmt.Sprintf("product %s is not available", line.ProductID))
		}
	}
	for i, line := range lines {
		if line.minQuantity < 1 {
			return nil, apperror.NewValidation(fmt.Sprintf("items[%d].quantity", i), "quantity must be at least 1")
		}
		if line.tooLarge {
			return nil, apperror.NewValidation(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("quantity must not exceed %d", maxQuantity))
		}
	}

	payment, err := domain.NewPayment(req.PaymentMethod, req.AmountTendered, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if credit, ok := payment.(domain.StoreCreditPayment); ok {
		if err := s.requireCustomer(ctx, scope, credit.CustomerID); err != nil {
			return nil, err
		}
	}

	saleID := xid.New("vnd")
	subtotal := decimal.Zero
	items := make([]domain.SaleLineItem, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		lineSubtotal := domain.Money(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, domain.SaleLineItem{
			ID:          xid.New("itm"),
			SaleID:      saleID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   product.Price,
			Subtotal:    lineSubtotal,
		})
		subtotal = subtotal.Add(lineSubtotal)
	}

	if !domain.IsMoney(req.Discount) {
		return nil, apperror.NewValidation("discount", "discount must be a non-negative amount with two decimal places")
	}
	if req.Discount.GreaterThan(subtotal) {
		return nil, apperror.NewValidation("discount", "discount must not exceed the subtotal of "+subtotal.StringFixed(domain.MoneyPlaces))
	}

	total := subtotal.Sub(req.Discount)

	sale := &domain.Sale{
		ID:             saleID,
		MerchantID:     scope.MerchantID,
		UserID:         scope.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
		Subtotal:       subtotal,
		Discount:       domain.Money(req.Discount),
		Total:          domain.Money(total),
		PaymentMethod:  payment.Method(),
		Status:         domain.SaleConcluida,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      s.now(),
	}

	switch p := payment.(type) {
	case domain.CashPayment:
		if p.Tendered.LessThan(total) {
			return nil, apperror.NewValidation("amount_tendered", "amount_tendered must cover the total of "+total.StringFixed(domain.MoneyPlaces))
		}
		tendered := p.Tendered
		change := domain.Money(p.Tendered.Sub(total))
		sale.AmountTendered = &tendered
		sale.Change = &change
	case domain.StoreCreditPayment:
		sale.CustomerID = p.CustomerID
	}

	return sale, nil
}

// replaySale answers a repeated idempotency key from the cache or storage.
func (s *Service) replaySale(ctx context.Context, scope domain.Scope, key string, hash string) (domain.SaleResponse, bool, error) {
	cached, ok, err := s.replay.Get(ctx, cache.SaleReplayKey(scope.MerchantID, key))
	if err != nil {
		logger.Warn(ctx, "sale replay cache read failed", "idempotency_key", key, "error", err)
	}
	if err == nil && ok && cached.Sale.MerchantID == scope.MerchantID {
		if cached.RequestHash != hash {
			return domain.SaleResponse{}, true, apperror.NewIdempotencyMismatch(key)
		}
		return domain.SaleResponse{Sale: cached.Sale, Duplicate: true}, true, nil
	}

	existing, err := s.repo.FindSaleByIdempotency(ctx, scope.MerchantID, key)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, false, nil
	}
	if err != nil {
		return domain.SaleResponse{}, true, s.fail(ctx, "replay sale", err)
	}
	if existing.RequestHash != hash {
		return domain.SaleResponse{}, true, apperror.NewIdempotencyMismatch(key)
	}
	return domain.SaleResponse{Sale: *existing, Duplicate: true}, true, nil
}

// mergeSaleLines folds repeated products into one line, keeping the order
// of first appearance. Lines without a product id are kept as they are.
func mergeSaleLines(items []domain.SaleItemRequest) []saleLine {
	lines := make([]saleLine, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if i, ok := index[productID]; ok && productID != "" {
			sum, ok := addQuantity(lines[i].Quantity, item.Quantity)
			lines[i].Quantity = sum
			lines[i].tooLarge = lines[i].tooLarge || !ok
			lines[i].minQuantity = min(lines[i].minQuantity, item.Quantity)
			continue
		}
		index[productID] = len(lines)
		lines = append(lines, saleLine{ProductID: productID, Quantity: item.Quantity, minQuantity: item.Quantity, tooLarge: item.Quantity > maxQuantity})
	}
	return lines
}

// addQuantity sums two line quantities and reports false when the sum
// leaves the 1..maxQuantity range.
func addQuantity(a int, b int) (int, bool) {
	if a > maxQuantity || b > maxQuantity || a+b > maxQuantity {
		return maxQuantity, false
	}
	return a + b, true
}

// requestHash fingerprints everything that changes the outcome of a sale.
// Client unit prices are excluded because they are ignored.
func requestHash(req domain.SaleCreateRequest, lines []saleLine) string {
	type hashedLine struct {
		ProductID string `json:"p"`
		Quantity  int    `json:"q"`
	}
	sorted := make([]hashedLine, 0, len(lines))
	for _, line := range lines {
		sorted = append(sorted, hashedLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	slices.SortFunc(sorted, func(a, b hashedLine) int {
		if a.ProductID == b.ProductID {
			return a.Quantity - b.Quantity
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})

	tendered := ""
	if req.AmountTendered != nil {
		tendered = req.AmountTendered.StringFixed(domain.MoneyPlaces)
	}
	payload, _ := json.Marshal(struct {
		Items    []hashedLine         `json:"i"`
		Method   domain.PaymentMethod `json:"m"`
		Tendered string               `json:"t"`
		Customer string               `json:"c"`
		Discount string               `json:"d"`
		Notes    string               `json:"n"`
	}{
		Items:    sorted,
		Method:   req.PaymentMethod,
		Tendered: tendered,
		Customer: strings.TrimSpace(req.CustomerID),
		Discount: req.Discount.StringFixed(domain.MoneyPlaces),
		Notes:    strings.TrimSpace(req.Notes),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// byProductID orders stock writes so concurrent multi-item sales lock rows
// in the same order.
func byProductID(items []domain.SaleLineItem) []domain.SaleLineItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b domain.SaleLineItem) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}
