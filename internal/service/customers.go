package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

func (s *Service) CreateCustomer(ctx context.Context, scope domain.Scope, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if err := validateScope(scope); err != nil {
		return domain.Customer{}, err
	}
	ctx = scopedLogger(ctx, scope)

	customer := domain.Customer{
		ID:         xid.New("cli"),
		MerchantID: scope.MerchantID,
		Name:       strings.TrimSpace(req.Name),
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		Document:   strings.TrimSpace(req.Document),
		CreatedAt:  s.now(),
	}
	if customer.Name == "" {
		return domain.Customer{}, apperror.NewValidation("name", "name is required")
	}
	if customer.Email != "" {
		if _, err := mail.ParseAddress(customer.Email); err != nil {
			return domain.Customer{}, apperror.NewValidation("email", "email is not valid")
		}
	}

	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return domain.Customer{}, s.fail(ctx, "create customer", err)
	}
	logger.Info(ctx, "customer created", "customer_id", customer.ID)
	return customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, scope domain.Scope, customerID string) (domain.Customer, error) {
	if err := validateMerchant(scope); err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, scope.MerchantID, strings.TrimSpace(customerID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Customer{}, apperror.NewCustomerNotFound(customerID)
	}
	if err != nil {
		return domain.Customer{}, s.fail(ctx, "get customer", err)
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, scope domain.Scope, limit int) ([]domain.Customer, error) {
	if err := validateMerchant(scope); err != nil {
		return nil, err
	}
	customers, err := s.repo.ListCustomers(ctx, scope.MerchantID, limit)
	if err != nil {
		return nil, s.fail(ctx, "list customers", err)
	}
	return customers, nil
}
