package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/service"
	"caixa/backend/internal/store/memory"
)

type testEnv struct {
	api          *API
	handler      http.Handler
	adminToken   string
	cashierToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	auth := NewAuthManager(testSecret, time.Hour, "7391", repo)
	svc := service.New(repo, cache.NoopSaleReplayCache{}, 0)

	_, err := auth.EnsureAdmin(ctx, "mrc_test", "admin", "senha-admin-1")
	require.NoError(t, err)
	_, err = auth.CreateUser(ctx, "mrc_test", domain.UserCreateRequest{Username: "operador", Password: "senha-caixa-1"})
	require.NoError(t, err)

	api := New(svc, auth, "http://localhost:5173")
	env := &testEnv{api: api, handler: api.Handler()}
	env.adminToken = env.login(t, "admin", "senha-admin-1")
	env.cashierToken = env.login(t, "operador", "senha-caixa-1")
	return env
}

func (e *testEnv) login(t *testing.T, username string, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": username, "password": password}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func (e *testEnv) do(t *testing.T, method string, path string, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createProduct(t *testing.T, name string, price string, stock int) domain.Product {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/products", e.adminToken, map[string]any{
		"name": name, "price": price, "min_stock": 1, "initial_stock": stock,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var product domain.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	return product
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/healthz", "", nil, map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodOptions, "/api/v1/sales", "", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestHealthReportsFailingDependency(t *testing.T) {
	env := newTestEnv(t)
	env.api.WithHealthCheck(func(context.Context) error { return errors.New("database down") })
	handler := env.api.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthRequiredAndRoleChecks(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/products", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/v1/products", "not-a-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/products", env.cashierToken, map[string]any{"name": "Pao", "price": "1.00"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/reports/daily", env.cashierToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/reports/low-stock", env.cashierToken, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "errada-123"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"username": "novo-caixa", "password": "senha-nova-1"}

	rec := env.do(t, http.MethodPost, "/api/v1/users", env.cashierToken, body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/users", env.adminToken, body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "$2a$")

	rec = env.do(t, http.MethodPost, "/api/v1/users", env.adminToken, body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeRejectsUnknownFieldsAndBadJSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/customers", env.cashierToken, map[string]any{"name": "Ana", "saldo": 10}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", errBody.Code)
	assert.Equal(t, "body", errBody.Details["field"])

	rec = env.do(t, http.MethodPost, "/api/v1/customers", env.cashierToken, "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	product := env.createProduct(t, "Cafe 500g", "18.90", 5)

	sale := map[string]any{
		"items":           []map[string]any{{"product_id": product.ID, "quantity": 2}},
		"payment_method":  "dinheiro",
		"amount_tendered": "50.00",
		"discount":        "0.00",
	}
	headers := map[string]string{"Idempotency-Key": "caixa1-0001"}

	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.cashierToken, sale, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.False(t, created.Duplicate)
	assert.Equal(t, "37.80", created.Sale.Total.StringFixed(2))
	require.NotNil(t, created.Sale.Change)
	assert.Equal(t, "12.20", created.Sale.Change.StringFixed(2))

	rec = env.do(t, http.MethodPost, "/api/v1/sales", env.cashierToken, sale, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var replayed domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	assert.True(t, replayed.Duplicate)
	assert.Equal(t, created.Sale.ID, replayed.Sale.ID)

	mismatched := map[string]any{
		"idempotency_key": "outra-chave",
		"items":           []map[string]any{{"product_id": product.ID, "quantity": 1}},
		"payment_method":  "pix",
	}
	rec = env.do(t, http.MethodPost, "/api/v1/sales", env.cashierToken, mismatched, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/products/"+product.ID+"/stock", env.cashierToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stock domain.StockReconciliation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stock))
	assert.Equal(t, 3, stock.Quantity)
	assert.True(t, stock.Consistent)

	cancelPath := "/api/v1/sales/" + created.Sale.ID + "/cancel"
	rec = env.do(t, http.MethodPost, cancelPath, env.cashierToken, map[string]string{"reason": "cliente desistiu", "manager_pin": "0000"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, cancelPath, env.cashierToken, map[string]string{"reason": "cliente desistiu", "manager_pin": "7391"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled domain.Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, domain.SaleCancelada, cancelled.Status)

	rec = env.do(t, http.MethodPost, cancelPath, env.cashierToken, map[string]string{"reason": "de novo", "manager_pin": "7391"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CANCELLED", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/v1/products/"+product.ID+"/movements", env.adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var movements struct {
		Items []domain.StockMovement `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &movements))
	assert.Len(t, movements.Items, 3)
}

func TestInsufficientStockReturnsConflictWithDetails(t *testing.T) {
	env := newTestEnv(t)
	product := env.createProduct(t, "Leite 1L", "5.49", 1)

	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.cashierToken, map[string]any{
		"idempotency_key": "caixa1-0002",
		"items":           []map[string]any{{"product_id": product.ID, "quantity": 3}},
		"payment_method":  "pix",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	errBody := decodeError(t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", errBody.Code)
	assert.Equal(t, product.ID, errBody.Details["product_id"])
	assert.EqualValues(t, 1, errBody.Details["available"])
}

func TestFiadoSaleAndPaymentOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	product := env.createProduct(t, "Arroz 5kg", "25.00", 10)

	rec := env.do(t, http.MethodPost, "/api/v1/customers", env.cashierToken, map[string]any{"name": "Dona Rosa", "phone": "11999990000"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var customer domain.Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &customer))

	accountPath := "/api/v1/customers/" + customer.ID + "/account"
	rec = env.do(t, http.MethodGet, accountPath, env.cashierToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sales", env.cashierToken, map[string]any{
		"idempotency_key": "caixa1-0003",
		"items":           []map[string]any{{"product_id": product.ID, "quantity": 2}},
		"payment_method":  "conta_fiada",
		"customer_id":     customer.ID,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, accountPath+"/payments", env.cashierToken, map[string]any{"amount": "20.00"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var paid domain.AccountPostingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	assert.Equal(t, "30.00", paid.Account.Balance.StringFixed(2))
	assert.Equal(t, domain.AccountAtiva, paid.Account.Status)

	rec = env.do(t, http.MethodGet, accountPath+"/postings", env.cashierToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var postings struct {
		Items []domain.AccountPosting `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &postings))
	assert.Len(t, postings.Items, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/reports/open-accounts", env.adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), customer.ID)
}

func TestDraftCommitOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	product := env.createProduct(t, "Feijao 1kg", "8.50", 4)

	rec := env.do(t, http.MethodPost, "/api/v1/drafts", env.cashierToken, map[string]any{
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 1}},
		"payment_method": "pix",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var draft domain.SaleDraft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))

	rec = env.do(t, http.MethodPut, "/api/v1/drafts/"+draft.ID, env.cashierToken, map[string]any{
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 3}},
		"payment_method": "pix",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	commitPath := "/api/v1/drafts/" + draft.ID + "/commit"
	rec = env.do(t, http.MethodPost, commitPath, env.cashierToken, nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var committed domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &committed))
	assert.Equal(t, "25.50", committed.Sale.Total.StringFixed(2))

	rec = env.do(t, http.MethodPost, commitPath, env.cashierToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var again domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.True(t, again.Duplicate)
	assert.Equal(t, committed.Sale.ID, again.Sale.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/drafts/"+draft.ID, env.cashierToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDateRangeValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/sales?from=2026-13-01", env.cashierToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "from", decodeError(t, rec).Details["field"])

	rec = env.do(t, http.MethodGet, "/api/v1/sales?from=2026-03-10&to=2026-03-01", env.cashierToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sales?from=2026-03-01&to=2026-03-01", env.cashierToken, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(context.Background(), rec, errors.New("pq: password authentication failed for user caixa"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password authentication")
	assert.Equal(t, "STORAGE_ERROR", decodeError(t, rec).Code)
}
