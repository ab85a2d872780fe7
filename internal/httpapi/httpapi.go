// Package httpapi exposes the sale engine and both ledgers as a JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/service"
)

type HealthCheck func(ctx context.Context) error

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	health        HealthCheck
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
	}
}

// WithHealthCheck makes /healthz report the result of check.
func (a *API) WithHealthCheck(check HealthCheck) *API {
	a.health = check
	return a
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	anyRole := []string{domain.RoleCashier, domain.RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyRole...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyRole...))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, domain.RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.requireAuth(a.handleDeleteProduct, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/{id}/stock", a.requireAuth(a.handleGetStock, anyRole...))
	mux.HandleFunc("POST /api/v1/products/{id}/stock", a.requireAuth(a.handleAdjustStock, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/{id}/movements", a.requireAuth(a.handleListMovements, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers, anyRole...))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleCreateCustomer, anyRole...))
	mux.HandleFunc("GET /api/v1/customers/{id}", a.requireAuth(a.handleGetCustomer, anyRole...))
	mux.HandleFunc("GET /api/v1/customers/{id}/account", a.requireAuth(a.handleGetAccount, anyRole...))
	mux.HandleFunc("POST /api/v1/customers/{id}/account/payments", a.requireAuth(a.handleAccountPayment, anyRole...))
	mux.HandleFunc("GET /api/v1/customers/{id}/account/postings", a.requireAuth(a.handleListPostings, anyRole...))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, anyRole...))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, anyRole...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, anyRole...))
	mux.HandleFunc("POST /api/v1/sales/{id}/cancel", a.requireAuth(a.handleCancelSale, anyRole...))

	mux.HandleFunc("GET /api/v1/drafts", a.requireAuth(a.handleListDrafts, anyRole...))
	mux.HandleFunc("POST /api/v1/drafts", a.requireAuth(a.handleSaveDraft, anyRole...))
	mux.HandleFunc("GET /api/v1/drafts/{id}", a.requireAuth(a.handleGetDraft, anyRole...))
	mux.HandleFunc("PUT /api/v1/drafts/{id}", a.requireAuth(a.handleSaveDraft, anyRole...))
	mux.HandleFunc("POST /api/v1/drafts/{id}/commit", a.requireAuth(a.handleCommitDraft, anyRole...))
	mux.HandleFunc("POST /api/v1/drafts/{id}/cancel", a.requireAuth(a.handleCancelDraft, anyRole...))

	mux.HandleFunc("GET /api/v1/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/reports/top-products", a.requireAuth(a.handleTopProducts, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/reports/low-stock", a.requireAuth(a.handleLowStock, anyRole...))
	mux.HandleFunc("GET /api/v1/reports/open-accounts", a.requireAuth(a.handleOpenAccounts, domain.RoleAdmin))

	return gzhttp.GzipHandler(a.withMiddleware(mux))
}

type actorKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

// scopeOf is only called behind requireAuth, which guarantees an actor.
func scopeOf(r *http.Request) domain.Scope {
	actor, _ := ActorFromContext(r.Context())
	return actor.Scope()
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(r.Context(), w, apperror.NewUnauthorized("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(r.Context(), w, apperror.NewForbidden("role not allowed"))
			return
		}

		ctx := WithActor(r.Context(), actor)
		ctx = logger.With(ctx, "merchant_id", actor.MerchantID, "user_id", actor.UserID)
		next(w, r.WithContext(ctx))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := logger.With(r.Context(), "request_id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logger.Info(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health(ctx); err != nil {
			logger.Warn(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := a.auth.CreateUser(r.Context(), scopeOf(r).MerchantID, req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	logger.Info(r.Context(), "user created", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

// decodeBody writes the 400 itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(r.Context(), w, apperror.NewValidation("body", fmt.Sprintf("invalid JSON body: %v", err)))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps any error to its status. 5xx bodies are generic; the
// cause only goes to the log.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	body := errorBody{Code: apperror.CodeStorage, Message: "internal server error"}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && status < 500 {
		body = errorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	}
	if status >= 500 {
		logger.Error(ctx, "request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
