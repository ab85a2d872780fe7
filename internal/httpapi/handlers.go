package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/logger"
)

const dateLayout = "2006-01-02"

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	includeDeleted := r.URL.Query().Get("include_deleted") == "true" && actor.Role == domain.RoleAdmin

	products, err := a.service.ListProducts(r.Context(), actor.Scope(), includeDeleted)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	product, err := a.service.CreateProduct(r.Context(), scopeOf(r), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), scopeOf(r), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), scopeOf(r), r.PathValue("id"), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), scopeOf(r), r.PathValue("id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetStock(w http.ResponseWriter, r *http.Request) {
	rec, err := a.service.Reconcile(r.Context(), scopeOf(r), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if !decodeBody(w, r, &req) {
		return
	}

	movement, err := a.service.AdjustStock(r.Context(), scopeOf(r), r.PathValue("id"), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	movements, err := a.service.Movements(r.Context(), scopeOf(r), domain.MovementFilter{
		ProductID: r.PathValue("id"),
		SaleID:    strings.TrimSpace(r.URL.Query().Get("sale_id")),
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500),
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": movements})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context(), scopeOf(r), parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	customer, err := a.service.CreateCustomer(r.Context(), scopeOf(r), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), scopeOf(r), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.service.Account(r.Context(), scopeOf(r), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleAccountPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := a.service.RecordPayment(r.Context(), scopeOf(r), r.PathValue("id"), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListPostings(w http.ResponseWriter, r *http.Request) {
	postings, err := a.service.Postings(r.Context(), scopeOf(r), r.PathValue("id"), parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": postings})
}

// handleCreateSale accepts the idempotency key in the body or in the
// Idempotency-Key header. When both are present they must agree.
func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if header := strings.TrimSpace(r.Header.Get("Idempotency-Key")); header != "" {
		body := strings.TrimSpace(req.IdempotencyKey)
		if body != "" && body != header {
			writeError(r.Context(), w, apperror.NewValidation("idempotency_key", "body and Idempotency-Key header disagree"))
			return
		}
		req.IdempotencyKey = header
	}

	resp, err := a.service.CreateSale(r.Context(), scopeOf(r), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	query := r.URL.Query()

	sales, err := a.service.ListSales(r.Context(), scopeOf(r), domain.SaleFilter{
		From:          from,
		To:            to,
		Status:        domain.SaleStatus(strings.TrimSpace(query.Get("status"))),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(query.Get("payment_method"))),
		CustomerID:    strings.TrimSpace(query.Get("customer_id")),
		Limit:         parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), scopeOf(r), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		logger.Warn(r.Context(), "sale cancel rejected, invalid manager pin", "sale_id", r.PathValue("id"))
		writeError(r.Context(), w, apperror.NewForbidden("invalid manager pin"))
		return
	}

	sale, err := a.service.CancelSale(r.Context(), scopeOf(r), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := a.service.ListDrafts(r.Context(), scopeOf(r), parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": drafts})
}

// handleSaveDraft creates a draft on POST /drafts and replaces one on
// PUT /drafts/{id}.
func (a *API) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req domain.DraftSaveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	draftID := r.PathValue("id")
	draft, err := a.service.SaveDraft(r.Context(), scopeOf(r), draftID, req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if draftID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, draft)
}

func (a *API) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := a.service.GetDraft(r.Context(), scopeOf(r), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (a *API) handleCommitDraft(w http.ResponseWriter, r *http.Request) {
	var req domain.DraftCommitRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, apperror.NewValidation("body", "invalid JSON body: "+err.Error()))
		return
	}

	resp, err := a.service.CommitDraft(r.Context(), scopeOf(r), r.PathValue("id"), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleCancelDraft(w http.ResponseWriter, r *http.Request) {
	if err := a.service.CancelOpenDraft(r.Context(), scopeOf(r), r.PathValue("id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.DailyReport(r.Context(), scopeOf(r), r.URL.Query().Get("date"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	top, err := a.service.TopProducts(r.Context(), scopeOf(r), query.Get("from"), query.Get("to"),
		parsePositiveLimit(query.Get("limit"), 10, 100))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": top})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.LowStock(r.Context(), scopeOf(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleOpenAccounts(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.OpenAccounts(r.Context(), scopeOf(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// parseDateRange reads optional from/to dates (YYYY-MM-DD, both inclusive)
// and returns the half-open UTC interval [from, to+1d).
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperror.NewValidation("from", "expected a date as YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperror.NewValidation("to", "expected a date as YYYY-MM-DD")
		}
		to = parsed.UTC().Add(24 * time.Hour)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, apperror.NewValidation("from", "from must not be after to")
	}
	return from, to, nil
}
