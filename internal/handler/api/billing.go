// Package api holds the JSON handlers for the administrative billing API.
package api

import (
	"net/http"

	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/handler"
	"github.com/dukerupert/tuition/internal/service"
)

// BillingHandler serves invoice creation, customer mapping and the per-student
// read endpoints.
type BillingHandler struct {
	billing service.BillingService
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(billing service.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// createInvoiceRequest is the body of POST /api/invoices.
type createInvoiceRequest struct {
	OrganizationID string `json:"organizationId" validate:"required,max=128"`
	StudentID      string `json:"studentId" validate:"required,max=128"`
	ParentID       string `json:"parentId" validate:"omitempty,max=128"`
	Amount         string `json:"amount" validate:"required,max=32,numeric"`
	Description    string `json:"description" validate:"required,max=500"`
	AccountID      string `json:"accountId" validate:"required,max=64"`
}

// CreateInvoice handles POST /api/invoices
//
// Response codes:
// - 201 Created: {invoiceId, status, hostedInvoiceUrl}
// - 400 Bad Request: invalid body or non-positive amount
// - 404 Not Found: unknown student or parent
// - 500: unknown_account / missing_credential (configuration)
// - 502: resolution_failed / attachment_failed / finalization_failed
//
// The workflow either finalizes the invoice or rolls it back; there is no
// partial-success response.
func (h *BillingHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	ref, err := h.billing.CreateInvoice(r.Context(), service.CreateInvoiceRequest{
		OrganizationID: req.OrganizationID,
		StudentID:      req.StudentID,
		ParentID:       req.ParentID,
		Amount:         req.Amount,
		Description:    req.Description,
		AccountID:      req.AccountID,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusCreated, ref)
}

// mapCustomerRequest is the body of PUT /api/customers/mapping.
type mapCustomerRequest struct {
	OrganizationID string `json:"organizationId" validate:"required,max=128"`
	StudentID      string `json:"studentId" validate:"required,max=128"`
	CustomerID     string `json:"customerId" validate:"required,max=255"`
	AccountID      string `json:"accountId" validate:"required,max=64"`
	Verify         bool   `json:"verify"`
}

type mapCustomerResponse struct {
	OrganizationID string `json:"organizationId"`
	StudentID      string `json:"studentId"`
	AccountID      string `json:"accountId"`
	CustomerID     string `json:"customerId"`
}

// MapCustomer handles PUT /api/customers/mapping
//
// Idempotent upsert of billingMap[accountId] = customerId. Entries for other
// accounts are left untouched. With verify=true the customer is retrieved from
// the provider first and a missing customer is a 404.
func (h *BillingHandler) MapCustomer(w http.ResponseWriter, r *http.Request) {
	var req mapCustomerRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	err := h.billing.MapCustomer(r.Context(), service.MapCustomerRequest{
		OrganizationID: req.OrganizationID,
		StudentID:      req.StudentID,
		CustomerID:     req.CustomerID,
		AccountID:      req.AccountID,
		Verify:         req.Verify,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, mapCustomerResponse{
		OrganizationID: req.OrganizationID,
		StudentID:      req.StudentID,
		AccountID:      req.AccountID,
		CustomerID:     req.CustomerID,
	})
}

// ListInvoices handles GET /api/students/{org}/{student}/invoices
func (h *BillingHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	org, student := r.PathValue("org"), r.PathValue("student")

	invoices, err := h.billing.ListInvoices(r.Context(), org, student)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []*domain.InvoiceHistoryEntry{}
	}

	handler.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

// ListSubscriptions handles GET /api/students/{org}/{student}/subscriptions?account=
//
// Returns 404 when the student has no customer in the account.
func (h *BillingHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_subscriptions"

	org, student := r.PathValue("org"), r.PathValue("student")
	account := r.URL.Query().Get("account")
	if account == "" {
		handler.ErrorResponse(w, r, domain.NewValidationError(op, "account", "is required"))
		return
	}

	subs, err := h.billing.ListSubscriptions(r.Context(), org, student, account)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}
