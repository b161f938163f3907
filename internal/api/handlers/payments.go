// Package handlers contains the HTTP handler implementations for the
// PayBridge API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"paybridge/internal/billing"
	"paybridge/internal/core"
	"paybridge/internal/types"
)

// IntentService creates one-time charge intents.
type IntentService interface {
	CreateIntent(ctx context.Context, in billing.CreateIntentInput) (*billing.IntentResult, error)
}

// RecordingService confirms succeeded intents into the payment ledger.
type RecordingService interface {
	ProcessSuccessfulPayment(ctx context.Context, intentID string) (*billing.RecordResult, error)
}

// RefundService issues refunds with structured results.
type RefundService interface {
	ProcessRefund(ctx context.Context, in billing.RefundInput) *billing.RefundResult
}

// PaymentLister reads recorded payments.
type PaymentLister interface {
	ListByOrganization(ctx context.Context, orgID string, limit int) ([]*types.Payment, error)
	GetByReference(ctx context.Context, reference string) (*types.Payment, error)
}

// PaymentsHandler exposes the one-time payment surface: intent creation,
// recording, refunds, and payment history.
type PaymentsHandler struct {
	intents   IntentService
	recorder  RecordingService
	refunds   RefundService
	payments  PaymentLister
	validator *core.Validator
	logger    *slog.Logger
}

// NewPaymentsHandler creates a PaymentsHandler.
func NewPaymentsHandler(
	intents IntentService,
	recorder RecordingService,
	refunds RefundService,
	payments PaymentLister,
	validator *core.Validator,
	logger *slog.Logger,
) *PaymentsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentsHandler{
		intents:   intents,
		recorder:  recorder,
		refunds:   refunds,
		payments:  payments,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the payment endpoints.
func (h *PaymentsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/intents", h.CreateIntent)
		r.Post("/{intentID}/record", h.RecordPayment)
		r.Post("/{intentID}/refund", h.Refund)
		r.Get("/", h.ListPayments)
		r.Get("/{reference}", h.GetPayment)
	})
}

type createIntentRequest struct {
	Amount         decimal.Decimal   `json:"amount" validate:"required"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	OrganizationID string            `json:"organization_id" validate:"required"`
	BranchID       string            `json:"branch_id" validate:"required"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata"`

	CustomerID          string `json:"customer_id"`
	SaleID              string `json:"sale_id"`
	InvoiceID           string `json:"invoice_id"`
	AccountReceivableID string `json:"account_receivable_id"`
}

// CreateIntent handles POST /v1/payments/intents.
func (h *PaymentsHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.intents.CreateIntent(r.Context(), billing.CreateIntentInput{
		Amount:              req.Amount,
		Currency:            req.Currency,
		OrganizationID:      req.OrganizationID,
		BranchID:            req.BranchID,
		Description:         req.Description,
		Metadata:            req.Metadata,
		CustomerID:          req.CustomerID,
		SaleID:              req.SaleID,
		InvoiceID:           req.InvoiceID,
		AccountReceivableID: req.AccountReceivableID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: result})
}

type recordPaymentResponse struct {
	Payment   paymentResponse `json:"payment"`
	Duplicate bool            `json:"duplicate"`
	Sale      *ledgerState    `json:"sale,omitempty"`
	Invoice   *ledgerState    `json:"invoice,omitempty"`
}

type ledgerState struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Status  string          `json:"status"`
}

// RecordPayment handles POST /v1/payments/{intentID}/record. Confirmation is
// idempotent: repeated calls with the same intent report duplicate=true.
func (h *PaymentsHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")
	if intentID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "intent id is required", nil))
		return
	}

	result, err := h.recorder.ProcessSuccessfulPayment(r.Context(), intentID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := recordPaymentResponse{
		Payment:   toPaymentResponse(result.Payment),
		Duplicate: result.Duplicate,
	}
	if result.Sale != nil {
		resp.Sale = &ledgerState{ID: result.Sale.ID, Balance: result.Sale.Balance, Status: string(result.Sale.Status)}
	}
	if result.Invoice != nil {
		resp.Invoice = &ledgerState{ID: result.Invoice.ID, Balance: result.Invoice.Balance, Status: string(result.Invoice.Status)}
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	core.JSON(w, r, status, core.APIResponse{Data: resp})
}

type refundRequest struct {
	Amount   *decimal.Decimal  `json:"amount"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

// Refund handles POST /v1/payments/{intentID}/refund. Failures come back as
// a structured result with HTTP 200, not as an error response, so clients can
// render them inline.
func (h *PaymentsHandler) Refund(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")
	if intentID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "intent id is required", nil))
		return
	}

	var req refundRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	result := h.refunds.ProcessRefund(r.Context(), billing.RefundInput{
		IntentID: intentID,
		Amount:   req.Amount,
		Reason:   req.Reason,
		Metadata: req.Metadata,
	})

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// ListPayments handles GET /v1/payments?organization_id=...&limit=...
func (h *PaymentsHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "organization_id is required", nil))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "limit must be a positive integer", nil))
			return
		}
		limit = parsed
	}

	payments, err := h.payments.ListByOrganization(r.Context(), orgID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

// GetPayment handles GET /v1/payments/{reference}.
func (h *PaymentsHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	payment, err := h.payments.GetByReference(r.Context(), reference)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toPaymentResponse(payment)})
}

type paymentResponse struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	BranchID       string          `json:"branch_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Method         string          `json:"method"`
	Source         string          `json:"source"`
	SourceID       string          `json:"source_id,omitempty"`
	Reference      string          `json:"reference"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toPaymentResponse(p *types.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		BranchID:       p.BranchID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         p.Method,
		Source:         string(p.Source),
		SourceID:       p.SourceID,
		Reference:      p.Reference,
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
	}
}
