package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"paybridge/internal/billing"
	"paybridge/internal/core"
	"paybridge/internal/external"
	"paybridge/internal/types"
)

// SubscriptionService is the orchestrator surface used by the HTTP layer.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, in billing.CreateSubscriptionInput) (*billing.CreateSubscriptionResult, error)
	ChangePlan(ctx context.Context, subscriptionID string, newPlanCode types.PlanCode, period types.BillingPeriod) (*types.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*types.Subscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*types.Subscription, error)
	GetSubscriptionForOrganization(ctx context.Context, orgID string) (*types.Subscription, error)

	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setDefault bool) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]*external.PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	CreateSetupIntent(ctx context.Context, customerID string) (*external.SetupIntent, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListInvoices(ctx context.Context, customerID string, limit int, cursor string) ([]*external.CustomerInvoice, string, error)
}

// PlanReader lists the plan catalog.
type PlanReader interface {
	ListPlans(ctx context.Context) ([]*types.Plan, error)
}

// SubscriptionsHandler exposes the subscription lifecycle and the billing
// self-service pass-throughs.
type SubscriptionsHandler struct {
	service   SubscriptionService
	plans     PlanReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscriptionsHandler creates a SubscriptionsHandler.
func NewSubscriptionsHandler(service SubscriptionService, plans PlanReader, validator *core.Validator, logger *slog.Logger) *SubscriptionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionsHandler{
		service:   service,
		plans:     plans,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the subscription and billing self-service endpoints.
func (h *SubscriptionsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.ListPlans)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.CreateSubscription)
		r.Get("/", h.GetSubscription)
		r.Patch("/{subscriptionID}/plan", h.ChangePlan)
		r.Delete("/{subscriptionID}", h.CancelSubscription)
		r.Post("/{subscriptionID}/reactivate", h.ReactivateSubscription)
	})

	r.Route("/customers/{customerID}", func(r chi.Router) {
		r.Post("/payment-methods", h.AttachPaymentMethod)
		r.Get("/payment-methods", h.ListPaymentMethods)
		r.Post("/setup-intents", h.CreateSetupIntent)
		r.Post("/portal-sessions", h.CreatePortalSession)
		r.Get("/invoices", h.ListInvoices)
	})
	r.Delete("/payment-methods/{paymentMethodID}", h.DetachPaymentMethod)
}

// ListPlans handles GET /v1/plans.
func (h *SubscriptionsHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListPlans(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	type planResponse struct {
		ID        string `json:"id"`
		Code      string `json:"code"`
		TrialDays int    `json:"trial_days"`
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{ID: p.ID, Code: string(p.Code), TrialDays: p.TrialDays})
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

type createSubscriptionRequest struct {
	OrganizationID     string                  `json:"organization_id" validate:"required"`
	PlanCode           string                  `json:"plan_code" validate:"required"`
	BillingPeriod      string                  `json:"billing_period" validate:"required,oneof=monthly yearly"`
	UseTrial           bool                    `json:"use_trial"`
	CustomerEmail      string                  `json:"customer_email" validate:"omitempty,email"`
	CustomerName       string                  `json:"customer_name"`
	PaymentMethodID    string                  `json:"payment_method_id"`
	ExistingCustomerID string                  `json:"existing_customer_id"`
	EnterpriseConfig   *types.EnterpriseConfig `json:"enterprise_config"`
}

// CreateSubscription handles POST /v1/subscriptions.
func (h *SubscriptionsHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.CreateSubscription(r.Context(), billing.CreateSubscriptionInput{
		OrganizationID:     req.OrganizationID,
		PlanCode:           types.PlanCode(req.PlanCode),
		BillingPeriod:      types.BillingPeriod(req.BillingPeriod),
		UseTrial:           req.UseTrial,
		CustomerEmail:      req.CustomerEmail,
		CustomerName:       req.CustomerName,
		PaymentMethodID:    req.PaymentMethodID,
		ExistingCustomerID: req.ExistingCustomerID,
		EnterpriseConfig:   req.EnterpriseConfig,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: result})
}

// GetSubscription handles GET /v1/subscriptions?organization_id=...
func (h *SubscriptionsHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "organization_id is required", nil))
		return
	}

	sub, err := h.service.GetSubscriptionForOrganization(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toSubscriptionResponse(sub)})
}

type changePlanRequest struct {
	PlanCode      string `json:"plan_code" validate:"required"`
	BillingPeriod string `json:"billing_period" validate:"required,oneof=monthly yearly"`
}

// ChangePlan handles PATCH /v1/subscriptions/{subscriptionID}/plan.
func (h *SubscriptionsHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")

	var req changePlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.service.ChangePlan(r.Context(), subscriptionID,
		types.PlanCode(req.PlanCode), types.BillingPeriod(req.BillingPeriod))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toSubscriptionResponse(sub)})
}

// CancelSubscription handles DELETE /v1/subscriptions/{subscriptionID}.
// The immediate query parameter selects between canceling now and canceling
// at the end of the current period (the default).
func (h *SubscriptionsHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")
	immediate := r.URL.Query().Get("immediate") == "true"

	sub, err := h.service.CancelSubscription(r.Context(), subscriptionID, immediate)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toSubscriptionResponse(sub)})
}

// ReactivateSubscription handles POST /v1/subscriptions/{subscriptionID}/reactivate.
func (h *SubscriptionsHandler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")

	sub, err := h.service.ReactivateSubscription(r.Context(), subscriptionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toSubscriptionResponse(sub)})
}

type attachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
	SetDefault      bool   `json:"set_default"`
}

// AttachPaymentMethod handles POST /v1/customers/{customerID}/payment-methods.
func (h *SubscriptionsHandler) AttachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	var req attachPaymentMethodRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.service.AttachPaymentMethod(r.Context(), customerID, req.PaymentMethodID, req.SetDefault); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPaymentMethods handles GET /v1/customers/{customerID}/payment-methods.
func (h *SubscriptionsHandler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	methods, err := h.service.ListPaymentMethods(r.Context(), customerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: methods})
}

// DetachPaymentMethod handles DELETE /v1/payment-methods/{paymentMethodID}.
func (h *SubscriptionsHandler) DetachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	paymentMethodID := chi.URLParam(r, "paymentMethodID")

	if err := h.service.DetachPaymentMethod(r.Context(), paymentMethodID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSetupIntent handles POST /v1/customers/{customerID}/setup-intents.
func (h *SubscriptionsHandler) CreateSetupIntent(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	intent, err := h.service.CreateSetupIntent(r.Context(), customerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: intent})
}

type portalSessionRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// CreatePortalSession handles POST /v1/customers/{customerID}/portal-sessions.
func (h *SubscriptionsHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	var req portalSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	url, err := h.service.CreatePortalSession(r.Context(), customerID, req.ReturnURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: map[string]string{"url": url}})
}

// ListInvoices handles GET /v1/customers/{customerID}/invoices.
func (h *SubscriptionsHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "limit must be a positive integer", nil))
			return
		}
		limit = parsed
	}
	cursor := r.URL.Query().Get("cursor")

	invoices, nextCursor, err := h.service.ListInvoices(r.Context(), customerID, limit, cursor)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"invoices":    invoices,
		"next_cursor": nextCursor,
	}})
}

type subscriptionResponse struct {
	ID                    string         `json:"id"`
	OrganizationID        string         `json:"organization_id"`
	ProcessorSubscription string         `json:"processor_subscription_id"`
	ProcessorCustomer     string         `json:"processor_customer_id"`
	PlanID                string         `json:"plan_id"`
	Status                string         `json:"status"`
	TrialEnd              *time.Time     `json:"trial_end,omitempty"`
	CurrentPeriodStart    *time.Time     `json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time     `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd     bool           `json:"cancel_at_period_end"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

func toSubscriptionResponse(s *types.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                    s.ID,
		OrganizationID:        s.OrganizationID,
		ProcessorSubscription: s.ProcessorSubscription,
		ProcessorCustomer:     s.ProcessorCustomer,
		PlanID:                s.PlanID,
		Status:                string(s.Status),
		TrialEnd:              s.TrialEnd,
		CurrentPeriodStart:    s.CurrentPeriodStart,
		CurrentPeriodEnd:      s.CurrentPeriodEnd,
		CancelAtPeriodEnd:     s.CancelAtPeriodEnd,
		Metadata:              s.Metadata,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}
