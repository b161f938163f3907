package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"paybridge/internal/external"
	"paybridge/internal/types"
)

// CustomerDirectory resolves and maintains processor customers.
type CustomerDirectory interface {
	FindCustomerByEmail(ctx context.Context, email string) (*external.Customer, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*external.Customer, error)
	UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) (*external.Customer, error)
}

// SubscriptionProcessor is the subset of the processor client driving
// subscription lifecycle operations.
type SubscriptionProcessor interface {
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, req external.CreateSubscriptionRequest) (*external.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*external.Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, newPriceID string, idempotencyKey string) (*external.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*external.Subscription, error)
	CancelSubscriptionNow(ctx context.Context, subscriptionID string) (*external.Subscription, error)
}

// SelfServiceGateway covers the pass-through operations with no local
// business logic beyond delegation.
type SelfServiceGateway interface {
	ListPaymentMethods(ctx context.Context, customerID string) ([]*external.PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	CreateSetupIntent(ctx context.Context, customerID string) (*external.SetupIntent, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListInvoices(ctx context.Context, customerID string, limit int, cursor string) ([]*external.CustomerInvoice, string, error)
}

// SubscriptionStore persists the authoritative subscription record.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *types.Subscription) (*types.Subscription, error)
	GetByID(ctx context.Context, id string) (*types.Subscription, error)
	GetByOrganization(ctx context.Context, orgID string) (*types.Subscription, error)
	GetByProcessorID(ctx context.Context, processorSubID string) (*types.Subscription, error)
	UpdateFields(ctx context.Context, id, planID string, status types.SubscriptionStatus, cancelAtPeriodEnd bool, metadata types.SubscriptionMetadata) (*types.Subscription, error)
	SyncFromProcessor(ctx context.Context, processorSubID string, status types.SubscriptionStatus, cancelAtPeriodEnd bool, periodStart, periodEnd *time.Time, eventTime time.Time) error
}

// Subscription metadata keys maintained by the orchestrator.
const (
	metaKeyPlanCode         = "plan_code"
	metaKeyBillingPeriod    = "billing_period"
	metaKeyEnterpriseConfig = "enterprise_config"
)

// SubscriptionOrchestrator manages the subscription lifecycle end to end:
// customer resolution, price resolution (catalog or dynamic), the trial vs.
// immediate-payment branch, plan changes, cancellation, and reactivation.
//
// Subscription status mirrors the processor 1:1; the orchestrator never
// invents local transitions.
type SubscriptionOrchestrator struct {
	catalog     *PlanCatalog
	pricing     *PricingCalculator
	customers   CustomerDirectory
	processor   SubscriptionProcessor
	selfService SelfServiceGateway
	store       SubscriptionStore
	logger      *slog.Logger

	now func() time.Time
}

// NewSubscriptionOrchestrator wires the orchestrator's collaborators.
func NewSubscriptionOrchestrator(
	catalog *PlanCatalog,
	pricing *PricingCalculator,
	customers CustomerDirectory,
	processor SubscriptionProcessor,
	selfService SelfServiceGateway,
	store SubscriptionStore,
	logger *slog.Logger,
) *SubscriptionOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionOrchestrator{
		catalog:     catalog,
		pricing:     pricing,
		customers:   customers,
		processor:   processor,
		selfService: selfService,
		store:       store,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateSubscriptionInput carries a subscription signup or re-signup.
type CreateSubscriptionInput struct {
	OrganizationID     string
	PlanCode           types.PlanCode
	BillingPeriod      types.BillingPeriod
	UseTrial           bool
	CustomerEmail      string
	CustomerName       string
	PaymentMethodID    string
	ExistingCustomerID string
	EnterpriseConfig   *types.EnterpriseConfig
}

// CreateSubscriptionResult reports the created subscription. ClientSecret is
// set when the first payment needs client-side authentication; the caller
// should confirm it instead of treating the signup as failed.
type CreateSubscriptionResult struct {
	SubscriptionID        string                   `json:"subscription_id"`
	ProcessorSubscription string                   `json:"processor_subscription_id"`
	CustomerID            string                   `json:"customer_id"`
	Status                types.SubscriptionStatus `json:"status"`
	TrialEnd              *time.Time               `json:"trial_end,omitempty"`
	ClientSecret          string                   `json:"client_secret,omitempty"`
}

// CreateSubscription creates a subscription for an organization.
//
// Flow: resolve the processor customer (reuse by ID, then by email, then
// create), resolve the price (dynamic for enterprise configurations, catalog
// otherwise), branch on trial vs. immediate payment, and persist the result
// as the organization's authoritative subscription record.
func (o *SubscriptionOrchestrator) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*CreateSubscriptionResult, error) {
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	customer, err := o.resolveCustomer(ctx, in)
	if err != nil {
		return nil, err
	}

	plan, priceID, err := o.resolvePrice(ctx, in)
	if err != nil {
		return nil, err
	}

	var (
		procSub  *external.Subscription
		trialEnd *time.Time
	)
	if in.UseTrial {
		trialDays := o.catalog.TrialDays(plan)
		procSub, err = o.processor.CreateSubscription(ctx, external.CreateSubscriptionRequest{
			CustomerID:     customer.ID,
			PriceID:        priceID,
			TrialDays:      trialDays,
			Metadata:       map[string]string{metaOrganizationID: in.OrganizationID},
			IdempotencyKey: uuid.NewString(),
		})
		if err != nil {
			return nil, err
		}
		if procSub.TrialEnd != nil {
			trialEnd = procSub.TrialEnd
		} else {
			t := o.now().UTC().AddDate(0, 0, trialDays)
			trialEnd = &t
		}
	} else {
		if err := o.processor.AttachPaymentMethod(ctx, in.PaymentMethodID, customer.ID); err != nil {
			return nil, err
		}
		if err := o.processor.SetDefaultPaymentMethod(ctx, customer.ID, in.PaymentMethodID); err != nil {
			return nil, err
		}
		procSub, err = o.processor.CreateSubscription(ctx, external.CreateSubscriptionRequest{
			CustomerID:           customer.ID,
			PriceID:              priceID,
			DefaultPaymentMethod: in.PaymentMethodID,
			Metadata:             map[string]string{metaOrganizationID: in.OrganizationID},
			IdempotencyKey:       uuid.NewString(),
		})
		if err != nil {
			return nil, err
		}
	}

	metadata := types.SubscriptionMetadata{
		metaKeyPlanCode:      string(in.PlanCode),
		metaKeyBillingPeriod: string(in.BillingPeriod),
	}
	if in.EnterpriseConfig != nil {
		metadata[metaKeyEnterpriseConfig] = *in.EnterpriseConfig
	}

	saved, err := o.store.Upsert(ctx, &types.Subscription{
		OrganizationID:        in.OrganizationID,
		ProcessorSubscription: procSub.ID,
		ProcessorCustomer:     customer.ID,
		PlanID:                plan.ID,
		Status:                types.SubscriptionStatus(procSub.Status),
		TrialEnd:              trialEnd,
		CurrentPeriodStart:    procSub.CurrentPeriodStart,
		CurrentPeriodEnd:      procSub.CurrentPeriodEnd,
		Metadata:              metadata,
	})
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "subscription created",
		slog.String("org_id", in.OrganizationID),
		slog.String("subscription_id", saved.ID),
		slog.String("processor_subscription_id", procSub.ID),
		slog.String("plan", string(in.PlanCode)),
		slog.String("status", procSub.Status),
		slog.Bool("trial", in.UseTrial),
	)

	return &CreateSubscriptionResult{
		SubscriptionID:        saved.ID,
		ProcessorSubscription: procSub.ID,
		CustomerID:            customer.ID,
		Status:                saved.Status,
		TrialEnd:              trialEnd,
		ClientSecret:          procSub.PaymentClientSecret,
	}, nil
}

func validateCreateInput(in CreateSubscriptionInput) error {
	if in.OrganizationID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "organization id is required", nil)
	}
	if in.CustomerEmail == "" && in.ExistingCustomerID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "customer email is required", nil)
	}
	if !in.BillingPeriod.Valid() {
		return types.NewAppError(
			types.ErrCodeValidationInvalidField,
			fmt.Sprintf("invalid billing period %q", in.BillingPeriod),
			nil,
		)
	}
	if !in.UseTrial && in.PaymentMethodID == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"payment method is required when not starting a trial",
			nil,
		)
	}
	return nil
}

// resolveCustomer reuses an explicitly provided customer, then an existing
// customer with the same email, and only then creates a new one.
func (o *SubscriptionOrchestrator) resolveCustomer(ctx context.Context, in CreateSubscriptionInput) (*external.Customer, error) {
	orgMetadata := map[string]string{metaOrganizationID: in.OrganizationID}

	if in.ExistingCustomerID != "" {
		return o.customers.UpdateCustomerMetadata(ctx, in.ExistingCustomerID, orgMetadata)
	}

	existing, err := o.customers.FindCustomerByEmail(ctx, in.CustomerEmail)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		o.logger.InfoContext(ctx, "reusing processor customer",
			slog.String("org_id", in.OrganizationID),
			slog.String("customer_id", existing.ID),
		)
		return existing, nil
	}

	return o.customers.CreateCustomer(ctx, in.CustomerEmail, in.CustomerName, orgMetadata)
}

// resolvePrice picks the dynamic pricing path for enterprise configurations
// and the catalog lookup for everything else.
func (o *SubscriptionOrchestrator) resolvePrice(ctx context.Context, in CreateSubscriptionInput) (*types.Plan, string, error) {
	if in.PlanCode == types.PlanEnterprise && in.EnterpriseConfig != nil {
		cfg := *in.EnterpriseConfig
		cfg.BillingPeriod = in.BillingPeriod

		plan, err := o.catalog.GetPlan(ctx, types.PlanEnterprise)
		if err != nil {
			return nil, "", err
		}
		priceID, _, err := o.pricing.EnsureEnterprisePrice(ctx, in.OrganizationID, cfg)
		if err != nil {
			return nil, "", err
		}
		return plan, priceID, nil
	}

	return o.catalog.ResolvePrice(ctx, in.PlanCode, in.BillingPeriod)
}

// ChangePlan moves a subscription to another fixed-catalog plan with
// proration. Dynamic enterprise re-pricing is not supported through this
// path; enterprise sizing changes go through a fresh CreateSubscription.
func (o *SubscriptionOrchestrator) ChangePlan(ctx context.Context, subscriptionID string, newPlanCode types.PlanCode, period types.BillingPeriod) (*types.Subscription, error) {
	if newPlanCode == types.PlanEnterprise {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"enterprise plans cannot be changed through the plan-change path",
			nil,
		)
	}

	sub, err := o.store.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	plan, priceID, err := o.catalog.ResolvePrice(ctx, newPlanCode, period)
	if err != nil {
		return nil, err
	}

	procSub, err := o.processor.GetSubscription(ctx, sub.ProcessorSubscription)
	if err != nil {
		return nil, err
	}
	if len(procSub.Items) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamProcessor,
			fmt.Sprintf("processor subscription %s has no line items", sub.ProcessorSubscription),
			nil,
		)
	}

	updated, err := o.processor.UpdateSubscriptionPrice(ctx,
		sub.ProcessorSubscription, procSub.Items[0].ID, priceID, uuid.NewString())
	if err != nil {
		return nil, err
	}

	metadata := cloneMetadata(sub.Metadata)
	metadata[metaKeyPlanCode] = string(newPlanCode)
	metadata[metaKeyBillingPeriod] = string(period)

	saved, err := o.store.UpdateFields(ctx, sub.ID, plan.ID,
		types.SubscriptionStatus(updated.Status), updated.CancelAtPeriodEnd, metadata)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "subscription plan changed",
		slog.String("subscription_id", sub.ID),
		slog.String("new_plan", string(newPlanCode)),
		slog.String("billing_period", string(period)),
	)
	return saved, nil
}

// CancelSubscription cancels a subscription. With immediate=false the
// subscription stays active until the end of the current period; with
// immediate=true it is canceled now.
func (o *SubscriptionOrchestrator) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*types.Subscription, error) {
	sub, err := o.store.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	var procSub *external.Subscription
	if immediate {
		procSub, err = o.processor.CancelSubscriptionNow(ctx, sub.ProcessorSubscription)
	} else {
		procSub, err = o.processor.SetCancelAtPeriodEnd(ctx, sub.ProcessorSubscription, true)
	}
	if err != nil {
		return nil, err
	}

	saved, err := o.store.UpdateFields(ctx, sub.ID, sub.PlanID,
		types.SubscriptionStatus(procSub.Status), procSub.CancelAtPeriodEnd, sub.Metadata)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "subscription canceled",
		slog.String("subscription_id", sub.ID),
		slog.Bool("immediate", immediate),
		slog.String("status", procSub.Status),
	)
	return saved, nil
}

// ReactivateSubscription clears a pending period-end cancellation.
func (o *SubscriptionOrchestrator) ReactivateSubscription(ctx context.Context, subscriptionID string) (*types.Subscription, error) {
	sub, err := o.store.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	procSub, err := o.processor.SetCancelAtPeriodEnd(ctx, sub.ProcessorSubscription, false)
	if err != nil {
		return nil, err
	}

	saved, err := o.store.UpdateFields(ctx, sub.ID, sub.PlanID,
		types.SubscriptionStatus(procSub.Status), procSub.CancelAtPeriodEnd, sub.Metadata)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "subscription reactivated",
		slog.String("subscription_id", sub.ID),
	)
	return saved, nil
}

// GetSubscriptionForOrganization returns the organization's authoritative
// subscription record.
func (o *SubscriptionOrchestrator) GetSubscriptionForOrganization(ctx context.Context, orgID string) (*types.Subscription, error) {
	return o.store.GetByOrganization(ctx, orgID)
}

// SyncProcessorState mirrors subscription state reported by a webhook event
// into the local record. Stale events are ignored by the store.
func (o *SubscriptionOrchestrator) SyncProcessorState(
	ctx context.Context,
	processorSubID string,
	status types.SubscriptionStatus,
	cancelAtPeriodEnd bool,
	periodStart, periodEnd *time.Time,
	eventTime time.Time,
) error {
	return o.store.SyncFromProcessor(ctx, processorSubID, status, cancelAtPeriodEnd, periodStart, periodEnd, eventTime)
}

// RefreshFromProcessor re-reads the subscription from the processor and
// mirrors its current state. Used for events that do not carry the full
// subscription object, such as failed invoice payments.
func (o *SubscriptionOrchestrator) RefreshFromProcessor(ctx context.Context, processorSubID string, eventTime time.Time) error {
	procSub, err := o.processor.GetSubscription(ctx, processorSubID)
	if err != nil {
		return err
	}
	return o.store.SyncFromProcessor(ctx, processorSubID,
		types.SubscriptionStatus(procSub.Status), procSub.CancelAtPeriodEnd,
		procSub.CurrentPeriodStart, procSub.CurrentPeriodEnd, eventTime)
}

// ---------------------------------------------------------------------------
// Pass-through operations
// ---------------------------------------------------------------------------

// AttachPaymentMethod attaches a payment method to a customer, optionally
// marking it as the default for invoice payments.
func (o *SubscriptionOrchestrator) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setDefault bool) error {
	if err := o.processor.AttachPaymentMethod(ctx, paymentMethodID, customerID); err != nil {
		return err
	}
	if setDefault {
		return o.processor.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID)
	}
	return nil
}

// ListPaymentMethods lists the customer's attached payment methods.
func (o *SubscriptionOrchestrator) ListPaymentMethods(ctx context.Context, customerID string) ([]*external.PaymentMethod, error) {
	return o.selfService.ListPaymentMethods(ctx, customerID)
}

// DetachPaymentMethod removes a payment method.
func (o *SubscriptionOrchestrator) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	return o.selfService.DetachPaymentMethod(ctx, paymentMethodID)
}

// CreateSetupIntent creates a setup intent for collecting a payment method
// for future off-session charges.
func (o *SubscriptionOrchestrator) CreateSetupIntent(ctx context.Context, customerID string) (*external.SetupIntent, error) {
	return o.selfService.CreateSetupIntent(ctx, customerID)
}

// CreatePortalSession creates a self-serve billing portal session.
func (o *SubscriptionOrchestrator) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return o.selfService.CreatePortalSession(ctx, customerID, returnURL)
}

// ListInvoices lists the customer's processor invoices.
func (o *SubscriptionOrchestrator) ListInvoices(ctx context.Context, customerID string, limit int, cursor string) ([]*external.CustomerInvoice, string, error) {
	return o.selfService.ListInvoices(ctx, customerID, limit, cursor)
}

func cloneMetadata(m types.SubscriptionMetadata) types.SubscriptionMetadata {
	out := make(types.SubscriptionMetadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
