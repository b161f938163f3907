// Package types defines the shared domain model for the PayBridge billing
// core: plans, subscriptions, payments, and the ledger entities (sales and
// invoices) whose balances are cascaded after a successful payment.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriod is the subscription billing interval.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodYearly  BillingPeriod = "yearly"
)

// Valid reports whether the billing period is one of the supported intervals.
func (p BillingPeriod) Valid() bool {
	return p == PeriodMonthly || p == PeriodYearly
}

// PlanCode identifies a plan in the catalog.
type PlanCode string

const (
	PlanBasic      PlanCode = "basic"
	PlanStandard   PlanCode = "standard"
	PlanPremium    PlanCode = "premium"
	PlanEnterprise PlanCode = "enterprise"
)

// Plan is immutable reference data mapping a plan code to the processor-side
// product and per-period price identifiers. Rows are seeded out-of-band.
type Plan struct {
	ID                 string
	Code               PlanCode
	ProcessorProductID string
	MonthlyPriceID     string
	YearlyPriceID      string
	TrialDays          int
	CreatedAt          time.Time
}

// PriceIDFor returns the processor price ID for the given billing period.
// Returns "" when the period is not configured for this plan.
func (p *Plan) PriceIDFor(period BillingPeriod) string {
	switch period {
	case PeriodMonthly:
		return p.MonthlyPriceID
	case PeriodYearly:
		return p.YearlyPriceID
	default:
		return ""
	}
}

// SubscriptionStatus mirrors the processor's subscription status 1:1.
// PayBridge does not invent its own state machine; whatever the processor
// reports is persisted unchanged.
type SubscriptionStatus string

const (
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// Subscription is the single authoritative billing record for an organization.
// The most recently created row per organization is current; older rows are
// historical and never deleted.
type Subscription struct {
	ID                    string
	OrganizationID        string
	ProcessorSubscription string
	ProcessorCustomer     string
	PlanID                string
	Status                SubscriptionStatus
	TrialEnd              *time.Time
	CurrentPeriodStart    *time.Time
	CurrentPeriodEnd      *time.Time
	CancelAtPeriodEnd     bool
	Metadata              SubscriptionMetadata
	Version               int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SubscriptionMetadata is free-form audit/display state persisted as JSONB.
// For enterprise subscriptions it stores the configuration that produced the
// dynamic price.
type SubscriptionMetadata map[string]any

// PaymentSource identifies which ledger entity a payment settles, chosen by
// precedence: sale, then account receivable, then manual.
type PaymentSource string

const (
	SourceSale              PaymentSource = "sale"
	SourceAccountReceivable PaymentSource = "account_receivable"
	SourceManual            PaymentSource = "manual"
)

// PaymentStatus is the lifecycle status of a recorded payment.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
)

// Payment is an immutable ledger row recording one successfully confirmed
// charge. Reference (the processor intent ID) is the natural idempotency key
// and carries a uniqueness constraint.
type Payment struct {
	ID             string
	OrganizationID string
	BranchID       string
	Amount         decimal.Decimal // major currency units
	Currency       string
	Method         string
	Source         PaymentSource
	SourceID       string
	Reference      string
	Status         PaymentStatus
	CreatedAt      time.Time
}

// SaleStatus is derived deterministically from the balance after a cascade.
type SaleStatus string

const (
	SalePaid    SaleStatus = "paid"
	SalePartial SaleStatus = "partial"
)

// Sale is an external ledger entity whose balance is cascaded by the
// PaymentRecorder. The balance never goes negative; it clamps to zero.
type Sale struct {
	ID             string
	OrganizationID string
	Balance        decimal.Decimal
	Status         SaleStatus
	UpdatedAt      time.Time
}

// Invoice is the invoice-side ledger entity, cascaded under the same rules
// as Sale.
type Invoice struct {
	ID             string
	OrganizationID string
	Balance        decimal.Decimal
	Status         SaleStatus
	UpdatedAt      time.Time
}

// AccountReceivable is read back after a payment to verify the external
// trigger applied the expected balance change. PayBridge never writes it.
type AccountReceivable struct {
	ID             string
	OrganizationID string
	Balance        decimal.Decimal
	UpdatedAt      time.Time
}

// EnterpriseConfig is the tenant-chosen sizing for a dynamically priced
// enterprise subscription. It is used once to compute a price and then stored
// inside Subscription.Metadata for audit and display.
type EnterpriseConfig struct {
	Modules         int           `json:"modules" validate:"min=0"`
	Branches        int           `json:"branches" validate:"min=0"`
	Users           int           `json:"users" validate:"min=0"`
	AICredits       int           `json:"ai_credits" validate:"min=0"`
	SelectedModules []string      `json:"selected_modules,omitempty"`
	BillingPeriod   BillingPeriod `json:"billing_period" validate:"required,oneof=monthly yearly"`
}

// EnterpriseUnitPrices are the collaborator-provided unit prices used by the
// pricing calculator. All values are major currency units except
// AICreditUnitMinor, which is minor units per credit.
type EnterpriseUnitPrices struct {
	Base              decimal.Decimal
	ModuleUnit        decimal.Decimal
	BranchUnit        decimal.Decimal
	UserUnit          decimal.Decimal
	AICreditUnitMinor int64
}
