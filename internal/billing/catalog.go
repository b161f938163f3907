package billing

import (
	"context"
	"fmt"
	"log/slog"

	"paybridge/internal/types"
)

// PlanStore is the subset of the plan repository used by the catalog.
type PlanStore interface {
	GetByCode(ctx context.Context, code types.PlanCode) (*types.Plan, error)
	GetByID(ctx context.Context, id string) (*types.Plan, error)
	List(ctx context.Context) ([]*types.Plan, error)
}

// PlanCatalog resolves plan codes and billing periods to processor price
// identifiers and supplies trial-day defaults. It is read-only; plan rows are
// seeded out-of-band.
type PlanCatalog struct {
	store            PlanStore
	defaultTrialDays int
	logger           *slog.Logger
}

// NewPlanCatalog creates a PlanCatalog. defaultTrialDays is used when a plan
// has no trial-day count of its own.
func NewPlanCatalog(store PlanStore, defaultTrialDays int, logger *slog.Logger) *PlanCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanCatalog{
		store:            store,
		defaultTrialDays: defaultTrialDays,
		logger:           logger,
	}
}

// ResolvePrice returns the plan and its processor price ID for the given code
// and billing period. Unknown plans and unconfigured periods both fail with a
// not-found error.
func (c *PlanCatalog) ResolvePrice(ctx context.Context, code types.PlanCode, period types.BillingPeriod) (*types.Plan, string, error) {
	if !period.Valid() {
		return nil, "", types.NewAppError(
			types.ErrCodeValidationInvalidField,
			fmt.Sprintf("invalid billing period %q", period),
			nil,
		)
	}

	plan, err := c.store.GetByCode(ctx, code)
	if err != nil {
		return nil, "", err
	}

	priceID := plan.PriceIDFor(period)
	if priceID == "" {
		return nil, "", types.NewAppError(
			types.ErrCodeNotFoundPlan,
			fmt.Sprintf("plan %s has no %s price configured", code, period),
			nil,
		)
	}

	return plan, priceID, nil
}

// GetPlan returns the plan with the given code.
func (c *PlanCatalog) GetPlan(ctx context.Context, code types.PlanCode) (*types.Plan, error) {
	return c.store.GetByCode(ctx, code)
}

// GetPlanByID returns the plan with the given ID.
func (c *PlanCatalog) GetPlanByID(ctx context.Context, id string) (*types.Plan, error) {
	return c.store.GetByID(ctx, id)
}

// ListPlans returns all plans in the catalog.
func (c *PlanCatalog) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	return c.store.List(ctx)
}

// TrialDays returns the trial length for a plan, falling back to the
// configured default when the plan does not set one.
func (c *PlanCatalog) TrialDays(plan *types.Plan) int {
	if plan.TrialDays > 0 {
		return plan.TrialDays
	}
	return c.defaultTrialDays
}
