package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"paybridge/internal/config"
	"paybridge/internal/external"
	"paybridge/internal/types"
)

// includedModules is the number of modules covered by the enterprise base
// price; only modules beyond this count are charged per unit.
const includedModules = 6

// yearlyMonths is the multiplier for annual enterprise pricing (two months
// free against twelve).
const yearlyMonths = 10

// PriceEnsurer is the subset of the processor client used to materialize
// enterprise quote prices.
type PriceEnsurer interface {
	FindPriceByLookupKey(ctx context.Context, lookupKey string) (*external.Price, error)
	CreateProduct(ctx context.Context, req external.CreateProductRequest) (string, error)
	CreatePrice(ctx context.Context, req external.CreatePriceRequest) (*external.Price, error)
}

// PricingCalculator computes dynamic prices for enterprise-tier plans and
// materializes them as processor price objects. Quote prices carry a
// deterministic lookup key derived from the configuration, so identical
// configurations reuse the same processor objects instead of accumulating
// orphans.
type PricingCalculator struct {
	units     types.EnterpriseUnitPrices
	currency  string
	processor PriceEnsurer
	logger    *slog.Logger
}

// NewPricingCalculator creates a PricingCalculator from the configured unit
// prices.
func NewPricingCalculator(cfg config.PricingConfig, processor PriceEnsurer, logger *slog.Logger) *PricingCalculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PricingCalculator{
		units: types.EnterpriseUnitPrices{
			Base:              decimal.NewFromInt(int64(cfg.EnterpriseBasePrice)),
			ModuleUnit:        decimal.NewFromInt(int64(cfg.EnterpriseModuleUnit)),
			BranchUnit:        decimal.NewFromInt(int64(cfg.EnterpriseBranchUnit)),
			UserUnit:          decimal.NewFromInt(int64(cfg.EnterpriseUserUnit)),
			AICreditUnitMinor: cfg.EnterpriseAICreditMinor,
		},
		currency:  cfg.Currency,
		processor: processor,
		logger:    logger,
	}
}

// MonthlyPrice computes the monthly enterprise price in major currency units,
// rounded to the nearest whole unit. The first six modules are included in
// the base price; AI credits are priced in minor units per credit.
func (c *PricingCalculator) MonthlyPrice(cfg types.EnterpriseConfig) decimal.Decimal {
	additionalModules := cfg.Modules - includedModules
	if additionalModules < 0 {
		additionalModules = 0
	}

	modulesPrice := c.units.ModuleUnit.Mul(decimal.NewFromInt(int64(additionalModules)))
	branchesPrice := c.units.BranchUnit.Mul(decimal.NewFromInt(int64(cfg.Branches)))
	usersPrice := c.units.UserUnit.Mul(decimal.NewFromInt(int64(cfg.Users)))
	aiCreditsPrice := decimal.NewFromInt(int64(cfg.AICredits)).
		Mul(decimal.NewFromInt(c.units.AICreditUnitMinor)).
		Div(hundred)

	return c.units.Base.
		Add(modulesPrice).
		Add(branchesPrice).
		Add(usersPrice).
		Add(aiCreditsPrice).
		Round(0)
}

// YearlyPrice computes the annual enterprise price: ten months for twelve.
func (c *PricingCalculator) YearlyPrice(cfg types.EnterpriseConfig) decimal.Decimal {
	return c.MonthlyPrice(cfg).Mul(decimal.NewFromInt(yearlyMonths)).Round(0)
}

// PriceFor returns the price for the configuration's billing period.
func (c *PricingCalculator) PriceFor(cfg types.EnterpriseConfig) decimal.Decimal {
	if cfg.BillingPeriod == types.PeriodYearly {
		return c.YearlyPrice(cfg)
	}
	return c.MonthlyPrice(cfg)
}

// QuoteKey derives a deterministic lookup key from the configuration tuple.
// Two quotes with the same sizing and period always produce the same key.
func (c *PricingCalculator) QuoteKey(cfg types.EnterpriseConfig) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("ent:%d:%d:%d:%d:%s:%s",
		cfg.Modules, cfg.Branches, cfg.Users, cfg.AICredits, cfg.BillingPeriod, c.currency)))
	return "enterprise_" + hex.EncodeToString(h[:8])
}

// EnsureEnterprisePrice resolves the processor price for an enterprise
// configuration, reusing an existing quote price when one with the same
// lookup key exists and creating the product and price otherwise. Returns the
// processor price ID and the computed amount in major units.
func (c *PricingCalculator) EnsureEnterprisePrice(ctx context.Context, orgID string, cfg types.EnterpriseConfig) (string, decimal.Decimal, error) {
	if !cfg.BillingPeriod.Valid() {
		return "", decimal.Zero, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			fmt.Sprintf("invalid billing period %q", cfg.BillingPeriod),
			nil,
		)
	}

	amount := c.PriceFor(cfg)
	lookupKey := c.QuoteKey(cfg)

	existing, err := c.processor.FindPriceByLookupKey(ctx, lookupKey)
	if err != nil {
		return "", decimal.Zero, err
	}
	if existing != nil {
		c.logger.InfoContext(ctx, "reusing enterprise quote price",
			slog.String("org_id", orgID),
			slog.String("lookup_key", lookupKey),
			slog.String("price_id", existing.ID),
		)
		return existing.ID, amount, nil
	}

	interval := "month"
	if cfg.BillingPeriod == types.PeriodYearly {
		interval = "year"
	}

	quoteMetadata := map[string]string{
		"organizationId": orgID,
		"modules":        fmt.Sprintf("%d", cfg.Modules),
		"branches":       fmt.Sprintf("%d", cfg.Branches),
		"users":          fmt.Sprintf("%d", cfg.Users),
		"aiCredits":      fmt.Sprintf("%d", cfg.AICredits),
		"billingPeriod":  string(cfg.BillingPeriod),
	}

	productID, err := c.processor.CreateProduct(ctx, external.CreateProductRequest{
		Name:           fmt.Sprintf("Enterprise (%s)", lookupKey),
		Metadata:       quoteMetadata,
		IdempotencyKey: lookupKey + "_product",
	})
	if err != nil {
		return "", decimal.Zero, err
	}

	price, err := c.processor.CreatePrice(ctx, external.CreatePriceRequest{
		ProductID:      productID,
		AmountMinor:    ToMinorUnits(amount, c.currency),
		Currency:       c.currency,
		Interval:       interval,
		LookupKey:      lookupKey,
		Metadata:       quoteMetadata,
		IdempotencyKey: lookupKey + "_price",
	})
	if err != nil {
		return "", decimal.Zero, err
	}

	c.logger.InfoContext(ctx, "created enterprise quote price",
		slog.String("org_id", orgID),
		slog.String("lookup_key", lookupKey),
		slog.String("price_id", price.ID),
		slog.String("amount", amount.String()),
	)
	return price.ID, amount, nil
}
