// Package billing implements the payment and subscription orchestration core:
// minor-unit currency arithmetic, the plan catalog, dynamic enterprise
// pricing, charge-intent creation, payment recording with ledger cascade,
// refunds, and the subscription lifecycle.
package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"paybridge/internal/types"
)

// zeroDecimalCurrencies is the fixed set of currencies whose minor unit equals
// the major unit. Amounts in these currencies are sent to the processor
// unchanged; everything else is multiplied by 100.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true,
	"jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// minimumChargeMinor holds per-currency minimum charge amounts in minor units.
// Currencies not listed use defaultMinimumMinor.
var minimumChargeMinor = map[string]int64{
	"gbp": 30,
	"mxn": 10,
	"cop": 1500,
}

const defaultMinimumMinor = 50

var hundred = decimal.NewFromInt(100)

// IsZeroDecimal reports whether the currency has no minor-unit subdivision.
func IsZeroDecimal(currency string) bool {
	return zeroDecimalCurrencies[strings.ToLower(currency)]
}

// MinimumMinorUnits returns the minimum charge amount for the currency in
// minor units.
func MinimumMinorUnits(currency string) int64 {
	if m, ok := minimumChargeMinor[strings.ToLower(currency)]; ok {
		return m
	}
	return defaultMinimumMinor
}

// ToMinorUnits converts a major-unit amount to the processor's integer minor
// units: rounded as-is for zero-decimal currencies, multiplied by 100 and
// rounded otherwise.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	if IsZeroDecimal(currency) {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts a processor minor-unit amount back to major units.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	d := decimal.NewFromInt(minor)
	if IsZeroDecimal(currency) {
		return d
	}
	return d.Div(hundred)
}

// ValidateChargeAmount checks that the amount is positive and, converted to
// minor units, meets the per-currency minimum. It returns the minor-unit
// amount. All failures happen before any network call.
func ValidateChargeAmount(amount decimal.Decimal, currency string) (int64, error) {
	normalized := strings.ToLower(strings.TrimSpace(currency))
	if len(normalized) != 3 || !isAlpha(normalized) {
		return 0, types.NewAppError(
			types.ErrCodeValidationCurrency,
			fmt.Sprintf("invalid currency code %q", currency),
			nil,
		)
	}

	if !amount.IsPositive() {
		return 0, types.NewAppError(
			types.ErrCodeValidationAmount,
			"amount must be greater than zero",
			nil,
		)
	}

	minor := ToMinorUnits(amount, normalized)
	if min := MinimumMinorUnits(normalized); minor < min {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBelowMinimum,
			fmt.Sprintf("amount is below the %s minimum charge", normalized),
			nil,
			map[string]any{
				"amount_minor":  minor,
				"minimum_minor": min,
				"currency":      normalized,
			},
		)
	}

	return minor, nil
}

func isAlpha(s string) bool {
	for _, c := range s {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
