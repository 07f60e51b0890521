// Package fx converts monetary amounts between currencies through the site's
// reporting currency. Rates are always quoted as "1 unit of the source
// currency = rate units of the target currency".
package fx

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
)

// ValidateRate rejects non-positive exchange rates.
func ValidateRate(rate decimal.Decimal) error {
	if rate.Sign() <= 0 {
		return fmt.Errorf("%w: exchange rate must be positive, got %s", shared.ErrValidation, rate)
	}
	return nil
}

// ToReporting converts an amount into the reporting currency. The amount may
// be negative (transfers, reversals), so only the rate is constrained.
func ToReporting(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// ToTargetCurrency composes two conversions through the reporting currency:
// source -> reporting at sourceRate, then reporting -> target at targetRate.
func ToTargetCurrency(amount, sourceRate, targetRate decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateRate(sourceRate); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateRate(targetRate); err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(sourceRate).Div(targetRate), nil
}
