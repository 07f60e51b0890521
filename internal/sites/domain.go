package sites

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
)

// DistributionMethod selects how a site splits planned budget across units.
type DistributionMethod string

const (
	DistributionByCoefficient DistributionMethod = "COEFFICIENT"
	DistributionByShareRatio  DistributionMethod = "SHARE_RATIO"
)

// Site is a managed property site. Its reporting currency is the canonical
// currency for aggregated financial reporting.
type Site struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	ReportingCurrency string    `json:"reporting_currency"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Settings holds persisted per-site configuration.
type Settings struct {
	SiteID                 int64              `json:"site_id"`
	DistributionMethod     DistributionMethod `json:"distribution_method"`
	PenaltyThresholdMonths int                `json:"penalty_threshold_months"`
	PenaltyPercent         decimal.Decimal    `json:"penalty_percent"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// Unit is a billable property within a site. OpeningBalance is signed:
// positive means debt carried from a prior period, negative means credit.
type Unit struct {
	ID             int64           `json:"id"`
	SiteID         int64           `json:"site_id"`
	Name           string          `json:"name"`
	Coefficient    decimal.Decimal `json:"coefficient"`
	ShareRatio     decimal.Decimal `json:"share_ratio"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FiscalPeriod is a bounded date range belonging to a site. TotalBudget is a
// planning input, not the sum of dues.
type FiscalPeriod struct {
	ID          int64           `json:"id"`
	SiteID      int64           `json:"site_id"`
	Name        string          `json:"name"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	TotalBudget decimal.Decimal `json:"total_budget"`
	Status      string          `json:"status"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreatePeriodInput carries period creation parameters.
type CreatePeriodInput struct {
	SiteID      int64
	Name        string
	StartDate   time.Time
	EndDate     time.Time
	TotalBudget decimal.Decimal
	CreatedBy   int64
}

// Validate enforces period preconditions before any mutation.
func (in CreatePeriodInput) Validate() error {
	if in.SiteID == 0 {
		return fmt.Errorf("%w: site required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: period name required", shared.ErrValidation)
	}
	if !in.EndDate.After(in.StartDate) {
		return fmt.Errorf("%w: period end date must be after start date", shared.ErrValidation)
	}
	if in.TotalBudget.Sign() < 0 {
		return fmt.Errorf("%w: total budget cannot be negative", shared.ErrValidation)
	}
	return nil
}

// CreateUnitInput carries unit creation parameters.
type CreateUnitInput struct {
	SiteID         int64
	Name           string
	Coefficient    decimal.Decimal
	ShareRatio     decimal.Decimal
	OpeningBalance decimal.Decimal
	CreatedBy      int64
}

// Validate enforces unit preconditions.
func (in CreateUnitInput) Validate() error {
	if in.SiteID == 0 {
		return fmt.Errorf("%w: site required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: unit name required", shared.ErrValidation)
	}
	if in.Coefficient.Sign() < 0 || in.ShareRatio.Sign() < 0 {
		return fmt.Errorf("%w: unit weights cannot be negative", shared.ErrValidation)
	}
	return nil
}

// Weight returns the distribution weight for the configured method.
func (u Unit) Weight(method DistributionMethod) decimal.Decimal {
	if method == DistributionByShareRatio {
		return u.ShareRatio
	}
	return u.Coefficient
}
