// Package budget maintains planned versus actual amounts per category per
// fiscal period. The actual amount is a materialized cache over the ledger's
// expense entries, never the source of truth.
package budget

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
)

// Category tracks planned and actual spend for one budget line in a period.
type Category struct {
	ID            int64           `json:"id"`
	PeriodID      int64           `json:"period_id"`
	Name          string          `json:"name"`
	PlannedAmount decimal.Decimal `json:"planned_amount"`
	ActualAmount  decimal.Decimal `json:"actual_amount"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateCategoryInput carries category creation parameters.
type CreateCategoryInput struct {
	PeriodID      int64
	Name          string
	PlannedAmount decimal.Decimal
	CreatedBy     int64
}

// Validate enforces category preconditions.
func (in CreateCategoryInput) Validate() error {
	if in.PeriodID == 0 {
		return fmt.Errorf("%w: period required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: category name required", shared.ErrValidation)
	}
	if in.PlannedAmount.Sign() < 0 {
		return fmt.Errorf("%w: planned amount cannot be negative", shared.ErrValidation)
	}
	return nil
}
