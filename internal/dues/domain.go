// Package dues owns the recurring per-unit debt records for a fiscal period:
// generation, re-pricing, penalties and paid/pending/partial/overdue status.
package dues

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Status enumerates due payment states.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
)

// OutstandingStatuses are the states a payment can be allocated against.
var OutstandingStatuses = []Status{StatusPending, StatusPartial, StatusOverdue}

// Due is one month's charge for one unit within one fiscal period. The total
// is always derived from base plus penalty and never stored independently.
type Due struct {
	ID               int64           `json:"id"`
	UnitID           int64           `json:"unit_id"`
	PeriodID         int64           `json:"period_id"`
	MonthDate        time.Time       `json:"month_date"`
	BaseAmount       decimal.Decimal `json:"base_amount"`
	PenaltyAmount    decimal.Decimal `json:"penalty_amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	Status           Status          `json:"status"`
	CurrencyCode     string          `json:"currency_code"`
	IsCarriedForward bool            `json:"is_carried_forward"`
	Description      string          `json:"description"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TotalAmount derives the amount owed for this due.
func (d Due) TotalAmount() decimal.Decimal {
	return d.BaseAmount.Add(d.PenaltyAmount)
}

// Balance derives the unpaid remainder.
func (d Due) Balance() decimal.Decimal {
	return d.TotalAmount().Sub(d.PaidAmount)
}

// StatusFor derives a due's status purely from its amounts and month. An
// unpaid due becomes overdue once its month lies before the current calendar
// month of asOf. Stored statuses are recomputed through here on every write so
// they can never drift from the amounts.
func StatusFor(paid, total decimal.Decimal, monthDate, asOf time.Time) Status {
	switch {
	case paid.GreaterThanOrEqual(total) && total.Sign() > 0:
		return StatusPaid
	case paid.Sign() > 0:
		return StatusPartial
	}
	monthStart := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, asOf.Location())
	if monthDate.Before(monthStart) {
		return StatusOverdue
	}
	return StatusPending
}

// MonthsOverdue counts whole calendar months between a due's month and asOf.
func MonthsOverdue(monthDate, asOf time.Time) int {
	months := (asOf.Year()-monthDate.Year())*12 + int(asOf.Month()) - int(monthDate.Month())
	if months < 0 {
		return 0
	}
	return months
}

// MonthsInRange lists the first day of every calendar month in [start, end).
func MonthsInRange(start, end time.Time) []time.Time {
	var months []time.Time
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cursor.Before(end) {
		months = append(months, cursor)
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months
}

var foldCaser = cases.Fold()

// NormalizeDescription folds case and collapses whitespace so filtered
// matching treats " Aidat  2026 " and "aidat 2026" as the same value.
func NormalizeDescription(s string) string {
	return foldCaser.String(strings.Join(strings.Fields(s), " "))
}
