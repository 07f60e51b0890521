package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitBalance is a unit's live financial position.
type UnitBalance struct {
	UnitID         int64           `json:"unit_id"`
	UnitName       string          `json:"unit_name"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	TotalDue       decimal.Decimal `json:"total_due"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	Balance        decimal.Decimal `json:"balance"`
	CurrencyCode   string          `json:"currency_code"`
}

// CategoryLine compares one budget category's plan against its spend.
type CategoryLine struct {
	Category  string          `json:"category"`
	Planned   decimal.Decimal `json:"planned"`
	Actual    decimal.Decimal `json:"actual"`
	Remaining decimal.Decimal `json:"remaining"`
}

// SiteSummary is the one-page overview of a site within a period.
type SiteSummary struct {
	SiteID         int64           `json:"site_id"`
	PeriodID       int64           `json:"period_id"`
	CurrencyCode   string          `json:"currency_code"`
	TotalDues      decimal.Decimal `json:"total_dues"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	CollectionRate decimal.Decimal `json:"collection_rate"`
	TotalExpenses  decimal.Decimal `json:"total_expenses"`
	Categories     []CategoryLine  `json:"categories"`
	StageCounts    map[int]int     `json:"stage_counts"`
}

// DebtAlert is one unit flagged at warning stage or beyond.
type DebtAlert struct {
	UnitID       int64           `json:"unit_id"`
	UnitName     string          `json:"unit_name"`
	Stage        int             `json:"stage"`
	DebtAmount   decimal.Decimal `json:"debt_amount"`
	CurrencyCode string          `json:"currency_code"`
	OldestUnpaid time.Time       `json:"oldest_unpaid"`
	LegalFlag    bool            `json:"legal_flag"`
}

// UnitShare is a unit's normalized weight in cost distribution.
type UnitShare struct {
	UnitID   int64           `json:"unit_id"`
	UnitName string          `json:"unit_name"`
	Weight   decimal.Decimal `json:"weight"`
	Share    decimal.Decimal `json:"share"`
}
