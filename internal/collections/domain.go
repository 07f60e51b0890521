package collections

import (
	"time"

	"github.com/shopspring/decimal"
)

// Escalation stages, ordered. A workflow only ever moves forward.
const (
	StageReminder    = 1
	StageWarning     = 2
	StageFinalNotice = 3
	StageLegal       = 4
)

// Workflow tracks a unit's position in the debt escalation ladder.
type Workflow struct {
	ID                int64           `json:"id"`
	UnitID            int64           `json:"unit_id"`
	SiteID            int64           `json:"site_id"`
	PeriodID          int64           `json:"period_id"`
	Stage             int             `json:"stage"`
	DebtAmount        decimal.Decimal `json:"debt_amount"`
	CurrencyCode      string          `json:"currency_code"`
	OldestUnpaid      time.Time       `json:"oldest_unpaid"`
	Active            bool            `json:"active"`
	LegalFlag         bool            `json:"legal_flag"`
	WarningSentAt     *time.Time      `json:"warning_sent_at,omitempty"`
	LetterGeneratedAt *time.Time      `json:"letter_generated_at,omitempty"`
	LegalActionAt     *time.Time      `json:"legal_action_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StageFor maps months of overdue debt onto an escalation stage.
func StageFor(monthsOverdue int) int {
	switch {
	case monthsOverdue < 3:
		return StageReminder
	case monthsOverdue < 6:
		return StageWarning
	case monthsOverdue < 9:
		return StageFinalNotice
	default:
		return StageLegal
	}
}
