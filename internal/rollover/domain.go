package rollover

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance transfer kinds.
const (
	TransferDebt      = "DEBT"
	TransferCredit    = "CREDIT"
	TransferLegalFlag = "LEGAL_FLAG"
)

// BalanceTransfer records how one unit's closing balance crossed a period
// boundary.
type BalanceTransfer struct {
	ID           int64           `json:"id"`
	UnitID       int64           `json:"unit_id"`
	FromPeriodID int64           `json:"from_period_id"`
	ToPeriodID   int64           `json:"to_period_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
	LegalFlag    bool            `json:"legal_flag"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Result summarizes a period close.
type Result struct {
	PeriodID      int64 `json:"period_id"`
	NextPeriodID  int64 `json:"next_period_id"`
	DebtCarried   int   `json:"debt_carried"`
	CreditCarried int   `json:"credit_carried"`
	LegalFlagged  int   `json:"legal_flagged"`
}
