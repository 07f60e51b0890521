// Package payments applies incoming cash against a unit's outstanding dues
// oldest first, pairing every payment with exactly one income ledger entry.
package payments

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
)

// Payment is an immutable record of cash received from a unit. Corrections
// are reversal plus re-application, never in-place edits.
type Payment struct {
	ID            int64           `json:"id"`
	UnitID        int64           `json:"unit_id"`
	PeriodID      int64           `json:"period_id"`
	ReceiptNo     string          `json:"receipt_no"`
	Amount        decimal.Decimal `json:"amount"`
	CurrencyCode  string          `json:"currency_code"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	Category      string          `json:"category,omitempty"`
	Method        string          `json:"method,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	AccountID     int64           `json:"account_id"`
	LedgerEntryID *int64          `json:"ledger_entry_id,omitempty"`
	PaymentDate   time.Time       `json:"payment_date"`
	ReversedAt    *time.Time      `json:"reversed_at,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Allocation records how much of a payment settled one due. DueID becomes
// nil when the due is force-deleted later; the payment history stays intact.
type Allocation struct {
	ID        int64           `json:"id"`
	PaymentID int64           `json:"payment_id"`
	DueID     *int64          `json:"due_id,omitempty"`
	MonthDate time.Time       `json:"month_date"`
	Amount    decimal.Decimal `json:"amount"`
}

// ApplyPaymentInput carries the full currency triple of a payment: the
// payment currency, the dues currency reached through ExchangeRate (1 payment
// unit = ExchangeRate due units), and the receiving account's currency
// reached through AccountRate. ReportingRate converts the account currency to
// the site's reporting currency.
type ApplyPaymentInput struct {
	UnitID        int64
	PeriodID      int64
	Amount        decimal.Decimal
	CurrencyCode  string
	ExchangeRate  decimal.Decimal
	AccountID     int64
	AccountRate   decimal.Decimal
	ReportingRate decimal.Decimal
	Category      string
	Method        string
	Reference     string
	PaymentDate   time.Time
}

// Validate enforces payment preconditions before any mutation.
func (in ApplyPaymentInput) Validate() error {
	if in.UnitID == 0 {
		return fmt.Errorf("%w: unit required", shared.ErrValidation)
	}
	if in.PeriodID == 0 {
		return fmt.Errorf("%w: period required", shared.ErrValidation)
	}
	if in.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	if in.CurrencyCode == "" {
		return fmt.Errorf("%w: currency required", shared.ErrValidation)
	}
	if in.AccountID == 0 {
		return fmt.Errorf("%w: receiving account required", shared.ErrValidation)
	}
	return nil
}

// AllocationResult is one line of an apply-payment outcome.
type AllocationResult struct {
	DueID  int64           `json:"due_id"`
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// Result is the structured outcome of ApplyPayment. Overpayment is whatever
// remained after all outstanding dues were satisfied, in the dues currency;
// it is never auto-applied to future dues.
type Result struct {
	PaymentID   int64              `json:"payment_id"`
	ReceiptNo   string             `json:"receipt_no"`
	Allocations []AllocationResult `json:"allocations"`
	Overpayment decimal.Decimal    `json:"overpayment"`
}
