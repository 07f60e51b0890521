// Package ledger keeps the income/expense/transfer general ledger consistent
// with payments, account balances and budget actuals, and provides the
// compensating reversal on deletion.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
)

// EntryType enumerates general ledger entry types.
type EntryType string

const (
	EntryIncome   EntryType = "INCOME"
	EntryExpense  EntryType = "EXPENSE"
	EntryTransfer EntryType = "TRANSFER"
)

// Account is a cash or bank holding. CurrentBalance runs in the account's
// own currency and is mutated only by ledger entry creation and reversal.
type Account struct {
	ID             int64           `json:"id"`
	SiteID         int64           `json:"site_id"`
	Name           string          `json:"name"`
	CurrencyCode   string          `json:"currency_code"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Entry is a general ledger transaction. AmountReporting is derived as
// amount times exchange rate and always present in the site's reporting
// currency. Transfers carry an account pair and never a category.
type Entry struct {
	ID              int64           `json:"id"`
	SiteID          int64           `json:"site_id"`
	PeriodID        int64           `json:"period_id"`
	Type            EntryType       `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	CurrencyCode    string          `json:"currency_code"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	AmountReporting decimal.Decimal `json:"amount_reporting"`
	// AccountAmount is the amount expressed in the target account's currency,
	// fixed at creation so reversal applies the exact inverse delta.
	AccountAmount decimal.Decimal `json:"account_amount"`
	Category      string          `json:"category,omitempty"`
	AccountID     *int64          `json:"account_id,omitempty"`
	FromAccountID *int64          `json:"from_account_id,omitempty"`
	ToAccountID   *int64          `json:"to_account_id,omitempty"`
	PaymentID     *int64          `json:"payment_id,omitempty"`
	Description   string          `json:"description"`
	EntryDate     time.Time       `json:"entry_date"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreateEntryInput carries ledger entry creation parameters. Every monetary
// operation threads its currencies explicitly: ExchangeRate converts the
// entry amount to the reporting currency, AccountRate converts it to the
// target account's currency (1 when they match).
type CreateEntryInput struct {
	SiteID        int64
	PeriodID      int64
	Type          EntryType
	Amount        decimal.Decimal
	CurrencyCode  string
	ExchangeRate  decimal.Decimal
	AccountRate   decimal.Decimal
	Category      string
	AccountID     *int64
	FromAccountID *int64
	ToAccountID   *int64
	PaymentID     *int64
	Description   string
	EntryDate     time.Time
	CreatedBy     int64
}

// Validate enforces entry preconditions before any mutation.
func (in CreateEntryInput) Validate() error {
	if in.SiteID == 0 || in.PeriodID == 0 {
		return fmt.Errorf("%w: site and period required", shared.ErrValidation)
	}
	if in.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: entry amount must be positive", shared.ErrValidation)
	}
	if in.CurrencyCode == "" {
		return fmt.Errorf("%w: currency required", shared.ErrValidation)
	}
	switch in.Type {
	case EntryIncome, EntryExpense:
		if in.FromAccountID != nil || in.ToAccountID != nil {
			return fmt.Errorf("%w: account pair is reserved for transfers", shared.ErrValidation)
		}
	case EntryTransfer:
		if in.Category != "" {
			return fmt.Errorf("%w: transfers cannot carry a budget category", shared.ErrValidation)
		}
		if in.AccountID != nil {
			return fmt.Errorf("%w: transfers use the from/to account pair", shared.ErrValidation)
		}
		if in.FromAccountID == nil || in.ToAccountID == nil {
			return fmt.Errorf("%w: transfer requires both accounts", shared.ErrValidation)
		}
		if *in.FromAccountID == *in.ToAccountID {
			return fmt.Errorf("%w: transfer accounts must differ", shared.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown entry type %q", shared.ErrValidation, in.Type)
	}
	return nil
}

// CreateAccountInput carries account creation parameters.
type CreateAccountInput struct {
	SiteID         int64
	Name           string
	CurrencyCode   string
	InitialBalance decimal.Decimal
	CreatedBy      int64
}

// Validate enforces account preconditions.
func (in CreateAccountInput) Validate() error {
	if in.SiteID == 0 {
		return fmt.Errorf("%w: site required", shared.ErrValidation)
	}
	if in.Name == "" {
		return fmt.Errorf("%w: account name required", shared.ErrValidation)
	}
	if in.CurrencyCode == "" {
		return fmt.Errorf("%w: currency required", shared.ErrValidation)
	}
	return nil
}
