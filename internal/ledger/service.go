package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/fx"
	"github.com/stratafin/stratafin/internal/shared"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	InsertEntry(ctx context.Context, tx pgx.Tx, e Entry) (int64, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	GetEntryForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Entry, error)
	DeleteEntryRow(ctx context.Context, tx pgx.Tx, id int64) error
	ListEntries(ctx context.Context, periodID int64) ([]Entry, error)
	SumExpensesByCategory(ctx context.Context, tx pgx.Tx, periodID int64) (map[string]decimal.Decimal, error)
	InsertAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context, siteID int64) ([]Account, error)
	AdjustAccountBalance(ctx context.Context, tx pgx.Tx, accountID int64, delta decimal.Decimal) error
}

// BudgetPort feeds expense entries into the budget actuals cache.
type BudgetPort interface {
	AddActual(ctx context.Context, tx pgx.Tx, periodID int64, category string, delta decimal.Decimal) (bool, error)
}

// AllocationReverser undoes a payment's due allocations when its ledger entry
// is deleted. Implemented by the payments module; attached at wiring time so
// entry deletion stays one-directional and never deletes the payment itself.
type AllocationReverser interface {
	ReverseForPayment(ctx context.Context, tx pgx.Tx, paymentID int64) error
}

// Service synchronizes the general ledger with accounts and budget actuals.
type Service struct {
	repo     RepositoryPort
	budget   BudgetPort
	reverser AllocationReverser
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, budget BudgetPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, budget: budget, logger: logger, now: time.Now}
}

// AttachAllocationReverser wires the payments-side reversal hook.
func (s *Service) AttachAllocationReverser(r AllocationReverser) {
	s.reverser = r
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateAccount registers a cash or bank account.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	in.CreatedBy = shared.ActorFromContext(ctx).UserID
	return s.repo.InsertAccount(ctx, in)
}

// GetAccount returns an account by id.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAccounts returns a site's accounts.
func (s *Service) ListAccounts(ctx context.Context, siteID int64) ([]Account, error) {
	return s.repo.ListAccounts(ctx, siteID)
}

// GetEntry returns an entry by id.
func (s *Service) GetEntry(ctx context.Context, id int64) (Entry, error) {
	return s.repo.GetEntry(ctx, id)
}

// ListEntries returns a period's entries.
func (s *Service) ListEntries(ctx context.Context, periodID int64) ([]Entry, error) {
	return s.repo.ListEntries(ctx, periodID)
}

// CreateEntry validates and persists an entry atomically with its account and
// budget effects.
func (s *Service) CreateEntry(ctx context.Context, in CreateEntryInput) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		entry, err = s.CreateEntryInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// CreateEntryInTx persists an entry inside the caller's transaction. The
// payment allocator uses this directly so a payment and its single income
// entry commit together: this function is the only writer of the pairing.
func (s *Service) CreateEntryInTx(ctx context.Context, tx pgx.Tx, in CreateEntryInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	if in.AccountRate.IsZero() {
		in.AccountRate = decimal.NewFromInt(1)
	}
	reporting, err := fx.ToReporting(in.Amount, in.ExchangeRate)
	if err != nil {
		return Entry{}, err
	}
	if in.EntryDate.IsZero() {
		in.EntryDate = s.now()
	}
	if in.CreatedBy == 0 {
		in.CreatedBy = shared.ActorFromContext(ctx).UserID
	}

	entry := Entry{
		SiteID:          in.SiteID,
		PeriodID:        in.PeriodID,
		Type:            in.Type,
		Amount:          in.Amount,
		CurrencyCode:    in.CurrencyCode,
		ExchangeRate:    in.ExchangeRate,
		AmountReporting: reporting,
		AccountAmount:   in.Amount.Mul(in.AccountRate),
		Category:        in.Category,
		AccountID:       in.AccountID,
		FromAccountID:   in.FromAccountID,
		ToAccountID:     in.ToAccountID,
		PaymentID:       in.PaymentID,
		Description:     in.Description,
		EntryDate:       in.EntryDate,
		CreatedBy:       in.CreatedBy,
	}
	entry.ID, err = s.repo.InsertEntry(ctx, tx, entry)
	if err != nil {
		return Entry{}, err
	}

	if err := s.applyAccountEffects(ctx, tx, entry, false); err != nil {
		return Entry{}, err
	}
	if err := s.applyBudgetEffect(ctx, tx, entry, false); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// DeleteEntry removes an entry with the exact inverse of its creation
// effects. Payment-linked income entries additionally reverse the payment's
// due allocations; the payment record itself is kept.
func (s *Service) DeleteEntry(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.RemoveEntryInTx(ctx, tx, id, true)
	})
}

// RemoveEntryInTx deletes an entry inside the caller's transaction.
// reverseAllocations is false when the payment allocator drives the deletion,
// because it has already reversed its own allocation list.
func (s *Service) RemoveEntryInTx(ctx context.Context, tx pgx.Tx, id int64, reverseAllocations bool) error {
	entry, err := s.repo.GetEntryForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}

	if err := s.applyAccountEffects(ctx, tx, entry, true); err != nil {
		return err
	}
	if err := s.applyBudgetEffect(ctx, tx, entry, true); err != nil {
		return err
	}
	if reverseAllocations && entry.PaymentID != nil && entry.Type == EntryIncome {
		if s.reverser == nil {
			return fmt.Errorf("ledger: allocation reverser not attached")
		}
		if err := s.reverser.ReverseForPayment(ctx, tx, *entry.PaymentID); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteEntryRow(ctx, tx, id); err != nil {
		return err
	}
	s.logger.Info("ledger entry deleted",
		slog.Int64("entry_id", id), slog.String("type", string(entry.Type)))
	return nil
}

func (s *Service) applyAccountEffects(ctx context.Context, tx pgx.Tx, entry Entry, reverse bool) error {
	sign := decimal.NewFromInt(1)
	if reverse {
		sign = decimal.NewFromInt(-1)
	}

	switch entry.Type {
	case EntryIncome, EntryExpense:
		if entry.AccountID == nil {
			return nil
		}
		delta := entry.AccountAmount
		if entry.Type == EntryExpense {
			delta = delta.Neg()
		}
		return s.repo.AdjustAccountBalance(ctx, tx, *entry.AccountID, delta.Mul(sign))
	case EntryTransfer:
		amount := entry.AccountAmount
		if err := s.repo.AdjustAccountBalance(ctx, tx, *entry.FromAccountID, amount.Neg().Mul(sign)); err != nil {
			return err
		}
		return s.repo.AdjustAccountBalance(ctx, tx, *entry.ToAccountID, amount.Mul(sign))
	}
	return nil
}

func (s *Service) applyBudgetEffect(ctx context.Context, tx pgx.Tx, entry Entry, reverse bool) error {
	// Income and transfer entries never touch budget actuals.
	if entry.Type != EntryExpense || entry.Category == "" {
		return nil
	}
	delta := entry.AmountReporting
	if reverse {
		delta = delta.Neg()
	}
	matched, err := s.budget.AddActual(ctx, tx, entry.PeriodID, entry.Category, delta)
	if err != nil {
		return err
	}
	if !matched {
		s.logger.Debug("expense entry without matching budget category",
			slog.Int64("period_id", entry.PeriodID), slog.String("category", entry.Category))
	}
	return nil
}
