package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/dues"
	"github.com/stratafin/stratafin/internal/fx"
	"github.com/stratafin/stratafin/internal/ledger"
	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

// RepositoryPort defines data access methods for payments.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (int64, error)
	InsertAllocations(ctx context.Context, tx pgx.Tx, paymentID int64, allocations []Allocation) error
	SetLedgerEntry(ctx context.Context, tx pgx.Tx, paymentID int64, entryID *int64) error
	MarkReversed(ctx context.Context, tx pgx.Tx, paymentID int64, at time.Time) error
	GetPayment(ctx context.Context, id int64) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Payment, error)
	ListAllocations(ctx context.Context, tx pgx.Tx, paymentID int64) ([]Allocation, error)
	DeleteAllocations(ctx context.Context, tx pgx.Tx, paymentID int64) error
	DeletePaymentRow(ctx context.Context, tx pgx.Tx, id int64) error
	ListByUnit(ctx context.Context, unitID int64) ([]Payment, error)
}

// DuesPort exposes the due-ledger rows the allocator reads and writes.
type DuesPort interface {
	OutstandingForUnit(ctx context.Context, tx pgx.Tx, unitID int64) ([]dues.Due, error)
	ListByIDs(ctx context.Context, tx pgx.Tx, ids []int64) ([]dues.Due, error)
	ApplyProgress(ctx context.Context, tx pgx.Tx, id int64, paid decimal.Decimal, status dues.Status) error
}

// LedgerPort writes and removes the payment's single paired income entry
// inside the allocator's transaction.
type LedgerPort interface {
	CreateEntryInTx(ctx context.Context, tx pgx.Tx, in ledger.CreateEntryInput) (ledger.Entry, error)
	RemoveEntryInTx(ctx context.Context, tx pgx.Tx, id int64, reverseAllocations bool) error
	GetAccount(ctx context.Context, id int64) (ledger.Account, error)
}

// SitesPort exposes master data lookups.
type SitesPort interface {
	GetUnit(ctx context.Context, id int64) (sites.Unit, error)
	GetPeriod(ctx context.Context, id int64) (sites.FiscalPeriod, error)
}

// LeasePort serializes same-unit payment application.
type LeasePort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MetricsPort records engine counters.
type MetricsPort interface {
	RecordPaymentApplied()
	RecordPaymentReversed()
}

// Service implements the payment allocator.
type Service struct {
	repo    RepositoryPort
	dues    DuesPort
	ledger  LedgerPort
	sites   SitesPort
	leases  LeasePort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, duesPort DuesPort, ledgerPort LedgerPort, sitesPort SitesPort, leases LeasePort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		dues:    duesPort,
		ledger:  ledgerPort,
		sites:   sitesPort,
		leases:  leases,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetPayment returns a payment by id.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListByUnit returns a unit's payments.
func (s *Service) ListByUnit(ctx context.Context, unitID int64) ([]Payment, error) {
	return s.repo.ListByUnit(ctx, unitID)
}

// ApplyPayment converts the incoming amount into the dues currency and
// settles the unit's outstanding dues oldest first, recording the allocation
// list on one immutable payment paired with exactly one income ledger entry.
// Whatever remains after all dues are satisfied comes back as overpayment.
func (s *Service) ApplyPayment(ctx context.Context, in ApplyPaymentInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	if err := fx.ValidateRate(in.ExchangeRate); err != nil {
		return Result{}, err
	}
	if in.AccountRate.IsZero() {
		in.AccountRate = decimal.NewFromInt(1)
	}
	if in.ReportingRate.IsZero() {
		in.ReportingRate = decimal.NewFromInt(1)
	}

	unit, err := s.sites.GetUnit(ctx, in.UnitID)
	if err != nil {
		return Result{}, err
	}
	actor := shared.ActorFromContext(ctx)
	if actor.SiteID != 0 && actor.SiteID != unit.SiteID {
		return Result{}, fmt.Errorf("%w: unit %d is outside the caller's site", shared.ErrValidation, in.UnitID)
	}
	period, err := s.sites.GetPeriod(ctx, in.PeriodID)
	if err != nil {
		return Result{}, err
	}
	if period.Status == shared.PeriodStatusClosed {
		return Result{}, fmt.Errorf("%w: period %d is closed", shared.ErrConflict, in.PeriodID)
	}
	account, err := s.ledger.GetAccount(ctx, in.AccountID)
	if err != nil {
		return Result{}, err
	}

	release, err := s.leases.Acquire(ctx, shared.UnitLockKey(in.UnitID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	if in.PaymentDate.IsZero() {
		in.PaymentDate = s.now()
	}
	receiptNo := uuid.NewString()
	asOf := s.now()

	var result Result
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		outstanding, err := s.dues.OutstandingForUnit(ctx, tx, in.UnitID)
		if err != nil {
			return err
		}

		remaining := in.Amount.Mul(in.ExchangeRate)
		var allocations []Allocation
		var lines []AllocationResult
		for _, due := range outstanding {
			if remaining.Sign() <= 0 {
				break
			}
			applied := decimal.Min(remaining, due.Balance())
			newPaid := due.PaidAmount.Add(applied)
			status := dues.StatusFor(newPaid, due.TotalAmount(), due.MonthDate, asOf)
			if err := s.dues.ApplyProgress(ctx, tx, due.ID, newPaid, status); err != nil {
				return err
			}
			dueID := due.ID
			allocations = append(allocations, Allocation{
				DueID:     &dueID,
				MonthDate: due.MonthDate,
				Amount:    applied,
			})
			lines = append(lines, AllocationResult{
				DueID:  due.ID,
				Month:  due.MonthDate.Format("2006-01"),
				Amount: applied,
			})
			remaining = remaining.Sub(applied)
		}

		payment := Payment{
			UnitID:       in.UnitID,
			PeriodID:     in.PeriodID,
			ReceiptNo:    receiptNo,
			Amount:       in.Amount,
			CurrencyCode: in.CurrencyCode,
			ExchangeRate: in.ExchangeRate,
			Category:     in.Category,
			Method:       in.Method,
			Reference:    in.Reference,
			AccountID:    in.AccountID,
			PaymentDate:  in.PaymentDate,
			CreatedBy:    actor.UserID,
		}
		paymentID, err := s.repo.InsertPayment(ctx, tx, payment)
		if err != nil {
			return err
		}
		if err := s.repo.InsertAllocations(ctx, tx, paymentID, allocations); err != nil {
			return err
		}

		// The one paired ledger entry, in the receiving account's currency.
		// This call is the single writer of the pairing: nothing else
		// inserts an entry for a payment.
		entry, err := s.ledger.CreateEntryInTx(ctx, tx, ledger.CreateEntryInput{
			SiteID:       unit.SiteID,
			PeriodID:     in.PeriodID,
			Type:         ledger.EntryIncome,
			Amount:       in.Amount.Mul(in.AccountRate),
			CurrencyCode: account.CurrencyCode,
			ExchangeRate: in.ReportingRate,
			AccountID:    &in.AccountID,
			PaymentID:    &paymentID,
			Category:     in.Category,
			Description:  fmt.Sprintf("Payment %s from %s", receiptNo, unit.Name),
			EntryDate:    in.PaymentDate,
			CreatedBy:    actor.UserID,
		})
		if err != nil {
			return err
		}
		if err := s.repo.SetLedgerEntry(ctx, tx, paymentID, &entry.ID); err != nil {
			return err
		}

		result = Result{
			PaymentID:   paymentID,
			ReceiptNo:   receiptNo,
			Allocations: lines,
			Overpayment: remaining,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentApplied()
	}
	s.logger.Info("payment applied",
		slog.Int64("unit_id", in.UnitID),
		slog.Int64("payment_id", result.PaymentID),
		slog.Int("allocations", len(result.Allocations)),
		slog.String("overpayment", result.Overpayment.String()))
	return result, nil
}

// DeletePayment reverses every recorded allocation and removes the payment
// together with its paired ledger entry. This is the authoritative deletion
// direction: it invokes the ledger-entry removal as a sub-step, and the
// ledger side never deletes payments.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return err
	}

	release, err := s.leases.Acquire(ctx, shared.UnitLockKey(payment.UnitID))
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.repo.GetPaymentForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.reverseAllocations(ctx, tx, locked.ID); err != nil {
			return err
		}
		if locked.LedgerEntryID != nil {
			// The allocations are already reversed above from the payment's
			// own list, so the ledger side must not reverse them again.
			if err := s.repo.SetLedgerEntry(ctx, tx, locked.ID, nil); err != nil {
				return err
			}
			if err := s.ledger.RemoveEntryInTx(ctx, tx, *locked.LedgerEntryID, false); err != nil {
				return err
			}
		}
		return s.repo.DeletePaymentRow(ctx, tx, locked.ID)
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentReversed()
	}
	s.logger.Info("payment deleted", slog.Int64("payment_id", id))
	return nil
}

// ReverseForPayment undoes a payment's due allocations when its ledger entry
// is deleted from the ledger side. The payment record is kept, stamped as
// reversed and unlinked from the entry; it is never deleted from this
// direction.
func (s *Service) ReverseForPayment(ctx context.Context, tx pgx.Tx, paymentID int64) error {
	if err := s.reverseAllocations(ctx, tx, paymentID); err != nil {
		return err
	}
	if err := s.repo.SetLedgerEntry(ctx, tx, paymentID, nil); err != nil {
		return err
	}
	return s.repo.MarkReversed(ctx, tx, paymentID, s.now())
}

func (s *Service) reverseAllocations(ctx context.Context, tx pgx.Tx, paymentID int64) error {
	allocations, err := s.repo.ListAllocations(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	asOf := s.now()

	var ids []int64
	applied := make(map[int64]decimal.Decimal)
	for _, a := range allocations {
		if a.DueID == nil {
			// Due was force-deleted; nothing left to reverse against.
			continue
		}
		ids = append(ids, *a.DueID)
		applied[*a.DueID] = applied[*a.DueID].Add(a.Amount)
	}

	rows, err := s.dues.ListByIDs(ctx, tx, ids)
	if err != nil {
		return err
	}
	for _, due := range rows {
		amount := applied[due.ID]
		newPaid := due.PaidAmount.Sub(amount)
		if newPaid.Sign() < 0 {
			return fmt.Errorf("%w: reversing payment %d would drop due %d paid amount below zero",
				shared.ErrConflict, paymentID, due.ID)
		}
		status := dues.StatusFor(newPaid, due.TotalAmount(), due.MonthDate, asOf)
		if err := s.dues.ApplyProgress(ctx, tx, due.ID, newPaid, status); err != nil {
			return err
		}
	}
	return s.repo.DeleteAllocations(ctx, tx, paymentID)
}
