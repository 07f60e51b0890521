package rollover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/collections"
	"github.com/stratafin/stratafin/internal/dues"
	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

// RepositoryPort defines data access methods for balance transfers.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	InsertTransfer(ctx context.Context, tx pgx.Tx, t BalanceTransfer) (int64, error)
	ListTransfers(ctx context.Context, fromPeriodID int64) ([]BalanceTransfer, error)
}

// SitesPort exposes the master data the close touches.
type SitesPort interface {
	GetSite(ctx context.Context, id int64) (sites.Site, error)
	ListUnits(ctx context.Context, siteID int64) ([]sites.Unit, error)
	GetPeriodForUpdate(ctx context.Context, tx pgx.Tx, id int64) (sites.FiscalPeriod, error)
	UpdatePeriodStatus(ctx context.Context, tx pgx.Tx, id int64, status string, closedAt *time.Time) error
	UpdateUnitOpeningBalance(ctx context.Context, tx pgx.Tx, unitID int64, balance decimal.Decimal) error
}

// DuesPort reads the closing period's dues and writes carried-forward ones.
type DuesPort interface {
	ListForPeriod(ctx context.Context, tx pgx.Tx, periodID int64) ([]dues.Due, error)
	InsertDue(ctx context.Context, tx pgx.Tx, d dues.Due) (int64, error)
}

// CollectionsPort looks up a unit's escalation workflow and re-points it at
// the next period, so legal standing survives the period boundary.
type CollectionsPort interface {
	GetByUnitTx(ctx context.Context, tx pgx.Tx, unitID int64) (collections.Workflow, error)
	ReassignPeriod(ctx context.Context, tx pgx.Tx, unitID, periodID int64) error
}

// LeasePort serializes closes of the same period.
type LeasePort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MetricsPort records engine counters.
type MetricsPort interface {
	RecordPeriodClosed()
}

// Service closes fiscal periods and carries balances forward.
type Service struct {
	repo        RepositoryPort
	sites       SitesPort
	dues        DuesPort
	collections CollectionsPort
	leases      LeasePort
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(repo RepositoryPort, sitesPort SitesPort, duesPort DuesPort, collectionsPort CollectionsPort, leases LeasePort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		sites:       sitesPort,
		dues:        duesPort,
		collections: collectionsPort,
		leases:      leases,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ListTransfers returns the transfers recorded when a period was closed.
func (s *Service) ListTransfers(ctx context.Context, fromPeriodID int64) ([]BalanceTransfer, error) {
	return s.repo.ListTransfers(ctx, fromPeriodID)
}

// ClosePeriod settles every unit's closing balance into the next period and
// marks the period closed, permanently. Unit debt becomes a single
// carried-forward due in the next period's first month; unit credit becomes a
// negative opening balance consumed by future generation runs. Active
// escalation workflows at warning stage or beyond cross the boundary intact,
// recorded as legal flag transfers.
func (s *Service) ClosePeriod(ctx context.Context, periodID, nextPeriodID int64) (Result, error) {
	if periodID == nextPeriodID {
		return Result{}, fmt.Errorf("%w: a period cannot roll into itself", shared.ErrValidation)
	}

	release, err := s.leases.Acquire(ctx, shared.PeriodLockKey(periodID))
	if err != nil {
		return Result{}, err
	}
	defer release()

	actor := shared.ActorFromContext(ctx)
	closedAt := s.now()
	result := Result{PeriodID: periodID, NextPeriodID: nextPeriodID}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		period, err := s.sites.GetPeriodForUpdate(ctx, tx, periodID)
		if err != nil {
			return err
		}
		if err := shared.ValidatePeriodTransition(period.Status, shared.PeriodStatusClosed); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrConflict, err)
		}
		next, err := s.sites.GetPeriodForUpdate(ctx, tx, nextPeriodID)
		if err != nil {
			return err
		}
		if next.SiteID != period.SiteID {
			return fmt.Errorf("%w: next period belongs to a different site", shared.ErrValidation)
		}
		if next.Status == shared.PeriodStatusClosed {
			return fmt.Errorf("%w: next period %d is closed", shared.ErrConflict, nextPeriodID)
		}
		if next.StartDate.Before(period.EndDate) {
			return fmt.Errorf("%w: next period starts before the closing period ends", shared.ErrValidation)
		}

		site, err := s.sites.GetSite(ctx, period.SiteID)
		if err != nil {
			return err
		}
		units, err := s.sites.ListUnits(ctx, period.SiteID)
		if err != nil {
			return err
		}
		periodDues, err := s.dues.ListForPeriod(ctx, tx, periodID)
		if err != nil {
			return err
		}

		net := make(map[int64]decimal.Decimal, len(units))
		for _, u := range units {
			net[u.ID] = u.OpeningBalance
		}
		for _, d := range periodDues {
			net[d.UnitID] = net[d.UnitID].Add(d.Balance())
		}

		carryMonth := time.Date(next.StartDate.Year(), next.StartDate.Month(), 1, 0, 0, 0, 0, time.UTC)
		for _, u := range units {
			balance := net[u.ID]
			switch balance.Sign() {
			case 1:
				_, err = s.dues.InsertDue(ctx, tx, dues.Due{
					UnitID:           u.ID,
					PeriodID:         nextPeriodID,
					MonthDate:        carryMonth,
					BaseAmount:       balance,
					PenaltyAmount:    decimal.Zero,
					PaidAmount:       decimal.Zero,
					Status:           dues.StatusPending,
					CurrencyCode:     site.ReportingCurrency,
					IsCarriedForward: true,
					Description:      fmt.Sprintf("Carried forward from %s", period.Name),
					CreatedBy:        actor.UserID,
				})
				if err != nil {
					return err
				}
				if err := s.sites.UpdateUnitOpeningBalance(ctx, tx, u.ID, decimal.Zero); err != nil {
					return err
				}
				if _, err := s.repo.InsertTransfer(ctx, tx, BalanceTransfer{
					UnitID:       u.ID,
					FromPeriodID: periodID,
					ToPeriodID:   nextPeriodID,
					Type:         TransferDebt,
					Amount:       balance,
					CurrencyCode: site.ReportingCurrency,
				}); err != nil {
					return err
				}
				result.DebtCarried++
			case -1:
				if err := s.sites.UpdateUnitOpeningBalance(ctx, tx, u.ID, balance); err != nil {
					return err
				}
				if _, err := s.repo.InsertTransfer(ctx, tx, BalanceTransfer{
					UnitID:       u.ID,
					FromPeriodID: periodID,
					ToPeriodID:   nextPeriodID,
					Type:         TransferCredit,
					Amount:       balance.Abs(),
					CurrencyCode: site.ReportingCurrency,
				}); err != nil {
					return err
				}
				result.CreditCarried++
			default:
				if !u.OpeningBalance.IsZero() {
					if err := s.sites.UpdateUnitOpeningBalance(ctx, tx, u.ID, decimal.Zero); err != nil {
						return err
					}
				}
			}

			// Escalation continuity is independent of the closing balance: a
			// unit in warning stage or beyond keeps its standing in the next
			// period even if the carried amount itself is zero or credit.
			w, err := s.collections.GetByUnitTx(ctx, tx, u.ID)
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !w.Active || w.Stage < collections.StageWarning {
				continue
			}
			if _, err := s.repo.InsertTransfer(ctx, tx, BalanceTransfer{
				UnitID:       u.ID,
				FromPeriodID: periodID,
				ToPeriodID:   nextPeriodID,
				Type:         TransferLegalFlag,
				Amount:       w.DebtAmount,
				CurrencyCode: w.CurrencyCode,
				LegalFlag:    true,
			}); err != nil {
				return err
			}
			if err := s.collections.ReassignPeriod(ctx, tx, u.ID, nextPeriodID); err != nil {
				return err
			}
			result.LegalFlagged++
		}

		return s.sites.UpdatePeriodStatus(ctx, tx, periodID, shared.PeriodStatusClosed, &closedAt)
	})
	if err != nil {
		return Result{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPeriodClosed()
	}
	s.logger.Info("period closed",
		slog.Int64("period_id", periodID),
		slog.Int64("next_period_id", nextPeriodID),
		slog.Int("debt_carried", result.DebtCarried),
		slog.Int("credit_carried", result.CreditCarried),
		slog.Int("legal_flagged", result.LegalFlagged))
	return result, nil
}
