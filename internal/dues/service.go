package dues

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

// RepositoryPort defines data access methods for dues.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	GetDue(ctx context.Context, id int64) (Due, error)
	ExistingMonths(ctx context.Context, tx pgx.Tx, periodID int64) (map[int64]map[string]bool, error)
	InsertDue(ctx context.Context, tx pgx.Tx, d Due) (int64, error)
	ListForUnitInPeriod(ctx context.Context, tx pgx.Tx, periodID, unitID int64, forUpdate bool) ([]Due, error)
	ListForPeriod(ctx context.Context, tx pgx.Tx, periodID int64) ([]Due, error)
	ListByUnit(ctx context.Context, unitID int64) ([]Due, error)
	UpdatePricing(ctx context.Context, tx pgx.Tx, id int64, base, penalty decimal.Decimal, currency string, status Status) error
	ClearAllocationRefs(ctx context.Context, tx pgx.Tx, dueIDs []int64) error
	DeleteByIDs(ctx context.Context, tx pgx.Tx, dueIDs []int64) (int64, error)
	DebtByUnit(ctx context.Context, siteID int64) ([]UnitDebt, error)
}

// SitesPort exposes the master data the due ledger needs.
type SitesPort interface {
	GetPeriod(ctx context.Context, id int64) (sites.FiscalPeriod, error)
	ListUnits(ctx context.Context, siteID int64) ([]sites.Unit, error)
	GetSettings(ctx context.Context, siteID int64) (sites.Settings, error)
	GetSite(ctx context.Context, id int64) (sites.Site, error)
}

// MetricsPort records engine counters.
type MetricsPort interface {
	RecordDuesGenerated(n int)
}

// Service implements the due ledger operations.
type Service struct {
	repo    RepositoryPort
	sites   SitesPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, sitesPort SitesPort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, sites: sitesPort, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetDue returns one due.
func (s *Service) GetDue(ctx context.Context, id int64) (Due, error) {
	return s.repo.GetDue(ctx, id)
}

// ListByUnit returns a unit's dues ordered by month.
func (s *Service) ListByUnit(ctx context.Context, unitID int64) ([]Due, error) {
	return s.repo.ListByUnit(ctx, unitID)
}

// DebtByUnit aggregates outstanding debt per unit for a site.
func (s *Service) DebtByUnit(ctx context.Context, siteID int64) ([]UnitDebt, error) {
	return s.repo.DebtByUnit(ctx, siteID)
}

func (s *Service) mutablePeriod(ctx context.Context, periodID int64) (sites.FiscalPeriod, error) {
	period, err := s.sites.GetPeriod(ctx, periodID)
	if err != nil {
		return sites.FiscalPeriod{}, err
	}
	if period.Status == shared.PeriodStatusClosed {
		return sites.FiscalPeriod{}, fmt.Errorf("%w: period %d is closed", shared.ErrConflict, periodID)
	}
	return period, nil
}

// GenerateDues ensures every unit of the period's site has one due per
// calendar month in [start, end). Existing (unit, month) rows are left
// untouched, so the operation is idempotent and picks up units added after
// the period was activated.
func (s *Service) GenerateDues(ctx context.Context, periodID int64) (int, error) {
	period, err := s.mutablePeriod(ctx, periodID)
	if err != nil {
		return 0, err
	}
	site, err := s.sites.GetSite(ctx, period.SiteID)
	if err != nil {
		return 0, err
	}
	units, err := s.sites.ListUnits(ctx, period.SiteID)
	if err != nil {
		return 0, err
	}
	months := MonthsInRange(period.StartDate, period.EndDate)
	actor := shared.ActorFromContext(ctx)
	asOf := s.now()

	created := 0
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := s.repo.ExistingMonths(ctx, tx, periodID)
		if err != nil {
			return err
		}
		for _, unit := range units {
			for _, month := range months {
				if existing[unit.ID][month.Format("2006-01")] {
					continue
				}
				due := Due{
					UnitID:       unit.ID,
					PeriodID:     periodID,
					MonthDate:    month,
					BaseAmount:   decimal.Zero,
					PaidAmount:   decimal.Zero,
					Status:       StatusFor(decimal.Zero, decimal.Zero, month, asOf),
					CurrencyCode: site.ReportingCurrency,
					Description:  fmt.Sprintf("%s dues %s", period.Name, month.Format("2006-01")),
					CreatedBy:    actor.UserID,
				}
				if _, err := s.repo.InsertDue(ctx, tx, due); err != nil {
					return err
				}
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		if s.metrics != nil {
			s.metrics.RecordDuesGenerated(created)
		}
		s.logger.Info("dues generated",
			slog.Int64("period_id", periodID), slog.Int("created", created))
	}
	return created, nil
}

// SetMonthlyAmount re-prices the base amount and currency for one unit's dues
// in a period. The new total is computed before committing: re-pricing that
// would leave paid above total is rejected rather than clamped.
func (s *Service) SetMonthlyAmount(ctx context.Context, unitID, periodID int64, amount decimal.Decimal, currency string) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: monthly amount cannot be negative", shared.ErrValidation)
	}
	if currency == "" {
		return fmt.Errorf("%w: currency required", shared.ErrValidation)
	}
	if _, err := s.mutablePeriod(ctx, periodID); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := s.repo.ListForUnitInPeriod(ctx, tx, periodID, unitID, true)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: no dues for unit %d in period %d", shared.ErrNotFound, unitID, periodID)
		}
		return s.repriceAll(ctx, tx, rows, amount, currency)
	})
}

// SetAllUnitsMonthlyAmount re-prices every unit's dues in the period.
func (s *Service) SetAllUnitsMonthlyAmount(ctx context.Context, periodID int64, amount decimal.Decimal, currency string) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: monthly amount cannot be negative", shared.ErrValidation)
	}
	if currency == "" {
		return fmt.Errorf("%w: currency required", shared.ErrValidation)
	}
	if _, err := s.mutablePeriod(ctx, periodID); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := s.repo.ListForPeriod(ctx, tx, periodID)
		if err != nil {
			return err
		}
		return s.repriceAll(ctx, tx, rows, amount, currency)
	})
}

func (s *Service) repriceAll(ctx context.Context, tx pgx.Tx, rows []Due, amount decimal.Decimal, currency string) error {
	asOf := s.now()
	// Validate the whole scope first so nothing commits on a partial failure.
	for _, d := range rows {
		if d.IsCarriedForward {
			continue
		}
		newTotal := amount.Add(d.PenaltyAmount)
		if d.PaidAmount.GreaterThan(newTotal) {
			return fmt.Errorf("%w: re-pricing due %d would drop total %s below paid %s",
				shared.ErrConflict, d.ID, newTotal, d.PaidAmount)
		}
	}
	for _, d := range rows {
		if d.IsCarriedForward {
			continue
		}
		status := StatusFor(d.PaidAmount, amount.Add(d.PenaltyAmount), d.MonthDate, asOf)
		if err := s.repo.UpdatePricing(ctx, tx, d.ID, amount, d.PenaltyAmount, currency, status); err != nil {
			return err
		}
	}
	return nil
}

// ApplyLatePenalties stamps the configured penalty onto overdue dues older
// than the site's threshold. A due is penalised at most once.
func (s *Service) ApplyLatePenalties(ctx context.Context, periodID int64, asOf time.Time) (int, error) {
	period, err := s.mutablePeriod(ctx, periodID)
	if err != nil {
		return 0, err
	}
	settings, err := s.sites.GetSettings(ctx, period.SiteID)
	if err != nil {
		return 0, err
	}
	if settings.PenaltyPercent.Sign() <= 0 {
		return 0, nil
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	applied := 0
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := s.repo.ListForPeriod(ctx, tx, periodID)
		if err != nil {
			return err
		}
		for _, d := range rows {
			if d.PenaltyAmount.Sign() != 0 || d.BaseAmount.Sign() == 0 {
				continue
			}
			if d.PaidAmount.GreaterThanOrEqual(d.TotalAmount()) {
				continue
			}
			if MonthsOverdue(d.MonthDate, asOf) < settings.PenaltyThresholdMonths {
				continue
			}
			penalty := d.BaseAmount.Mul(settings.PenaltyPercent).Div(decimal.NewFromInt(100))
			status := StatusFor(d.PaidAmount, d.BaseAmount.Add(penalty), d.MonthDate, asOf)
			if err := s.repo.UpdatePricing(ctx, tx, d.ID, d.BaseAmount, penalty, d.CurrencyCode, status); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// ForceDeleteDues removes due rows from a period after detaching payment
// allocation references, preserving payment and ledger history. When filter
// is non-empty only dues whose description matches it are removed; matching
// is case- and whitespace-insensitive.
func (s *Service) ForceDeleteDues(ctx context.Context, periodID int64, filter string) (int64, error) {
	if _, err := s.sites.GetPeriod(ctx, periodID); err != nil {
		return 0, err
	}
	normalized := NormalizeDescription(filter)

	var deleted int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := s.repo.ListForPeriod(ctx, tx, periodID)
		if err != nil {
			return err
		}
		var ids []int64
		for _, d := range rows {
			if normalized != "" && NormalizeDescription(d.Description) != normalized {
				continue
			}
			ids = append(ids, d.ID)
		}
		if err := s.repo.ClearAllocationRefs(ctx, tx, ids); err != nil {
			return err
		}
		deleted, err = s.repo.DeleteByIDs(ctx, tx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Warn("dues force deleted",
			slog.Int64("period_id", periodID), slog.Int64("deleted", deleted))
	}
	return deleted, nil
}
