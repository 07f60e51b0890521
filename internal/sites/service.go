package sites

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stratafin/stratafin/internal/shared"
)

// RepositoryPort defines data access methods for site master data.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	GetSite(ctx context.Context, id int64) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)
	GetSettings(ctx context.Context, siteID int64) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
	InsertUnit(ctx context.Context, in CreateUnitInput) (Unit, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	ListUnits(ctx context.Context, siteID int64) ([]Unit, error)
	InsertPeriod(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error)
	GetPeriod(ctx context.Context, id int64) (FiscalPeriod, error)
	GetPeriodForUpdate(ctx context.Context, tx pgx.Tx, id int64) (FiscalPeriod, error)
	UpdatePeriodStatus(ctx context.Context, tx pgx.Tx, id int64, status string, closedAt *time.Time) error
	ListPeriods(ctx context.Context, siteID int64) ([]FiscalPeriod, error)
	PeriodRangeConflict(ctx context.Context, siteID int64, start, end time.Time) (bool, error)
}

// Service manages sites, units, settings and the fiscal period lifecycle.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetSite returns the site by id.
func (s *Service) GetSite(ctx context.Context, id int64) (Site, error) {
	return s.repo.GetSite(ctx, id)
}

// ListSites returns all sites.
func (s *Service) ListSites(ctx context.Context) ([]Site, error) {
	return s.repo.ListSites(ctx)
}

// GetSettings returns the site's persisted configuration.
func (s *Service) GetSettings(ctx context.Context, siteID int64) (Settings, error) {
	return s.repo.GetSettings(ctx, siteID)
}

// UpdateSettings validates and persists site configuration.
func (s *Service) UpdateSettings(ctx context.Context, in Settings) error {
	if in.SiteID == 0 {
		return fmt.Errorf("%w: site required", shared.ErrValidation)
	}
	switch in.DistributionMethod {
	case DistributionByCoefficient, DistributionByShareRatio:
	default:
		return fmt.Errorf("%w: unknown distribution method %q", shared.ErrValidation, in.DistributionMethod)
	}
	if in.PenaltyThresholdMonths < 0 {
		return fmt.Errorf("%w: penalty threshold cannot be negative", shared.ErrValidation)
	}
	if in.PenaltyPercent.Sign() < 0 {
		return fmt.Errorf("%w: penalty percent cannot be negative", shared.ErrValidation)
	}
	return s.repo.SaveSettings(ctx, in)
}

// CreateUnit registers a billable unit.
func (s *Service) CreateUnit(ctx context.Context, in CreateUnitInput) (Unit, error) {
	if err := in.Validate(); err != nil {
		return Unit{}, err
	}
	in.CreatedBy = shared.ActorFromContext(ctx).UserID
	return s.repo.InsertUnit(ctx, in)
}

// GetUnit returns a unit by id.
func (s *Service) GetUnit(ctx context.Context, id int64) (Unit, error) {
	return s.repo.GetUnit(ctx, id)
}

// ListUnits returns the site's units.
func (s *Service) ListUnits(ctx context.Context, siteID int64) ([]Unit, error) {
	return s.repo.ListUnits(ctx, siteID)
}

// CreatePeriod inserts a new fiscal period after validating range overlap.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error) {
	if err := in.Validate(); err != nil {
		return FiscalPeriod{}, err
	}
	conflict, err := s.repo.PeriodRangeConflict(ctx, in.SiteID, in.StartDate, in.EndDate)
	if err != nil {
		return FiscalPeriod{}, err
	}
	if conflict {
		return FiscalPeriod{}, fmt.Errorf("%w: period overlaps an existing period", shared.ErrConflict)
	}
	in.CreatedBy = shared.ActorFromContext(ctx).UserID
	return s.repo.InsertPeriod(ctx, in)
}

// GetPeriod returns a period by id.
func (s *Service) GetPeriod(ctx context.Context, id int64) (FiscalPeriod, error) {
	return s.repo.GetPeriod(ctx, id)
}

// ListPeriods returns the site's periods.
func (s *Service) ListPeriods(ctx context.Context, siteID int64) ([]FiscalPeriod, error) {
	return s.repo.ListPeriods(ctx, siteID)
}

// ActivatePeriod transitions a draft period into the active status.
func (s *Service) ActivatePeriod(ctx context.Context, id int64) (FiscalPeriod, error) {
	var period FiscalPeriod
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err := s.repo.GetPeriodForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := shared.ValidatePeriodTransition(p.Status, shared.PeriodStatusActive); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrConflict, err)
		}
		if err := s.repo.UpdatePeriodStatus(ctx, tx, id, shared.PeriodStatusActive, nil); err != nil {
			return err
		}
		p.Status = shared.PeriodStatusActive
		period = p
		return nil
	})
	if err != nil {
		return FiscalPeriod{}, err
	}
	return period, nil
}
