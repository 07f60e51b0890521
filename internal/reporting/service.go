package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/budget"
	"github.com/stratafin/stratafin/internal/collections"
	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

const debtAlertTTL = 5 * time.Minute

// RepositoryPort defines the read-side aggregate queries.
type RepositoryPort interface {
	UnitBalances(ctx context.Context, siteID int64) ([]UnitBalance, error)
	PeriodCollection(ctx context.Context, periodID int64) (totalDues, totalPaid decimal.Decimal, err error)
	StageCounts(ctx context.Context, siteID int64) (map[int]int, error)
	DebtAlerts(ctx context.Context, siteID int64, minStage int) ([]DebtAlert, error)
}

// SitesPort exposes the master data reports are shaped by.
type SitesPort interface {
	GetSite(ctx context.Context, id int64) (sites.Site, error)
	GetSettings(ctx context.Context, siteID int64) (sites.Settings, error)
	ListUnits(ctx context.Context, siteID int64) ([]sites.Unit, error)
	GetPeriod(ctx context.Context, id int64) (sites.FiscalPeriod, error)
}

// BudgetPort reads a period's budget lines.
type BudgetPort interface {
	ListByPeriod(ctx context.Context, periodID int64) ([]budget.Category, error)
}

// Service assembles the read models.
type Service struct {
	repo   RepositoryPort
	sites  SitesPort
	budget BudgetPort
	cache  *redis.Client
	logger *slog.Logger
}

func NewService(repo RepositoryPort, sitesPort SitesPort, budgetPort BudgetPort, cache *redis.Client, logger *slog.Logger) *Service {
	return &Service{repo: repo, sites: sitesPort, budget: budgetPort, cache: cache, logger: logger}
}

// UnitBalances returns each unit's live balance for a site.
func (s *Service) UnitBalances(ctx context.Context, siteID int64) ([]UnitBalance, error) {
	return s.repo.UnitBalances(ctx, siteID)
}

// SiteSummary builds the one-page period overview: collection progress,
// planned versus actual spend per category and the escalation stage spread.
func (s *Service) SiteSummary(ctx context.Context, siteID, periodID int64) (SiteSummary, error) {
	period, err := s.sites.GetPeriod(ctx, periodID)
	if err != nil {
		return SiteSummary{}, err
	}
	if period.SiteID != siteID {
		return SiteSummary{}, fmt.Errorf("%w: period %d does not belong to site %d", shared.ErrValidation, periodID, siteID)
	}
	site, err := s.sites.GetSite(ctx, siteID)
	if err != nil {
		return SiteSummary{}, err
	}

	totalDues, totalPaid, err := s.repo.PeriodCollection(ctx, periodID)
	if err != nil {
		return SiteSummary{}, err
	}
	rate := decimal.Zero
	if totalDues.Sign() > 0 {
		rate = totalPaid.Div(totalDues).Round(4)
	}

	categories, err := s.budget.ListByPeriod(ctx, periodID)
	if err != nil {
		return SiteSummary{}, err
	}
	lines := make([]CategoryLine, 0, len(categories))
	totalExpenses := decimal.Zero
	for _, c := range categories {
		lines = append(lines, CategoryLine{
			Category:  c.Name,
			Planned:   c.PlannedAmount,
			Actual:    c.ActualAmount,
			Remaining: c.PlannedAmount.Sub(c.ActualAmount),
		})
		totalExpenses = totalExpenses.Add(c.ActualAmount)
	}

	stages, err := s.repo.StageCounts(ctx, siteID)
	if err != nil {
		return SiteSummary{}, err
	}

	return SiteSummary{
		SiteID:         siteID,
		PeriodID:       periodID,
		CurrencyCode:   site.ReportingCurrency,
		TotalDues:      totalDues,
		TotalCollected: totalPaid,
		CollectionRate: rate,
		TotalExpenses:  totalExpenses,
		Categories:     lines,
		StageCounts:    stages,
	}, nil
}

// DebtAlerts lists units escalated to warning stage or beyond. The result is
// cached briefly since dashboards poll it.
func (s *Service) DebtAlerts(ctx context.Context, siteID int64) ([]DebtAlert, error) {
	key := fmt.Sprintf("reporting:debt_alerts:%d", siteID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var cached []DebtAlert
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	alerts, err := s.repo.DebtAlerts(ctx, siteID, collections.StageWarning)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(alerts); err == nil {
			if err := s.cache.Set(ctx, key, raw, debtAlertTTL).Err(); err != nil {
				s.logger.Warn("debt alert cache write failed", slog.Any("error", err))
			}
		}
	}
	return alerts, nil
}

// UnitShares returns each unit's normalized weight under the site's
// configured distribution method. Shares sum to one for a site with any
// weighted units.
func (s *Service) UnitShares(ctx context.Context, siteID int64) ([]UnitShare, error) {
	settings, err := s.sites.GetSettings(ctx, siteID)
	if err != nil {
		return nil, err
	}
	units, err := s.sites.ListUnits(ctx, siteID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, u := range units {
		total = total.Add(u.Weight(settings.DistributionMethod))
	}

	out := make([]UnitShare, 0, len(units))
	for _, u := range units {
		weight := u.Weight(settings.DistributionMethod)
		share := decimal.Zero
		if total.Sign() > 0 {
			share = weight.Div(total).Round(6)
		}
		out = append(out, UnitShare{
			UnitID:   u.ID,
			UnitName: u.Name,
			Weight:   weight,
			Share:    share,
		})
	}
	return out, nil
}
