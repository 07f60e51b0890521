package reporting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stratafin/stratafin/internal/budget"
	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubReportsRepo struct {
	balances   []UnitBalance
	totalDues  decimal.Decimal
	totalPaid  decimal.Decimal
	stages     map[int]int
	alerts     []DebtAlert
	alertCalls int
}

func (r *stubReportsRepo) UnitBalances(ctx context.Context, siteID int64) ([]UnitBalance, error) {
	return r.balances, nil
}

func (r *stubReportsRepo) PeriodCollection(ctx context.Context, periodID int64) (decimal.Decimal, decimal.Decimal, error) {
	return r.totalDues, r.totalPaid, nil
}

func (r *stubReportsRepo) StageCounts(ctx context.Context, siteID int64) (map[int]int, error) {
	return r.stages, nil
}

func (r *stubReportsRepo) DebtAlerts(ctx context.Context, siteID int64, minStage int) ([]DebtAlert, error) {
	r.alertCalls++
	return r.alerts, nil
}

type stubMasterData struct {
	site     sites.Site
	settings sites.Settings
	units    []sites.Unit
	periods  map[int64]sites.FiscalPeriod
}

func (s *stubMasterData) GetSite(ctx context.Context, id int64) (sites.Site, error) {
	return s.site, nil
}

func (s *stubMasterData) GetSettings(ctx context.Context, siteID int64) (sites.Settings, error) {
	return s.settings, nil
}

func (s *stubMasterData) ListUnits(ctx context.Context, siteID int64) ([]sites.Unit, error) {
	return s.units, nil
}

func (s *stubMasterData) GetPeriod(ctx context.Context, id int64) (sites.FiscalPeriod, error) {
	p, ok := s.periods[id]
	if !ok {
		return sites.FiscalPeriod{}, fmt.Errorf("%w: period %d", shared.ErrNotFound, id)
	}
	return p, nil
}

type stubBudgetPort struct {
	categories []budget.Category
}

func (b *stubBudgetPort) ListByPeriod(ctx context.Context, periodID int64) ([]budget.Category, error) {
	return b.categories, nil
}

func newReportingFixture(cache *redis.Client) (*Service, *stubReportsRepo, *stubMasterData, *stubBudgetPort) {
	repo := &stubReportsRepo{stages: map[int]int{}}
	master := &stubMasterData{
		site: sites.Site{ID: 10, Name: "Marina", ReportingCurrency: "TRY"},
		settings: sites.Settings{
			SiteID:             10,
			DistributionMethod: sites.DistributionByCoefficient,
		},
		periods: map[int64]sites.FiscalPeriod{
			1: {ID: 1, SiteID: 10, Name: "2026", Status: shared.PeriodStatusActive},
		},
	}
	budgetPort := &stubBudgetPort{}
	svc := NewService(repo, master, budgetPort, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, master, budgetPort
}

func TestSiteSummary(t *testing.T) {
	svc, repo, _, budgetPort := newReportingFixture(nil)
	repo.totalDues = dec("72000")
	repo.totalPaid = dec("54000")
	repo.stages = map[int]int{2: 3, 4: 1}
	budgetPort.categories = []budget.Category{
		{Name: "maintenance", PlannedAmount: dec("30000"), ActualAmount: dec("21000")},
		{Name: "utilities", PlannedAmount: dec("12000"), ActualAmount: dec("14000")},
	}

	summary, err := svc.SiteSummary(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Equal(t, "TRY", summary.CurrencyCode)
	require.True(t, summary.CollectionRate.Equal(dec("0.75")))
	require.True(t, summary.TotalExpenses.Equal(dec("35000")))
	require.Len(t, summary.Categories, 2)
	require.True(t, summary.Categories[1].Remaining.Equal(dec("-2000")), "overspend is negative remaining")
	require.Equal(t, map[int]int{2: 3, 4: 1}, summary.StageCounts)
}

func TestSiteSummaryZeroDues(t *testing.T) {
	svc, _, _, _ := newReportingFixture(nil)

	summary, err := svc.SiteSummary(context.Background(), 10, 1)
	require.NoError(t, err)
	require.True(t, summary.CollectionRate.IsZero())
}

func TestSiteSummaryRejectsForeignPeriod(t *testing.T) {
	svc, _, master, _ := newReportingFixture(nil)
	master.periods[2] = sites.FiscalPeriod{ID: 2, SiteID: 99, Name: "other"}

	_, err := svc.SiteSummary(context.Background(), 10, 2)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUnitSharesNormalize(t *testing.T) {
	svc, _, master, _ := newReportingFixture(nil)
	master.units = []sites.Unit{
		{ID: 100, Name: "A1", Coefficient: dec("1"), ShareRatio: dec("0.5")},
		{ID: 101, Name: "A2", Coefficient: dec("1"), ShareRatio: dec("0.3")},
		{ID: 102, Name: "A3", Coefficient: dec("2"), ShareRatio: dec("0.2")},
	}

	shares, err := svc.UnitShares(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, shares, 3)
	require.True(t, shares[0].Share.Equal(dec("0.25")))
	require.True(t, shares[2].Share.Equal(dec("0.5")))

	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Share)
	}
	require.True(t, total.Equal(dec("1")))

	master.settings.DistributionMethod = sites.DistributionByShareRatio
	shares, err = svc.UnitShares(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, shares[0].Share.Equal(dec("0.5")))
	require.True(t, shares[1].Share.Equal(dec("0.3")))
}

func TestUnitSharesZeroWeights(t *testing.T) {
	svc, _, master, _ := newReportingFixture(nil)
	master.units = []sites.Unit{
		{ID: 100, Name: "A1"},
		{ID: 101, Name: "A2"},
	}

	shares, err := svc.UnitShares(context.Background(), 10)
	require.NoError(t, err)
	for _, s := range shares {
		require.True(t, s.Share.IsZero())
	}
}

func TestDebtAlertsCached(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	svc, repo, _, _ := newReportingFixture(client)
	repo.alerts = []DebtAlert{
		{UnitID: 100, UnitName: "A1", Stage: 3, DebtAmount: dec("4200"), CurrencyCode: "TRY", OldestUnpaid: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}
	ctx := context.Background()

	alerts, err := svc.DebtAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, 1, repo.alertCalls)

	// Second read is served from the cache.
	alerts, err = svc.DebtAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, int64(100), alerts[0].UnitID)
	require.Equal(t, 1, repo.alertCalls)

	// Expiry forces a fresh query.
	srv.FastForward(6 * time.Minute)
	_, err = svc.DebtAlerts(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, repo.alertCalls)
}

func TestDebtAlertsWithoutCache(t *testing.T) {
	svc, repo, _, _ := newReportingFixture(nil)
	repo.alerts = []DebtAlert{{UnitID: 100, Stage: 2, DebtAmount: dec("1200")}}

	alerts, err := svc.DebtAlerts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	_, err = svc.DebtAlerts(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, repo.alertCalls)
}
