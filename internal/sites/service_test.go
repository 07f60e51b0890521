package sites

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stratafin/stratafin/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubSitesRepo struct {
	sites    map[int64]Site
	settings map[int64]Settings
	units    map[int64]*Unit
	periods  map[int64]*FiscalPeriod
	nextID   int64
}

func newStubSitesRepo() *stubSitesRepo {
	return &stubSitesRepo{
		sites:    map[int64]Site{},
		settings: map[int64]Settings{},
		units:    map[int64]*Unit{},
		periods:  map[int64]*FiscalPeriod{},
		nextID:   1,
	}
}

func (r *stubSitesRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (r *stubSitesRepo) GetSite(ctx context.Context, id int64) (Site, error) {
	s, ok := r.sites[id]
	if !ok {
		return Site{}, fmt.Errorf("%w: site %d", shared.ErrNotFound, id)
	}
	return s, nil
}

func (r *stubSitesRepo) ListSites(ctx context.Context) ([]Site, error) {
	var out []Site
	for _, s := range r.sites {
		out = append(out, s)
	}
	return out, nil
}

func (r *stubSitesRepo) GetSettings(ctx context.Context, siteID int64) (Settings, error) {
	s, ok := r.settings[siteID]
	if !ok {
		return Settings{}, fmt.Errorf("%w: settings for site %d", shared.ErrNotFound, siteID)
	}
	return s, nil
}

func (r *stubSitesRepo) SaveSettings(ctx context.Context, s Settings) error {
	r.settings[s.SiteID] = s
	return nil
}

func (r *stubSitesRepo) InsertUnit(ctx context.Context, in CreateUnitInput) (Unit, error) {
	u := Unit{
		ID:             r.nextID,
		SiteID:         in.SiteID,
		Name:           in.Name,
		Coefficient:    in.Coefficient,
		ShareRatio:     in.ShareRatio,
		OpeningBalance: in.OpeningBalance,
	}
	r.nextID++
	r.units[u.ID] = &u
	return u, nil
}

func (r *stubSitesRepo) GetUnit(ctx context.Context, id int64) (Unit, error) {
	u, ok := r.units[id]
	if !ok {
		return Unit{}, fmt.Errorf("%w: unit %d", shared.ErrNotFound, id)
	}
	return *u, nil
}

func (r *stubSitesRepo) ListUnits(ctx context.Context, siteID int64) ([]Unit, error) {
	var out []Unit
	for _, u := range r.units {
		if u.SiteID == siteID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *stubSitesRepo) InsertPeriod(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error) {
	p := FiscalPeriod{
		ID:          r.nextID,
		SiteID:      in.SiteID,
		Name:        in.Name,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		TotalBudget: in.TotalBudget,
		Status:      shared.PeriodStatusDraft,
	}
	r.nextID++
	r.periods[p.ID] = &p
	return p, nil
}

func (r *stubSitesRepo) GetPeriod(ctx context.Context, id int64) (FiscalPeriod, error) {
	p, ok := r.periods[id]
	if !ok {
		return FiscalPeriod{}, fmt.Errorf("%w: period %d", shared.ErrNotFound, id)
	}
	return *p, nil
}

func (r *stubSitesRepo) GetPeriodForUpdate(ctx context.Context, tx pgx.Tx, id int64) (FiscalPeriod, error) {
	return r.GetPeriod(ctx, id)
}

func (r *stubSitesRepo) UpdatePeriodStatus(ctx context.Context, tx pgx.Tx, id int64, status string, closedAt *time.Time) error {
	p, ok := r.periods[id]
	if !ok {
		return fmt.Errorf("%w: period %d", shared.ErrNotFound, id)
	}
	p.Status = status
	p.ClosedAt = closedAt
	return nil
}

func (r *stubSitesRepo) ListPeriods(ctx context.Context, siteID int64) ([]FiscalPeriod, error) {
	var out []FiscalPeriod
	for _, p := range r.periods {
		if p.SiteID == siteID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *stubSitesRepo) PeriodRangeConflict(ctx context.Context, siteID int64, start, end time.Time) (bool, error) {
	for _, p := range r.periods {
		if p.SiteID != siteID {
			continue
		}
		if start.Before(p.EndDate) && p.StartDate.Before(end) {
			return true, nil
		}
	}
	return false, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreatePeriodRejectsOverlap(t *testing.T) {
	repo := newStubSitesRepo()
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.CreatePeriod(ctx, CreatePeriodInput{
		SiteID:    10,
		Name:      "2026",
		StartDate: date(2026, time.January, 1),
		EndDate:   date(2027, time.January, 1),
	})
	require.NoError(t, err)
	require.Equal(t, shared.PeriodStatusDraft, first.Status)

	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{
		SiteID:    10,
		Name:      "2026 H2",
		StartDate: date(2026, time.July, 1),
		EndDate:   date(2027, time.July, 1),
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	// Back-to-back periods touch at the boundary without overlapping.
	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{
		SiteID:    10,
		Name:      "2027",
		StartDate: date(2027, time.January, 1),
		EndDate:   date(2028, time.January, 1),
	})
	require.NoError(t, err)

	// A different site is free to use the same range.
	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{
		SiteID:    11,
		Name:      "2026",
		StartDate: date(2026, time.January, 1),
		EndDate:   date(2027, time.January, 1),
	})
	require.NoError(t, err)
}

func TestCreatePeriodValidation(t *testing.T) {
	svc := NewService(newStubSitesRepo())
	ctx := context.Background()

	_, err := svc.CreatePeriod(ctx, CreatePeriodInput{
		SiteID:    10,
		Name:      "bad",
		StartDate: date(2026, time.June, 1),
		EndDate:   date(2026, time.June, 1),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{
		SiteID:    10,
		Name:      " ",
		StartDate: date(2026, time.January, 1),
		EndDate:   date(2027, time.January, 1),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestActivatePeriodLifecycle(t *testing.T) {
	repo := newStubSitesRepo()
	svc := NewService(repo)
	ctx := context.Background()

	p, err := svc.CreatePeriod(ctx, CreatePeriodInput{
		SiteID:    10,
		Name:      "2026",
		StartDate: date(2026, time.January, 1),
		EndDate:   date(2027, time.January, 1),
	})
	require.NoError(t, err)

	activated, err := svc.ActivatePeriod(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, shared.PeriodStatusActive, activated.Status)

	// Activation is idempotent; same-status transitions pass through.
	_, err = svc.ActivatePeriod(ctx, p.ID)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, repo.UpdatePeriodStatus(ctx, nil, p.ID, shared.PeriodStatusClosed, &now))
	_, err = svc.ActivatePeriod(ctx, p.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateSettingsValidation(t *testing.T) {
	repo := newStubSitesRepo()
	svc := NewService(repo)
	ctx := context.Background()

	err := svc.UpdateSettings(ctx, Settings{
		SiteID:                 10,
		DistributionMethod:     DistributionByShareRatio,
		PenaltyThresholdMonths: 3,
		PenaltyPercent:         dec("10"),
	})
	require.NoError(t, err)

	err = svc.UpdateSettings(ctx, Settings{SiteID: 10, DistributionMethod: "HEADCOUNT"})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = svc.UpdateSettings(ctx, Settings{SiteID: 10, DistributionMethod: DistributionByCoefficient, PenaltyPercent: dec("-5")})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = svc.UpdateSettings(ctx, Settings{SiteID: 10, DistributionMethod: DistributionByCoefficient, PenaltyThresholdMonths: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUnitWeight(t *testing.T) {
	u := Unit{Coefficient: dec("1.5"), ShareRatio: dec("0.02")}
	require.True(t, u.Weight(DistributionByCoefficient).Equal(dec("1.5")))
	require.True(t, u.Weight(DistributionByShareRatio).Equal(dec("0.02")))
}

func TestCreateUnitValidation(t *testing.T) {
	svc := NewService(newStubSitesRepo())
	ctx := context.Background()

	_, err := svc.CreateUnit(ctx, CreateUnitInput{SiteID: 10, Name: "A1", Coefficient: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	u, err := svc.CreateUnit(ctx, CreateUnitInput{SiteID: 10, Name: "A1", Coefficient: dec("1"), OpeningBalance: dec("-100")})
	require.NoError(t, err)
	require.True(t, u.OpeningBalance.Equal(dec("-100")), "credit opening balances are allowed")
}
