package rollover

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stratafin/stratafin/internal/collections"
	"github.com/stratafin/stratafin/internal/dues"
	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubTransferRepo struct {
	transfers []BalanceTransfer
	nextID    int64
}

func (r *stubTransferRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (r *stubTransferRepo) InsertTransfer(ctx context.Context, tx pgx.Tx, t BalanceTransfer) (int64, error) {
	r.nextID++
	t.ID = r.nextID
	r.transfers = append(r.transfers, t)
	return t.ID, nil
}

func (r *stubTransferRepo) ListTransfers(ctx context.Context, fromPeriodID int64) ([]BalanceTransfer, error) {
	var out []BalanceTransfer
	for _, t := range r.transfers {
		if t.FromPeriodID == fromPeriodID {
			out = append(out, t)
		}
	}
	return out, nil
}

type stubMasterData struct {
	site    sites.Site
	units   map[int64]*sites.Unit
	periods map[int64]*sites.FiscalPeriod
}

func (s *stubMasterData) GetSite(ctx context.Context, id int64) (sites.Site, error) {
	return s.site, nil
}

func (s *stubMasterData) ListUnits(ctx context.Context, siteID int64) ([]sites.Unit, error) {
	var out []sites.Unit
	for _, u := range s.units {
		out = append(out, *u)
	}
	return out, nil
}

func (s *stubMasterData) GetPeriodForUpdate(ctx context.Context, tx pgx.Tx, id int64) (sites.FiscalPeriod, error) {
	p, ok := s.periods[id]
	if !ok {
		return sites.FiscalPeriod{}, fmt.Errorf("%w: period %d", shared.ErrNotFound, id)
	}
	return *p, nil
}

func (s *stubMasterData) UpdatePeriodStatus(ctx context.Context, tx pgx.Tx, id int64, status string, closedAt *time.Time) error {
	p, ok := s.periods[id]
	if !ok {
		return fmt.Errorf("%w: period %d", shared.ErrNotFound, id)
	}
	p.Status = status
	p.ClosedAt = closedAt
	return nil
}

func (s *stubMasterData) UpdateUnitOpeningBalance(ctx context.Context, tx pgx.Tx, unitID int64, balance decimal.Decimal) error {
	u, ok := s.units[unitID]
	if !ok {
		return fmt.Errorf("%w: unit %d", shared.ErrNotFound, unitID)
	}
	u.OpeningBalance = balance
	return nil
}

type stubDuesPort struct {
	rows     []dues.Due
	inserted []dues.Due
}

func (d *stubDuesPort) ListForPeriod(ctx context.Context, tx pgx.Tx, periodID int64) ([]dues.Due, error) {
	var out []dues.Due
	for _, row := range d.rows {
		if row.PeriodID == periodID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (d *stubDuesPort) InsertDue(ctx context.Context, tx pgx.Tx, due dues.Due) (int64, error) {
	d.inserted = append(d.inserted, due)
	return int64(len(d.inserted)), nil
}

type stubCollectionsPort struct {
	workflows map[int64]collections.Workflow
}

func (c *stubCollectionsPort) GetByUnitTx(ctx context.Context, tx pgx.Tx, unitID int64) (collections.Workflow, error) {
	w, ok := c.workflows[unitID]
	if !ok {
		return collections.Workflow{}, fmt.Errorf("%w: workflow for unit %d", shared.ErrNotFound, unitID)
	}
	return w, nil
}

func (c *stubCollectionsPort) ReassignPeriod(ctx context.Context, tx pgx.Tx, unitID, periodID int64) error {
	w, ok := c.workflows[unitID]
	if !ok {
		return fmt.Errorf("%w: workflow for unit %d", shared.ErrNotFound, unitID)
	}
	w.PeriodID = periodID
	c.workflows[unitID] = w
	return nil
}

type noopLeases struct{}

func (noopLeases) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

type rolloverFixture struct {
	svc         *Service
	repo        *stubTransferRepo
	master      *stubMasterData
	dues        *stubDuesPort
	collections *stubCollectionsPort
}

func newRolloverFixture() rolloverFixture {
	repo := &stubTransferRepo{}
	master := &stubMasterData{
		site: sites.Site{ID: 10, Name: "Marina", ReportingCurrency: "TRY"},
		units: map[int64]*sites.Unit{
			100: {ID: 100, SiteID: 10, Name: "A1"},
			101: {ID: 101, SiteID: 10, Name: "A2"},
			102: {ID: 102, SiteID: 10, Name: "A3"},
		},
		periods: map[int64]*sites.FiscalPeriod{
			1: {
				ID: 1, SiteID: 10, Name: "2026",
				StartDate: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
				Status:    shared.PeriodStatusActive,
			},
			2: {
				ID: 2, SiteID: 10, Name: "2027",
				StartDate: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2028, time.January, 1, 0, 0, 0, 0, time.UTC),
				Status:    shared.PeriodStatusDraft,
			},
		},
	}
	duesPort := &stubDuesPort{}
	collectionsPort := &stubCollectionsPort{workflows: map[int64]collections.Workflow{}}
	svc := NewService(repo, master, duesPort, collectionsPort, noopLeases{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.WithNow(func() time.Time {
		return time.Date(2027, time.January, 2, 10, 0, 0, 0, time.UTC)
	})
	return rolloverFixture{svc: svc, repo: repo, master: master, dues: duesPort, collections: collectionsPort}
}

func closingDue(unitID int64, base, paid string) dues.Due {
	return dues.Due{
		UnitID:       unitID,
		PeriodID:     1,
		MonthDate:    time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC),
		BaseAmount:   decimal.RequireFromString(base),
		PaidAmount:   decimal.RequireFromString(paid),
		CurrencyCode: "TRY",
	}
}

func TestClosePeriodCarriesDebtForward(t *testing.T) {
	f := newRolloverFixture()
	f.dues.rows = []dues.Due{
		closingDue(100, "600", "0"),
		closingDue(100, "600", "200"),
		closingDue(101, "600", "600"),
		closingDue(102, "600", "600"),
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, result.DebtCarried)
	require.Equal(t, 0, result.CreditCarried)

	require.Len(t, f.dues.inserted, 1)
	carried := f.dues.inserted[0]
	require.Equal(t, int64(100), carried.UnitID)
	require.Equal(t, int64(2), carried.PeriodID)
	require.True(t, carried.BaseAmount.Equal(dec("1000")))
	require.True(t, carried.IsCarriedForward)
	require.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), carried.MonthDate)
	require.Equal(t, "TRY", carried.CurrencyCode)

	// The debt now lives in the next period, so the opening balance resets.
	require.True(t, f.master.units[100].OpeningBalance.IsZero())

	require.Len(t, f.repo.transfers, 1)
	require.Equal(t, TransferDebt, f.repo.transfers[0].Type)
	require.True(t, f.repo.transfers[0].Amount.Equal(dec("1000")))

	require.Equal(t, shared.PeriodStatusClosed, f.master.periods[1].Status)
	require.NotNil(t, f.master.periods[1].ClosedAt)
}

func TestClosePeriodCarriesCreditAsNegativeOpening(t *testing.T) {
	f := newRolloverFixture()
	f.master.units[100].OpeningBalance = dec("-250")
	f.dues.rows = []dues.Due{
		closingDue(100, "600", "600"),
		closingDue(101, "600", "600"),
		closingDue(102, "600", "600"),
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 0, result.DebtCarried)
	require.Equal(t, 1, result.CreditCarried)

	require.Empty(t, f.dues.inserted)
	require.True(t, f.master.units[100].OpeningBalance.Equal(dec("-250")))

	require.Len(t, f.repo.transfers, 1)
	require.Equal(t, TransferCredit, f.repo.transfers[0].Type)
	require.True(t, f.repo.transfers[0].Amount.Equal(dec("250")), "transfer records the absolute amount")
}

func TestClosePeriodSumsOpeningAndDues(t *testing.T) {
	f := newRolloverFixture()
	f.master.units[100].OpeningBalance = dec("400")
	f.dues.rows = []dues.Due{
		closingDue(100, "600", "0"),
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, result.DebtCarried)
	require.True(t, f.dues.inserted[0].BaseAmount.Equal(dec("1000")))
}

func transfersOfType(transfers []BalanceTransfer, typ string) []BalanceTransfer {
	var out []BalanceTransfer
	for _, t := range transfers {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func TestClosePeriodCarriesLegalStandingForward(t *testing.T) {
	f := newRolloverFixture()
	f.dues.rows = []dues.Due{closingDue(100, "5400", "0")}
	f.collections.workflows[100] = collections.Workflow{
		UnitID: 100, SiteID: 10, PeriodID: 1, Stage: collections.StageLegal,
		Active: true, LegalFlag: true, DebtAmount: dec("5400"), CurrencyCode: "TRY",
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, result.DebtCarried)
	require.Equal(t, 1, result.LegalFlagged)

	legal := transfersOfType(f.repo.transfers, TransferLegalFlag)
	require.Len(t, legal, 1)
	require.Equal(t, int64(100), legal[0].UnitID)
	require.True(t, legal[0].LegalFlag)
	require.True(t, legal[0].Amount.Equal(dec("5400")))

	// The workflow itself follows the unit into the next period.
	require.Equal(t, int64(2), f.collections.workflows[100].PeriodID)
}

func TestClosePeriodCarriesWarningStageForward(t *testing.T) {
	f := newRolloverFixture()
	f.dues.rows = []dues.Due{closingDue(100, "1800", "0")}
	f.collections.workflows[100] = collections.Workflow{
		UnitID: 100, SiteID: 10, PeriodID: 1, Stage: collections.StageWarning,
		Active: true, DebtAmount: dec("1800"), CurrencyCode: "TRY",
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, result.LegalFlagged)
	require.Len(t, transfersOfType(f.repo.transfers, TransferLegalFlag), 1)
	require.Equal(t, int64(2), f.collections.workflows[100].PeriodID)
}

func TestClosePeriodCarriesLegalStandingWithZeroBalance(t *testing.T) {
	f := newRolloverFixture()
	// The escalated debt was settled just before the close, but the workflow
	// is still active pending manual resolution.
	f.dues.rows = []dues.Due{closingDue(100, "4200", "4200")}
	f.collections.workflows[100] = collections.Workflow{
		UnitID: 100, SiteID: 10, PeriodID: 1, Stage: collections.StageFinalNotice,
		Active: true, DebtAmount: dec("4200"), CurrencyCode: "TRY",
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 0, result.DebtCarried)
	require.Equal(t, 0, result.CreditCarried)
	require.Equal(t, 1, result.LegalFlagged)

	require.Len(t, f.repo.transfers, 1)
	require.Equal(t, TransferLegalFlag, f.repo.transfers[0].Type)
	require.Equal(t, int64(2), f.collections.workflows[100].PeriodID)
}

func TestClosePeriodIgnoresReminderStageWorkflow(t *testing.T) {
	f := newRolloverFixture()
	f.dues.rows = []dues.Due{closingDue(100, "600", "0")}
	f.collections.workflows[100] = collections.Workflow{
		UnitID: 100, SiteID: 10, PeriodID: 1, Stage: collections.StageReminder,
		Active: true, DebtAmount: dec("600"), CurrencyCode: "TRY",
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 0, result.LegalFlagged)
	require.Empty(t, transfersOfType(f.repo.transfers, TransferLegalFlag))
	require.Equal(t, int64(1), f.collections.workflows[100].PeriodID)
}

func TestClosePeriodIgnoresInactiveLegalWorkflow(t *testing.T) {
	f := newRolloverFixture()
	f.dues.rows = []dues.Due{closingDue(100, "5400", "0")}
	f.collections.workflows[100] = collections.Workflow{
		UnitID: 100, SiteID: 10, PeriodID: 1, Stage: collections.StageLegal, Active: false,
	}

	result, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 0, result.LegalFlagged)
	require.Empty(t, transfersOfType(f.repo.transfers, TransferLegalFlag))
	require.Equal(t, int64(1), f.collections.workflows[100].PeriodID)
}

func TestClosePeriodResetsStaleOpeningBalance(t *testing.T) {
	f := newRolloverFixture()
	// The unit's debt was fully paid during the period, but a positive opening
	// balance from before remains recorded against it.
	f.master.units[100].OpeningBalance = dec("300")
	f.dues.rows = []dues.Due{closingDue(100, "600", "900")}

	_, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)
	require.True(t, f.master.units[100].OpeningBalance.IsZero())
	require.Empty(t, f.repo.transfers)
}

func TestClosePeriodIsTerminal(t *testing.T) {
	f := newRolloverFixture()
	_, err := f.svc.ClosePeriod(context.Background(), 1, 2)
	require.NoError(t, err)

	_, err = f.svc.ClosePeriod(context.Background(), 1, 2)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestClosePeriodValidation(t *testing.T) {
	t.Run("self roll", func(t *testing.T) {
		f := newRolloverFixture()
		_, err := f.svc.ClosePeriod(context.Background(), 1, 1)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("next period on another site", func(t *testing.T) {
		f := newRolloverFixture()
		f.master.periods[2].SiteID = 99
		_, err := f.svc.ClosePeriod(context.Background(), 1, 2)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("next period already closed", func(t *testing.T) {
		f := newRolloverFixture()
		f.master.periods[2].Status = shared.PeriodStatusClosed
		_, err := f.svc.ClosePeriod(context.Background(), 1, 2)
		require.ErrorIs(t, err, shared.ErrConflict)
	})

	t.Run("next period overlaps", func(t *testing.T) {
		f := newRolloverFixture()
		f.master.periods[2].StartDate = time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)
		_, err := f.svc.ClosePeriod(context.Background(), 1, 2)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("missing next period", func(t *testing.T) {
		f := newRolloverFixture()
		_, err := f.svc.ClosePeriod(context.Background(), 1, 404)
		require.ErrorIs(t, err, shared.ErrNotFound)
	})
}
