package budget

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stratafin/stratafin/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubBudgetRepo struct {
	categories map[int64]*Category
	nextID     int64
}

func newStubBudgetRepo() *stubBudgetRepo {
	return &stubBudgetRepo{categories: map[int64]*Category{}, nextID: 1}
}

func (r *stubBudgetRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (r *stubBudgetRepo) InsertCategory(ctx context.Context, in CreateCategoryInput) (Category, error) {
	c := Category{
		ID:            r.nextID,
		PeriodID:      in.PeriodID,
		Name:          in.Name,
		PlannedAmount: in.PlannedAmount,
		ActualAmount:  decimal.Zero,
	}
	r.nextID++
	r.categories[c.ID] = &c
	return c, nil
}

func (r *stubBudgetRepo) ListByPeriod(ctx context.Context, periodID int64) ([]Category, error) {
	var out []Category
	for _, c := range r.categories {
		if c.PeriodID == periodID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *stubBudgetRepo) ListByPeriodTx(ctx context.Context, tx pgx.Tx, periodID int64) ([]Category, error) {
	return r.ListByPeriod(ctx, periodID)
}

func (r *stubBudgetRepo) AddActual(ctx context.Context, tx pgx.Tx, periodID int64, category string, delta decimal.Decimal) (bool, error) {
	for _, c := range r.categories {
		if c.PeriodID == periodID && c.Name == category {
			c.ActualAmount = c.ActualAmount.Add(delta)
			return true, nil
		}
	}
	return false, nil
}

func (r *stubBudgetRepo) SetActual(ctx context.Context, tx pgx.Tx, categoryID int64, value decimal.Decimal) error {
	c, ok := r.categories[categoryID]
	if !ok {
		return shared.ErrNotFound
	}
	c.ActualAmount = value
	return nil
}

type stubExpenseSums struct {
	sums map[string]decimal.Decimal
}

func (l *stubExpenseSums) SumExpensesByCategory(ctx context.Context, tx pgx.Tx, periodID int64) (map[string]decimal.Decimal, error) {
	return l.sums, nil
}

func newBudgetFixture() (*Service, *stubBudgetRepo, *stubExpenseSums) {
	repo := newStubBudgetRepo()
	sums := &stubExpenseSums{sums: map[string]decimal.Decimal{}}
	svc := NewService(repo, sums, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, sums
}

func TestCreateCategoryValidation(t *testing.T) {
	svc, _, _ := newBudgetFixture()
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, CreateCategoryInput{Name: "maintenance", PlannedAmount: dec("100")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateCategory(ctx, CreateCategoryInput{PeriodID: 1, Name: "  ", PlannedAmount: dec("100")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateCategory(ctx, CreateCategoryInput{PeriodID: 1, Name: "maintenance", PlannedAmount: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	c, err := svc.CreateCategory(ctx, CreateCategoryInput{PeriodID: 1, Name: "maintenance", PlannedAmount: dec("100")})
	require.NoError(t, err)
	require.True(t, c.ActualAmount.IsZero())
}

func TestRecalculateActualsRebuildsFromLedger(t *testing.T) {
	svc, repo, sums := newBudgetFixture()
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, CreateCategoryInput{PeriodID: 1, Name: "maintenance", PlannedAmount: dec("10000")})
	require.NoError(t, err)
	_, err = svc.CreateCategory(ctx, CreateCategoryInput{PeriodID: 1, Name: "utilities", PlannedAmount: dec("5000")})
	require.NoError(t, err)

	// Drift the cache away from the ledger truth.
	_, err = repo.AddActual(ctx, nil, 1, "maintenance", dec("9999"))
	require.NoError(t, err)

	sums.sums = map[string]decimal.Decimal{
		"maintenance": dec("4200"),
		"orphaned":    dec("77"),
	}

	out, err := svc.RecalculateActuals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byName := map[string]Category{}
	for _, c := range out {
		byName[c.Name] = c
	}
	require.True(t, byName["maintenance"].ActualAmount.Equal(dec("4200")))
	// Categories with no matching expenses reset to zero.
	require.True(t, byName["utilities"].ActualAmount.IsZero())
}

func TestIncrementalAndRecalculatedActualsAgree(t *testing.T) {
	svc, repo, sums := newBudgetFixture()
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, CreateCategoryInput{PeriodID: 1, Name: "maintenance", PlannedAmount: dec("10000")})
	require.NoError(t, err)

	// Simulate the ledger feeding expenses both into the incremental cache
	// and into its own entry sums.
	expenses := []string{"1200", "800.50", "99.99"}
	total := decimal.Zero
	for _, e := range expenses {
		matched, err := repo.AddActual(ctx, nil, 1, "maintenance", dec(e))
		require.NoError(t, err)
		require.True(t, matched)
		total = total.Add(dec(e))
	}
	sums.sums = map[string]decimal.Decimal{"maintenance": total}

	out, err := svc.RecalculateActuals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].ActualAmount.Equal(dec("2100.49")))
}
