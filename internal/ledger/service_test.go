package ledger

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

	"github.com/stratafin/stratafin/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v int64) *int64 { return &v }

type stubLedgerRepo struct {
	entries  map[int64]*Entry
	accounts map[int64]*Account
	nextID   int64
}

func newStubLedgerRepo() *stubLedgerRepo {
	return &stubLedgerRepo{entries: map[int64]*Entry{}, accounts: map[int64]*Account{}, nextID: 1}
}

func (r *stubLedgerRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (r *stubLedgerRepo) InsertEntry(ctx context.Context, tx pgx.Tx, e Entry) (int64, error) {
	e.ID = r.nextID
	r.nextID++
	r.entries[e.ID] = &e
	return e.ID, nil
}

func (r *stubLedgerRepo) GetEntry(ctx context.Context, id int64) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: entry %d", shared.ErrNotFound, id)
	}
	return *e, nil
}

func (r *stubLedgerRepo) GetEntryForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Entry, error) {
	return r.GetEntry(ctx, id)
}

func (r *stubLedgerRepo) DeleteEntryRow(ctx context.Context, tx pgx.Tx, id int64) error {
	delete(r.entries, id)
	return nil
}

func (r *stubLedgerRepo) ListEntries(ctx context.Context, periodID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.PeriodID == periodID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *stubLedgerRepo) SumExpensesByCategory(ctx context.Context, tx pgx.Tx, periodID int64) (map[string]decimal.Decimal, error) {
	sums := map[string]decimal.Decimal{}
	for _, e := range r.entries {
		if e.PeriodID == periodID && e.Type == EntryExpense && e.Category != "" {
			sums[e.Category] = sums[e.Category].Add(e.AmountReporting)
		}
	}
	return sums, nil
}

func (r *stubLedgerRepo) InsertAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	account := Account{
		ID:             r.nextID,
		SiteID:         in.SiteID,
		Name:           in.Name,
		CurrencyCode:   in.CurrencyCode,
		InitialBalance: in.InitialBalance,
		CurrentBalance: in.InitialBalance,
	}
	r.nextID++
	r.accounts[account.ID] = &account
	return account, nil
}

func (r *stubLedgerRepo) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: account %d", shared.ErrNotFound, id)
	}
	return *a, nil
}

func (r *stubLedgerRepo) ListAccounts(ctx context.Context, siteID int64) ([]Account, error) {
	var out []Account
	for _, a := range r.accounts {
		if a.SiteID == siteID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *stubLedgerRepo) AdjustAccountBalance(ctx context.Context, tx pgx.Tx, accountID int64, delta decimal.Decimal) error {
	a, ok := r.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: account %d", shared.ErrNotFound, accountID)
	}
	a.CurrentBalance = a.CurrentBalance.Add(delta)
	return nil
}

type stubBudgetPort struct {
	actuals map[string]decimal.Decimal
	known   map[string]bool
}

func newStubBudgetPort() *stubBudgetPort {
	return &stubBudgetPort{actuals: map[string]decimal.Decimal{}, known: map[string]bool{}}
}

func (b *stubBudgetPort) AddActual(ctx context.Context, tx pgx.Tx, periodID int64, category string, delta decimal.Decimal) (bool, error) {
	if !b.known[category] {
		return false, nil
	}
	b.actuals[category] = b.actuals[category].Add(delta)
	return true, nil
}

type stubReverser struct {
	reversed []int64
}

func (r *stubReverser) ReverseForPayment(ctx context.Context, tx pgx.Tx, paymentID int64) error {
	r.reversed = append(r.reversed, paymentID)
	return nil
}

func newLedgerFixture(t *testing.T) (*Service, *stubLedgerRepo, *stubBudgetPort, *stubReverser) {
	t.Helper()
	repo := newStubLedgerRepo()
	budget := newStubBudgetPort()
	reverser := &stubReverser{}
	svc := NewService(repo, budget, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.AttachAllocationReverser(reverser)
	svc.WithNow(func() time.Time {
		return time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	})

	_, err := repo.InsertAccount(context.Background(), CreateAccountInput{
		SiteID: 10, Name: "Main Till", CurrencyCode: "TRY", InitialBalance: dec("1000"),
	})
	require.NoError(t, err)
	return svc, repo, budget, reverser
}

func TestCreateEntryIncomeRaisesAccountBalance(t *testing.T) {
	svc, repo, _, _ := newLedgerFixture(t)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryIncome,
		Amount:       dec("500"),
		CurrencyCode: "TRY",
		ExchangeRate: dec("1"),
		AccountID:    ptr(1),
		Description:  "dues income",
	})
	require.NoError(t, err)
	require.True(t, entry.AmountReporting.Equal(dec("500")))
	require.True(t, entry.AccountAmount.Equal(dec("500")))

	account, err := repo.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.True(t, account.CurrentBalance.Equal(dec("1500")))
}

func TestCreateEntryExpenseFeedsBudgetActuals(t *testing.T) {
	svc, repo, budget, _ := newLedgerFixture(t)
	budget.known["maintenance"] = true
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryExpense,
		Amount:       dec("200"),
		CurrencyCode: "USD",
		ExchangeRate: dec("40"),
		AccountID:    ptr(1),
		Category:     "maintenance",
		Description:  "elevator service",
	})
	require.NoError(t, err)

	account, err := repo.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.True(t, account.CurrentBalance.Equal(dec("800")))
	// Actuals accumulate in the reporting currency.
	require.True(t, budget.actuals["maintenance"].Equal(dec("8000")))
}

func TestCreateEntryExpenseWithoutBudgetCategoryStillCommits(t *testing.T) {
	svc, _, budget, _ := newLedgerFixture(t)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryExpense,
		Amount:       dec("50"),
		CurrencyCode: "TRY",
		ExchangeRate: dec("1"),
		AccountID:    ptr(1),
		Category:     "unbudgeted",
		Description:  "misc",
	})
	require.NoError(t, err)
	require.Empty(t, budget.actuals)
}

func TestCreateEntryAccountCurrencyConversion(t *testing.T) {
	svc, repo, _, _ := newLedgerFixture(t)
	ctx := context.Background()

	// A 100 USD expense paid from a TRY account at 41.5 TRY per USD.
	entry, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryExpense,
		Amount:       dec("100"),
		CurrencyCode: "USD",
		ExchangeRate: dec("41.5"),
		AccountRate:  dec("41.5"),
		AccountID:    ptr(1),
		Description:  "supplies",
	})
	require.NoError(t, err)
	require.True(t, entry.AccountAmount.Equal(dec("4150")))

	account, err := repo.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.True(t, account.CurrentBalance.Equal(dec("-3150")))
}

func TestTransferMovesBetweenAccounts(t *testing.T) {
	svc, repo, _, _ := newLedgerFixture(t)
	ctx := context.Background()

	_, err := repo.InsertAccount(ctx, CreateAccountInput{
		SiteID: 10, Name: "Bank", CurrencyCode: "TRY", InitialBalance: dec("0"),
	})
	require.NoError(t, err)

	entry, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:        10,
		PeriodID:      1,
		Type:          EntryTransfer,
		Amount:        dec("300"),
		CurrencyCode:  "TRY",
		ExchangeRate:  dec("1"),
		FromAccountID: ptr(1),
		ToAccountID:   ptr(2),
		Description:   "till to bank",
	})
	require.NoError(t, err)

	from, _ := repo.GetAccount(ctx, 1)
	to, _ := repo.GetAccount(ctx, 2)
	require.True(t, from.CurrentBalance.Equal(dec("700")))
	require.True(t, to.CurrentBalance.Equal(dec("300")))

	require.NoError(t, svc.DeleteEntry(ctx, entry.ID))
	from, _ = repo.GetAccount(ctx, 1)
	to, _ = repo.GetAccount(ctx, 2)
	require.True(t, from.CurrentBalance.Equal(dec("1000")))
	require.True(t, to.CurrentBalance.IsZero())
}

func TestTransferValidation(t *testing.T) {
	svc, _, _, _ := newLedgerFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateEntryInput
	}{
		{"missing pair", CreateEntryInput{SiteID: 10, PeriodID: 1, Type: EntryTransfer, Amount: dec("1"), CurrencyCode: "TRY", ExchangeRate: dec("1")}},
		{"same account", CreateEntryInput{SiteID: 10, PeriodID: 1, Type: EntryTransfer, Amount: dec("1"), CurrencyCode: "TRY", ExchangeRate: dec("1"), FromAccountID: ptr(1), ToAccountID: ptr(1)}},
		{"with category", CreateEntryInput{SiteID: 10, PeriodID: 1, Type: EntryTransfer, Amount: dec("1"), CurrencyCode: "TRY", ExchangeRate: dec("1"), FromAccountID: ptr(1), ToAccountID: ptr(2), Category: "x"}},
		{"single account field", CreateEntryInput{SiteID: 10, PeriodID: 1, Type: EntryTransfer, Amount: dec("1"), CurrencyCode: "TRY", ExchangeRate: dec("1"), AccountID: ptr(1), FromAccountID: ptr(1), ToAccountID: ptr(2)}},
		{"income with pair", CreateEntryInput{SiteID: 10, PeriodID: 1, Type: EntryIncome, Amount: dec("1"), CurrencyCode: "TRY", ExchangeRate: dec("1"), FromAccountID: ptr(1), ToAccountID: ptr(2)}},
		{"zero amount", CreateEntryInput{SiteID: 10, PeriodID: 1, Type: EntryIncome, Amount: decimal.Zero, CurrencyCode: "TRY", ExchangeRate: dec("1")}},
		{"bad rate", CreateEntryInput{SiteID: 10, PeriodID: 1, Type: EntryIncome, Amount: dec("1"), CurrencyCode: "TRY", ExchangeRate: decimal.Zero}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateEntry(ctx, tc.in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestDeleteEntryAppliesExactInverse(t *testing.T) {
	svc, repo, budget, _ := newLedgerFixture(t)
	budget.known["utilities"] = true
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryExpense,
		Amount:       dec("120"),
		CurrencyCode: "USD",
		ExchangeRate: dec("40"),
		AccountRate:  dec("40"),
		AccountID:    ptr(1),
		Category:     "utilities",
		Description:  "water",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntry(ctx, entry.ID))

	account, err := repo.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.True(t, account.CurrentBalance.Equal(dec("1000")), "balance restored exactly")
	require.True(t, budget.actuals["utilities"].IsZero())
	_, err = svc.GetEntry(ctx, entry.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteEntryReversesLinkedPaymentAllocations(t *testing.T) {
	svc, _, _, reverser := newLedgerFixture(t)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryIncome,
		Amount:       dec("600"),
		CurrencyCode: "TRY",
		ExchangeRate: dec("1"),
		AccountID:    ptr(1),
		PaymentID:    ptr(42),
		Description:  "payment income",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntry(ctx, entry.ID))
	require.Equal(t, []int64{42}, reverser.reversed)
}

func TestRemoveEntryInTxSkipsReversalWhenAllocatorDrives(t *testing.T) {
	svc, _, _, reverser := newLedgerFixture(t)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryIncome,
		Amount:       dec("600"),
		CurrencyCode: "TRY",
		ExchangeRate: dec("1"),
		AccountID:    ptr(1),
		PaymentID:    ptr(42),
		Description:  "payment income",
	})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveEntryInTx(ctx, nil, entry.ID, false))
	require.Empty(t, reverser.reversed)
}

func TestDeleteEntryUnlinkedIncomeSkipsReverser(t *testing.T) {
	svc, _, _, reverser := newLedgerFixture(t)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, CreateEntryInput{
		SiteID:       10,
		PeriodID:     1,
		Type:         EntryIncome,
		Amount:       dec("75"),
		CurrencyCode: "TRY",
		ExchangeRate: dec("1"),
		AccountID:    ptr(1),
		Description:  "manual income",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntry(ctx, entry.ID))
	require.Empty(t, reverser.reversed)
}
