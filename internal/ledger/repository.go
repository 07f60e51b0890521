package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/platform/db"
	"github.com/stratafin/stratafin/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the general ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

const entryColumns = `id, site_id, period_id, entry_type, amount, currency_code, exchange_rate,
	amount_reporting, account_amount, category, account_id, from_account_id, to_account_id, payment_id,
	description, entry_date, created_by, created_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.SiteID, &e.PeriodID, &e.Type, &e.Amount, &e.CurrencyCode,
		&e.ExchangeRate, &e.AmountReporting, &e.AccountAmount, &e.Category, &e.AccountID, &e.FromAccountID,
		&e.ToAccountID, &e.PaymentID, &e.Description, &e.EntryDate, &e.CreatedBy, &e.CreatedAt)
	return e, err
}

// InsertEntry persists an entry row.
func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e Entry) (int64, error) {
	const query = `
		INSERT INTO ledger_entries (site_id, period_id, entry_type, amount, currency_code, exchange_rate,
			amount_reporting, account_amount, category, account_id, from_account_id, to_account_id, payment_id,
			description, entry_date, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		RETURNING id`
	var id int64
	err := tx.QueryRow(ctx, query,
		e.SiteID, e.PeriodID, e.Type, e.Amount, e.CurrencyCode, e.ExchangeRate,
		e.AmountReporting, e.AccountAmount, e.Category, e.AccountID, e.FromAccountID, e.ToAccountID,
		e.PaymentID, e.Description, e.EntryDate, e.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return id, nil
}

// GetEntry loads an entry by id.
func (r *Repository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: ledger entry %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: get entry: %w", err)
	}
	return e, nil
}

// GetEntryForUpdate loads and locks an entry inside a transaction.
func (r *Repository) GetEntryForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Entry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: ledger entry %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: get entry for update: %w", err)
	}
	return e, nil
}

// DeleteEntryRow removes an entry row.
func (r *Repository) DeleteEntryRow(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ledger entry %d", shared.ErrNotFound, id)
	}
	return nil
}

// ListEntries returns a period's entries, newest first.
func (r *Repository) ListEntries(ctx context.Context, periodID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE period_id = $1 ORDER BY entry_date DESC, id DESC`, periodID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumExpensesByCategory aggregates reporting-currency expense totals per
// category for a period. This is the recovery source of truth for budget
// actuals.
func (r *Repository) SumExpensesByCategory(ctx context.Context, tx pgx.Tx, periodID int64) (map[string]decimal.Decimal, error) {
	const query = `
		SELECT category, COALESCE(SUM(amount_reporting), 0)
		FROM ledger_entries
		WHERE period_id = $1 AND entry_type = 'EXPENSE' AND category <> ''
		GROUP BY category`
	rows, err := tx.Query(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("ledger: sum expenses: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal)
	for rows.Next() {
		var category string
		var total decimal.Decimal
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("ledger: scan expense sum: %w", err)
		}
		sums[category] = total
	}
	return sums, rows.Err()
}

// InsertAccount creates an account with its running balance seeded from the
// initial balance.
func (r *Repository) InsertAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const query = `
		INSERT INTO accounts (site_id, name, currency_code, initial_balance, current_balance, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at`
	var a Account
	err := r.pool.QueryRow(ctx, query,
		in.SiteID, in.Name, in.CurrencyCode, in.InitialBalance, in.CreatedBy,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: insert account: %w", err)
	}
	a.SiteID = in.SiteID
	a.Name = in.Name
	a.CurrencyCode = in.CurrencyCode
	a.InitialBalance = in.InitialBalance
	a.CurrentBalance = in.InitialBalance
	return a, nil
}

// GetAccount loads an account by id.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	const query = `
		SELECT id, site_id, name, currency_code, initial_balance, current_balance, created_at, updated_at
		FROM accounts WHERE id = $1`
	var a Account
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.SiteID, &a.Name, &a.CurrencyCode, &a.InitialBalance, &a.CurrentBalance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: account %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Account{}, fmt.Errorf("ledger: get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns the site's accounts.
func (r *Repository) ListAccounts(ctx context.Context, siteID int64) ([]Account, error) {
	const query = `
		SELECT id, site_id, name, currency_code, initial_balance, current_balance, created_at, updated_at
		FROM accounts WHERE site_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.SiteID, &a.Name, &a.CurrencyCode, &a.InitialBalance, &a.CurrentBalance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AdjustAccountBalance applies a signed delta to an account's running balance.
func (r *Repository) AdjustAccountBalance(ctx context.Context, tx pgx.Tx, accountID int64, delta decimal.Decimal) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET current_balance = current_balance + $2, updated_at = NOW() WHERE id = $1`,
		accountID, delta)
	if err != nil {
		return fmt.Errorf("ledger: adjust account balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %d", shared.ErrNotFound, accountID)
	}
	return nil
}
