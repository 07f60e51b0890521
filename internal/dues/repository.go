package dues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/platform/db"
	"github.com/stratafin/stratafin/internal/shared"
)

// Repository provides PostgreSQL backed persistence for dues.
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

const dueColumns = `id, unit_id, period_id, month_date, base_amount, penalty_amount, paid_amount,
	status, currency_code, is_carried_forward, description, created_by, created_at, updated_at`

func dueColumnsPrefixed(alias string) string {
	return alias + ".id, " + alias + ".unit_id, " + alias + ".period_id, " + alias + ".month_date, " +
		alias + ".base_amount, " + alias + ".penalty_amount, " + alias + ".paid_amount, " +
		alias + ".status, " + alias + ".currency_code, " + alias + ".is_carried_forward, " +
		alias + ".description, " + alias + ".created_by, " + alias + ".created_at, " + alias + ".updated_at"
}

func scanDue(row pgx.Row) (Due, error) {
	var d Due
	err := row.Scan(&d.ID, &d.UnitID, &d.PeriodID, &d.MonthDate, &d.BaseAmount, &d.PenaltyAmount,
		&d.PaidAmount, &d.Status, &d.CurrencyCode, &d.IsCarriedForward, &d.Description,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func collectDues(rows pgx.Rows) ([]Due, error) {
	defer rows.Close()
	var out []Due
	for rows.Next() {
		d, err := scanDue(rows)
		if err != nil {
			return nil, fmt.Errorf("dues: scan due: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDue loads one due by id.
func (r *Repository) GetDue(ctx context.Context, id int64) (Due, error) {
	d, err := scanDue(r.pool.QueryRow(ctx, `SELECT `+dueColumns+` FROM dues WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Due{}, fmt.Errorf("%w: due %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Due{}, fmt.Errorf("dues: get due: %w", err)
	}
	return d, nil
}

// ExistingMonths returns, per unit, the set of months that already have a due
// row in the period. Used to keep generation idempotent.
func (r *Repository) ExistingMonths(ctx context.Context, tx pgx.Tx, periodID int64) (map[int64]map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT unit_id, month_date FROM dues WHERE period_id = $1`, periodID)
	if err != nil {
		return nil, fmt.Errorf("dues: existing months: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]map[string]bool)
	for rows.Next() {
		var unitID int64
		var month time.Time
		if err := rows.Scan(&unitID, &month); err != nil {
			return nil, fmt.Errorf("dues: scan existing month: %w", err)
		}
		if existing[unitID] == nil {
			existing[unitID] = make(map[string]bool)
		}
		existing[unitID][month.Format("2006-01")] = true
	}
	return existing, rows.Err()
}

// InsertDue creates a due row.
func (r *Repository) InsertDue(ctx context.Context, tx pgx.Tx, d Due) (int64, error) {
	const query = `
		INSERT INTO dues (unit_id, period_id, month_date, base_amount, penalty_amount, paid_amount,
			status, currency_code, is_carried_forward, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id`
	var id int64
	err := tx.QueryRow(ctx, query,
		d.UnitID, d.PeriodID, d.MonthDate, d.BaseAmount, d.PenaltyAmount, d.PaidAmount,
		d.Status, d.CurrencyCode, d.IsCarriedForward, d.Description, d.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("dues: insert due: %w", err)
	}
	return id, nil
}

// ListForUnitInPeriod loads a unit's dues in a period, locking the rows when
// forUpdate is set.
func (r *Repository) ListForUnitInPeriod(ctx context.Context, tx pgx.Tx, periodID, unitID int64, forUpdate bool) ([]Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues WHERE period_id = $1 AND unit_id = $2 ORDER BY month_date`
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := tx.Query(ctx, query, periodID, unitID)
	if err != nil {
		return nil, fmt.Errorf("dues: list for unit: %w", err)
	}
	return collectDues(rows)
}

// ListForPeriod loads all dues of a period inside a transaction, row-locked.
func (r *Repository) ListForPeriod(ctx context.Context, tx pgx.Tx, periodID int64) ([]Due, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+dueColumns+` FROM dues WHERE period_id = $1 ORDER BY unit_id, month_date FOR UPDATE`, periodID)
	if err != nil {
		return nil, fmt.Errorf("dues: list for period: %w", err)
	}
	return collectDues(rows)
}

// ListByUnit returns every due of a unit ordered by month.
func (r *Repository) ListByUnit(ctx context.Context, unitID int64) ([]Due, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+dueColumns+` FROM dues WHERE unit_id = $1 ORDER BY month_date`, unitID)
	if err != nil {
		return nil, fmt.Errorf("dues: list by unit: %w", err)
	}
	return collectDues(rows)
}

// OutstandingForUnit selects and locks the unit's unpaid dues oldest first.
// The ordering is the FIFO allocation policy. Dues of closed periods are
// excluded: their balance lives on as the carried-forward due created at
// rollover, so allocating against both would double-count the debt.
func (r *Repository) OutstandingForUnit(ctx context.Context, tx pgx.Tx, unitID int64) ([]Due, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+dueColumnsPrefixed("d")+`
		FROM dues d
		JOIN fiscal_periods p ON p.id = d.period_id
		WHERE d.unit_id = $1
			AND d.paid_amount < d.base_amount + d.penalty_amount
			AND p.status <> 'CLOSED'
		ORDER BY d.month_date
		FOR UPDATE OF d`, unitID)
	if err != nil {
		return nil, fmt.Errorf("dues: outstanding for unit: %w", err)
	}
	return collectDues(rows)
}

// ListByIDs loads and locks the given dues inside a transaction, ordered by
// month so reversal touches rows in the same order allocation did.
func (r *Repository) ListByIDs(ctx context.Context, tx pgx.Tx, ids []int64) ([]Due, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx,
		`SELECT `+dueColumns+` FROM dues WHERE id = ANY($1) ORDER BY month_date FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("dues: list by ids: %w", err)
	}
	return collectDues(rows)
}

// UpdatePricing rewrites a due's base amount, penalty and currency, together
// with the status derived from the new total.
func (r *Repository) UpdatePricing(ctx context.Context, tx pgx.Tx, id int64, base, penalty decimal.Decimal, currency string, status Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE dues SET base_amount = $2, penalty_amount = $3, currency_code = $4, status = $5, updated_at = NOW()
		WHERE id = $1`, id, base, penalty, currency, status)
	if err != nil {
		return fmt.Errorf("dues: update pricing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: due %d", shared.ErrNotFound, id)
	}
	return nil
}

// ApplyProgress sets a due's paid amount and derived status.
func (r *Repository) ApplyProgress(ctx context.Context, tx pgx.Tx, id int64, paid decimal.Decimal, status Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE dues SET paid_amount = $2, status = $3, updated_at = NOW()
		WHERE id = $1`, id, paid, status)
	if err != nil {
		return fmt.Errorf("dues: apply progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: due %d", shared.ErrNotFound, id)
	}
	return nil
}

// ClearAllocationRefs detaches payment allocation records from the given
// dues, preserving payment history while the debt rows go away.
func (r *Repository) ClearAllocationRefs(ctx context.Context, tx pgx.Tx, dueIDs []int64) error {
	if len(dueIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`UPDATE payment_allocations SET due_id = NULL WHERE due_id = ANY($1)`, dueIDs)
	if err != nil {
		return fmt.Errorf("dues: clear allocation refs: %w", err)
	}
	return nil
}

// DeleteByIDs removes due rows.
func (r *Repository) DeleteByIDs(ctx context.Context, tx pgx.Tx, dueIDs []int64) (int64, error) {
	if len(dueIDs) == 0 {
		return 0, nil
	}
	tag, err := tx.Exec(ctx, `DELETE FROM dues WHERE id = ANY($1)`, dueIDs)
	if err != nil {
		return 0, fmt.Errorf("dues: delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnitDebt aggregates a unit's outstanding dues in a single currency. PeriodID
// is the period of the oldest unpaid due.
type UnitDebt struct {
	UnitID       int64
	PeriodID     int64
	OldestUnpaid time.Time
	TotalDebt    decimal.Decimal
	CurrencyCode string
}

// DebtByUnit aggregates outstanding debt per unit and currency across a site.
// A due counts as outstanding while its paid amount has not reached the
// derived total. A unit whose unpaid dues span more than one currency yields
// one row per currency; amounts are never summed across currencies.
func (r *Repository) DebtByUnit(ctx context.Context, siteID int64) ([]UnitDebt, error) {
	const query = `
		SELECT d.unit_id, d.currency_code, MIN(d.month_date),
			SUM(d.base_amount + d.penalty_amount - d.paid_amount),
			(ARRAY_AGG(d.period_id ORDER BY d.month_date))[1]
		FROM dues d
		JOIN units u ON u.id = d.unit_id
		JOIN fiscal_periods p ON p.id = d.period_id
		WHERE u.site_id = $1
			AND p.status <> 'CLOSED'
			AND d.paid_amount < d.base_amount + d.penalty_amount
		GROUP BY d.unit_id, d.currency_code
		ORDER BY d.unit_id, d.currency_code`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("dues: debt by unit: %w", err)
	}
	defer rows.Close()

	var debts []UnitDebt
	for rows.Next() {
		var d UnitDebt
		if err := rows.Scan(&d.UnitID, &d.CurrencyCode, &d.OldestUnpaid, &d.TotalDebt, &d.PeriodID); err != nil {
			return nil, fmt.Errorf("dues: scan unit debt: %w", err)
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}
