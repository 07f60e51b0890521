package reporting

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
)

// Repository runs the read-side aggregate queries.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UnitBalances derives each unit's balance from its opening balance plus the
// unpaid remainder of its dues in periods that are still open. Dues inside
// closed periods are excluded: their remainder already lives on as a
// carried-forward due or an opening credit.
func (r *Repository) UnitBalances(ctx context.Context, siteID int64) ([]UnitBalance, error) {
	const query = `
		SELECT u.id, u.name, u.opening_balance,
			COALESCE(SUM(d.base_amount + d.penalty_amount), 0),
			COALESCE(SUM(d.paid_amount), 0),
			COALESCE(MIN(d.currency_code), ''),
			COUNT(DISTINCT d.currency_code)
		FROM units u
		LEFT JOIN dues d ON d.unit_id = u.id
			AND d.period_id IN (
				SELECT id FROM fiscal_periods WHERE site_id = $1 AND status <> 'CLOSED')
		WHERE u.site_id = $1
		GROUP BY u.id, u.name, u.opening_balance
		ORDER BY u.id`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("reporting: unit balances: %w", err)
	}
	defer rows.Close()

	var out []UnitBalance
	for rows.Next() {
		var b UnitBalance
		var currencies int
		if err := rows.Scan(&b.UnitID, &b.UnitName, &b.OpeningBalance,
			&b.TotalDue, &b.TotalPaid, &b.CurrencyCode, &currencies); err != nil {
			return nil, fmt.Errorf("reporting: scan unit balance: %w", err)
		}
		if currencies > 1 {
			return nil, fmt.Errorf("%w: unit %d has open dues in more than one currency", shared.ErrConflict, b.UnitID)
		}
		b.Balance = b.OpeningBalance.Add(b.TotalDue).Sub(b.TotalPaid)
		out = append(out, b)
	}
	return out, rows.Err()
}

// PeriodCollection sums a period's dues and payments received against them.
func (r *Repository) PeriodCollection(ctx context.Context, periodID int64) (totalDues, totalPaid decimal.Decimal, err error) {
	const query = `
		SELECT COALESCE(SUM(base_amount + penalty_amount), 0),
			COALESCE(SUM(paid_amount), 0)
		FROM dues
		WHERE period_id = $1`
	if err := r.pool.QueryRow(ctx, query, periodID).Scan(&totalDues, &totalPaid); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("reporting: period collection: %w", err)
	}
	return totalDues, totalPaid, nil
}

// StageCounts tallies active collection workflows per escalation stage.
func (r *Repository) StageCounts(ctx context.Context, siteID int64) (map[int]int, error) {
	const query = `
		SELECT stage, COUNT(*)
		FROM collection_workflows
		WHERE site_id = $1 AND active
		GROUP BY stage`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("reporting: stage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var stage, n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("reporting: scan stage count: %w", err)
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

// DebtAlerts joins escalated workflows with their unit names.
func (r *Repository) DebtAlerts(ctx context.Context, siteID int64, minStage int) ([]DebtAlert, error) {
	const query = `
		SELECT w.unit_id, u.name, w.stage, w.debt_amount, w.currency_code,
			w.oldest_unpaid, w.legal_flag
		FROM collection_workflows w
		JOIN units u ON u.id = w.unit_id
		WHERE w.site_id = $1 AND w.active AND w.stage >= $2
		ORDER BY w.stage DESC, w.debt_amount DESC`
	rows, err := r.pool.Query(ctx, query, siteID, minStage)
	if err != nil {
		return nil, fmt.Errorf("reporting: debt alerts: %w", err)
	}
	defer rows.Close()

	var out []DebtAlert
	for rows.Next() {
		var a DebtAlert
		if err := rows.Scan(&a.UnitID, &a.UnitName, &a.Stage, &a.DebtAmount,
			&a.CurrencyCode, &a.OldestUnpaid, &a.LegalFlag); err != nil {
			return nil, fmt.Errorf("reporting: scan debt alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
