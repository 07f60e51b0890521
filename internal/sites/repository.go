package sites

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

// Repository provides PostgreSQL backed persistence for site master data.
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

// GetSite loads a site by id.
func (r *Repository) GetSite(ctx context.Context, id int64) (Site, error) {
	const query = `
		SELECT id, name, reporting_currency, created_at, updated_at
		FROM sites WHERE id = $1`
	var s Site
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.Name, &s.ReportingCurrency, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Site{}, fmt.Errorf("%w: site %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Site{}, fmt.Errorf("sites: get site: %w", err)
	}
	return s, nil
}

// ListSites returns all sites ordered by id.
func (r *Repository) ListSites(ctx context.Context) ([]Site, error) {
	const query = `
		SELECT id, name, reporting_currency, created_at, updated_at
		FROM sites ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sites: list sites: %w", err)
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.ID, &s.Name, &s.ReportingCurrency, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sites: scan site: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSettings loads persisted site settings, falling back to defaults when
// none were saved yet.
func (r *Repository) GetSettings(ctx context.Context, siteID int64) (Settings, error) {
	const query = `
		SELECT site_id, distribution_method, penalty_threshold_months, penalty_percent, updated_at
		FROM site_settings WHERE site_id = $1`
	var s Settings
	err := r.pool.QueryRow(ctx, query, siteID).Scan(
		&s.SiteID, &s.DistributionMethod, &s.PenaltyThresholdMonths, &s.PenaltyPercent, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{
			SiteID:                 siteID,
			DistributionMethod:     DistributionByCoefficient,
			PenaltyThresholdMonths: 1,
			PenaltyPercent:         decimal.Zero,
		}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("sites: get settings: %w", err)
	}
	return s, nil
}

// SaveSettings upserts site settings.
func (r *Repository) SaveSettings(ctx context.Context, s Settings) error {
	const query = `
		INSERT INTO site_settings (site_id, distribution_method, penalty_threshold_months, penalty_percent, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (site_id) DO UPDATE SET
			distribution_method = EXCLUDED.distribution_method,
			penalty_threshold_months = EXCLUDED.penalty_threshold_months,
			penalty_percent = EXCLUDED.penalty_percent,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query, s.SiteID, s.DistributionMethod, s.PenaltyThresholdMonths, s.PenaltyPercent)
	if err != nil {
		return fmt.Errorf("sites: save settings: %w", err)
	}
	return nil
}

// InsertUnit creates a unit.
func (r *Repository) InsertUnit(ctx context.Context, in CreateUnitInput) (Unit, error) {
	const query = `
		INSERT INTO units (site_id, name, coefficient, share_ratio, opening_balance, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at`
	var u Unit
	err := r.pool.QueryRow(ctx, query,
		in.SiteID, in.Name, in.Coefficient, in.ShareRatio, in.OpeningBalance, in.CreatedBy,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return Unit{}, fmt.Errorf("sites: insert unit: %w", err)
	}
	u.SiteID = in.SiteID
	u.Name = in.Name
	u.Coefficient = in.Coefficient
	u.ShareRatio = in.ShareRatio
	u.OpeningBalance = in.OpeningBalance
	return u, nil
}

// GetUnit loads a unit by id.
func (r *Repository) GetUnit(ctx context.Context, id int64) (Unit, error) {
	const query = `
		SELECT id, site_id, name, coefficient, share_ratio, opening_balance, created_at, updated_at
		FROM units WHERE id = $1`
	var u Unit
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.SiteID, &u.Name, &u.Coefficient, &u.ShareRatio, &u.OpeningBalance, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, fmt.Errorf("%w: unit %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Unit{}, fmt.Errorf("sites: get unit: %w", err)
	}
	return u, nil
}

// ListUnits returns all units belonging to a site.
func (r *Repository) ListUnits(ctx context.Context, siteID int64) ([]Unit, error) {
	const query = `
		SELECT id, site_id, name, coefficient, share_ratio, opening_balance, created_at, updated_at
		FROM units WHERE site_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("sites: list units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.SiteID, &u.Name, &u.Coefficient, &u.ShareRatio, &u.OpeningBalance, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sites: scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// UpdateUnitOpeningBalance sets a unit's opening balance inside a rollover tx.
func (r *Repository) UpdateUnitOpeningBalance(ctx context.Context, tx pgx.Tx, unitID int64, balance decimal.Decimal) error {
	tag, err := tx.Exec(ctx,
		`UPDATE units SET opening_balance = $2, updated_at = NOW() WHERE id = $1`, unitID, balance)
	if err != nil {
		return fmt.Errorf("sites: update opening balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unit %d", shared.ErrNotFound, unitID)
	}
	return nil
}

// InsertPeriod creates a fiscal period in draft status.
func (r *Repository) InsertPeriod(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error) {
	const query = `
		INSERT INTO fiscal_periods (site_id, name, start_date, end_date, total_budget, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at`
	var p FiscalPeriod
	err := r.pool.QueryRow(ctx, query,
		in.SiteID, in.Name, in.StartDate, in.EndDate, in.TotalBudget, shared.PeriodStatusDraft, in.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return FiscalPeriod{}, fmt.Errorf("sites: insert period: %w", err)
	}
	p.SiteID = in.SiteID
	p.Name = in.Name
	p.StartDate = in.StartDate
	p.EndDate = in.EndDate
	p.TotalBudget = in.TotalBudget
	p.Status = shared.PeriodStatusDraft
	return p, nil
}

// GetPeriod loads a fiscal period by id.
func (r *Repository) GetPeriod(ctx context.Context, id int64) (FiscalPeriod, error) {
	return r.getPeriod(ctx, r.pool, id, false)
}

// GetPeriodForUpdate loads a period with a row lock inside a transaction.
func (r *Repository) GetPeriodForUpdate(ctx context.Context, tx pgx.Tx, id int64) (FiscalPeriod, error) {
	return r.getPeriod(ctx, tx, id, true)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) getPeriod(ctx context.Context, q queryer, id int64, forUpdate bool) (FiscalPeriod, error) {
	query := `
		SELECT id, site_id, name, start_date, end_date, total_budget, status, closed_at, created_at, updated_at
		FROM fiscal_periods WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var p FiscalPeriod
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.SiteID, &p.Name, &p.StartDate, &p.EndDate, &p.TotalBudget, &p.Status, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FiscalPeriod{}, fmt.Errorf("%w: fiscal period %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return FiscalPeriod{}, fmt.Errorf("sites: get period: %w", err)
	}
	return p, nil
}

// UpdatePeriodStatus transitions a period's lifecycle status.
func (r *Repository) UpdatePeriodStatus(ctx context.Context, tx pgx.Tx, id int64, status string, closedAt *time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE fiscal_periods SET status = $2, closed_at = $3, updated_at = NOW() WHERE id = $1`,
		id, status, closedAt)
	if err != nil {
		return fmt.Errorf("sites: update period status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: fiscal period %d", shared.ErrNotFound, id)
	}
	return nil
}

// ListPeriods returns all periods of a site, newest first.
func (r *Repository) ListPeriods(ctx context.Context, siteID int64) ([]FiscalPeriod, error) {
	const query = `
		SELECT id, site_id, name, start_date, end_date, total_budget, status, closed_at, created_at, updated_at
		FROM fiscal_periods WHERE site_id = $1 ORDER BY start_date DESC`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("sites: list periods: %w", err)
	}
	defer rows.Close()

	var periods []FiscalPeriod
	for rows.Next() {
		var p FiscalPeriod
		if err := rows.Scan(&p.ID, &p.SiteID, &p.Name, &p.StartDate, &p.EndDate, &p.TotalBudget, &p.Status, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sites: scan period: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// PeriodRangeConflict reports whether a site already has a period overlapping
// the given range.
func (r *Repository) PeriodRangeConflict(ctx context.Context, siteID int64, start, end time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM fiscal_periods
			WHERE site_id = $1 AND start_date < $3 AND end_date > $2
		)`
	var conflict bool
	if err := r.pool.QueryRow(ctx, query, siteID, start, end).Scan(&conflict); err != nil {
		return false, fmt.Errorf("sites: period range conflict: %w", err)
	}
	return conflict, nil
}
