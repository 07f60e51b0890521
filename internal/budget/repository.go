package budget

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/platform/db"
	"github.com/stratafin/stratafin/internal/shared"
)

// Repository provides PostgreSQL backed persistence for budget categories.
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

// InsertCategory creates a category with a zero actual.
func (r *Repository) InsertCategory(ctx context.Context, in CreateCategoryInput) (Category, error) {
	const query = `
		INSERT INTO budget_categories (period_id, name, planned_amount, actual_amount, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at`
	var c Category
	err := r.pool.QueryRow(ctx, query, in.PeriodID, in.Name, in.PlannedAmount, in.CreatedBy).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Category{}, fmt.Errorf("budget: insert category: %w", err)
	}
	c.PeriodID = in.PeriodID
	c.Name = in.Name
	c.PlannedAmount = in.PlannedAmount
	c.ActualAmount = decimal.Zero
	return c, nil
}

// ListByPeriod returns a period's categories.
func (r *Repository) ListByPeriod(ctx context.Context, periodID int64) ([]Category, error) {
	const query = `
		SELECT id, period_id, name, planned_amount, actual_amount, created_at, updated_at
		FROM budget_categories WHERE period_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("budget: list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.PeriodID, &c.Name, &c.PlannedAmount, &c.ActualAmount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("budget: scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ListByPeriodTx returns a period's categories row-locked inside a
// transaction, for the recalculation repair path.
func (r *Repository) ListByPeriodTx(ctx context.Context, tx pgx.Tx, periodID int64) ([]Category, error) {
	const query = `
		SELECT id, period_id, name, planned_amount, actual_amount, created_at, updated_at
		FROM budget_categories WHERE period_id = $1 ORDER BY name FOR UPDATE`
	rows, err := tx.Query(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("budget: list categories for update: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.PeriodID, &c.Name, &c.PlannedAmount, &c.ActualAmount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("budget: scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// AddActual applies a signed delta to the actual cache of the category whose
// name matches in the period. Reports whether a category matched.
func (r *Repository) AddActual(ctx context.Context, tx pgx.Tx, periodID int64, category string, delta decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE budget_categories SET actual_amount = actual_amount + $3, updated_at = NOW()
		WHERE period_id = $1 AND name = $2`, periodID, category, delta)
	if err != nil {
		return false, fmt.Errorf("budget: add actual: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetActual overwrites a category's actual cache.
func (r *Repository) SetActual(ctx context.Context, tx pgx.Tx, categoryID int64, value decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE budget_categories SET actual_amount = $2, updated_at = NOW() WHERE id = $1`,
		categoryID, value)
	if err != nil {
		return fmt.Errorf("budget: set actual: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: budget category %d", shared.ErrNotFound, categoryID)
	}
	return nil
}
