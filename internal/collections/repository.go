package collections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratafin/stratafin/internal/platform/db"
	"github.com/stratafin/stratafin/internal/shared"
)

const workflowColumns = `id, unit_id, site_id, period_id, stage, debt_amount,
	currency_code, oldest_unpaid, active, legal_flag, warning_sent_at,
	letter_generated_at, legal_action_at, created_at, updated_at`

// Repository persists collection workflows in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a transaction on the shared pool.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

func scanWorkflow(row pgx.Row) (Workflow, error) {
	var w Workflow
	err := row.Scan(&w.ID, &w.UnitID, &w.SiteID, &w.PeriodID, &w.Stage, &w.DebtAmount,
		&w.CurrencyCode, &w.OldestUnpaid, &w.Active, &w.LegalFlag, &w.WarningSentAt,
		&w.LetterGeneratedAt, &w.LegalActionAt, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// GetByUnit returns the unit's workflow, active or not.
func (r *Repository) GetByUnit(ctx context.Context, unitID int64) (Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM collection_workflows WHERE unit_id = $1`
	w, err := scanWorkflow(r.pool.QueryRow(ctx, query, unitID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, fmt.Errorf("%w: no collection workflow for unit %d", shared.ErrNotFound, unitID)
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("collections: get workflow: %w", err)
	}
	return w, nil
}

// GetByUnitTx returns the unit's workflow locked for update, or ErrNotFound.
func (r *Repository) GetByUnitTx(ctx context.Context, tx pgx.Tx, unitID int64) (Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM collection_workflows WHERE unit_id = $1 FOR UPDATE`
	w, err := scanWorkflow(tx.QueryRow(ctx, query, unitID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, fmt.Errorf("%w: no collection workflow for unit %d", shared.ErrNotFound, unitID)
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("collections: get workflow: %w", err)
	}
	return w, nil
}

// ListBySite returns a site's workflows, optionally only active ones at or
// above a minimum stage.
func (r *Repository) ListBySite(ctx context.Context, siteID int64, minStage int, activeOnly bool) ([]Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM collection_workflows
		WHERE site_id = $1 AND stage >= $2`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY stage DESC, debt_amount DESC`

	rows, err := r.pool.Query(ctx, query, siteID, minStage)
	if err != nil {
		return nil, fmt.Errorf("collections: list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("collections: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Insert creates a fresh workflow row.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, w Workflow) (int64, error) {
	const query = `
		INSERT INTO collection_workflows
			(unit_id, site_id, period_id, stage, debt_amount, currency_code,
			 oldest_unpaid, active, legal_flag, warning_sent_at,
			 letter_generated_at, legal_action_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	var id int64
	err := tx.QueryRow(ctx, query,
		w.UnitID, w.SiteID, w.PeriodID, w.Stage, w.DebtAmount, w.CurrencyCode,
		w.OldestUnpaid, w.Active, w.LegalFlag, w.WarningSentAt,
		w.LetterGeneratedAt, w.LegalActionAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("collections: insert workflow: %w", err)
	}
	return id, nil
}

// Update rewrites the mutable fields of an existing workflow.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, w Workflow) error {
	const query = `
		UPDATE collection_workflows
		SET period_id = $2, stage = $3, debt_amount = $4, currency_code = $5,
			oldest_unpaid = $6, active = $7, legal_flag = $8, warning_sent_at = $9,
			letter_generated_at = $10, legal_action_at = $11, updated_at = now()
		WHERE id = $1`
	tag, err := tx.Exec(ctx, query,
		w.ID, w.PeriodID, w.Stage, w.DebtAmount, w.CurrencyCode, w.OldestUnpaid,
		w.Active, w.LegalFlag, w.WarningSentAt, w.LetterGeneratedAt, w.LegalActionAt)
	if err != nil {
		return fmt.Errorf("collections: update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: collection workflow %d", shared.ErrNotFound, w.ID)
	}
	return nil
}

// DeactivateSettled marks every active workflow inactive except the listed
// units, which still carry debt. Returns the number of settled workflows.
func (r *Repository) DeactivateSettled(ctx context.Context, tx pgx.Tx, siteID int64, keepUnitIDs []int64) (int64, error) {
	const query = `
		UPDATE collection_workflows
		SET active = false, debt_amount = 0, updated_at = now()
		WHERE site_id = $1 AND active AND NOT (unit_id = ANY($2))`
	tag, err := tx.Exec(ctx, query, siteID, keepUnitIDs)
	if err != nil {
		return 0, fmt.Errorf("collections: deactivate settled: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReassignPeriod moves an active workflow's period reference to the given
// period, so escalation state follows the unit across a fiscal boundary.
func (r *Repository) ReassignPeriod(ctx context.Context, tx pgx.Tx, unitID, periodID int64) error {
	const query = `
		UPDATE collection_workflows
		SET period_id = $2, updated_at = now()
		WHERE unit_id = $1 AND active`
	if _, err := tx.Exec(ctx, query, unitID, periodID); err != nil {
		return fmt.Errorf("collections: reassign period: %w", err)
	}
	return nil
}
