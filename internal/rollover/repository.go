package rollover

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratafin/stratafin/internal/platform/db"
)

// Repository persists balance transfers in Postgres.
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

// InsertTransfer records one unit's balance crossing a period boundary.
func (r *Repository) InsertTransfer(ctx context.Context, tx pgx.Tx, t BalanceTransfer) (int64, error) {
	const query = `
		INSERT INTO balance_transfers
			(unit_id, from_period_id, to_period_id, type, amount, currency_code, legal_flag)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	var id int64
	err := tx.QueryRow(ctx, query,
		t.UnitID, t.FromPeriodID, t.ToPeriodID, t.Type, t.Amount, t.CurrencyCode, t.LegalFlag,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("rollover: insert transfer: %w", err)
	}
	return id, nil
}

// ListTransfers returns the transfers recorded when fromPeriodID was closed.
func (r *Repository) ListTransfers(ctx context.Context, fromPeriodID int64) ([]BalanceTransfer, error) {
	const query = `
		SELECT id, unit_id, from_period_id, to_period_id, type, amount,
			currency_code, legal_flag, created_at
		FROM balance_transfers
		WHERE from_period_id = $1
		ORDER BY unit_id`
	rows, err := r.pool.Query(ctx, query, fromPeriodID)
	if err != nil {
		return nil, fmt.Errorf("rollover: list transfers: %w", err)
	}
	defer rows.Close()

	var out []BalanceTransfer
	for rows.Next() {
		var t BalanceTransfer
		if err := rows.Scan(&t.ID, &t.UnitID, &t.FromPeriodID, &t.ToPeriodID, &t.Type,
			&t.Amount, &t.CurrencyCode, &t.LegalFlag, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("rollover: scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
