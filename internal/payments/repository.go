package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratafin/stratafin/internal/platform/db"
	"github.com/stratafin/stratafin/internal/shared"
)

// Repository provides PostgreSQL backed persistence for payments.
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

const paymentColumns = `id, unit_id, period_id, receipt_no, amount, currency_code, exchange_rate,
	category, method, reference, account_id, ledger_entry_id, payment_date, reversed_at,
	created_by, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UnitID, &p.PeriodID, &p.ReceiptNo, &p.Amount, &p.CurrencyCode,
		&p.ExchangeRate, &p.Category, &p.Method, &p.Reference, &p.AccountID, &p.LedgerEntryID,
		&p.PaymentDate, &p.ReversedAt, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

// InsertPayment persists the immutable payment record.
func (r *Repository) InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (int64, error) {
	const query = `
		INSERT INTO payments (unit_id, period_id, receipt_no, amount, currency_code, exchange_rate,
			category, method, reference, account_id, payment_date, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id`
	var id int64
	err := tx.QueryRow(ctx, query,
		p.UnitID, p.PeriodID, p.ReceiptNo, p.Amount, p.CurrencyCode, p.ExchangeRate,
		p.Category, p.Method, p.Reference, p.AccountID, p.PaymentDate, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("payments: insert payment: %w", err)
	}
	return id, nil
}

// InsertAllocations persists the payment's allocation list.
func (r *Repository) InsertAllocations(ctx context.Context, tx pgx.Tx, paymentID int64, allocations []Allocation) error {
	batch := &pgx.Batch{}
	for _, a := range allocations {
		batch.Queue(
			`INSERT INTO payment_allocations (payment_id, due_id, month_date, amount) VALUES ($1, $2, $3, $4)`,
			paymentID, a.DueID, a.MonthDate, a.Amount)
	}
	results := tx.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for range allocations {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("payments: insert allocations: %w", err)
		}
	}
	return nil
}

// SetLedgerEntry links (or with nil unlinks) the payment's single income
// ledger entry.
func (r *Repository) SetLedgerEntry(ctx context.Context, tx pgx.Tx, paymentID int64, entryID *int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE payments SET ledger_entry_id = $2 WHERE id = $1`, paymentID, entryID)
	if err != nil {
		return fmt.Errorf("payments: set ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	return nil
}

// MarkReversed stamps the payment as reversed without deleting the record.
func (r *Repository) MarkReversed(ctx context.Context, tx pgx.Tx, paymentID int64, at time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE payments SET reversed_at = $2 WHERE id = $1`, paymentID, at)
	if err != nil {
		return fmt.Errorf("payments: mark reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	return nil
}

// GetPayment loads a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: get payment: %w", err)
	}
	return p, nil
}

// GetPaymentForUpdate loads and locks a payment inside a transaction.
func (r *Repository) GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: get payment for update: %w", err)
	}
	return p, nil
}

// ListAllocations returns the payment's allocation list in month order.
func (r *Repository) ListAllocations(ctx context.Context, tx pgx.Tx, paymentID int64) ([]Allocation, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, payment_id, due_id, month_date, amount
		FROM payment_allocations WHERE payment_id = $1 ORDER BY month_date`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payments: list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.DueID, &a.MonthDate, &a.Amount); err != nil {
			return nil, fmt.Errorf("payments: scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// DeleteAllocations removes the payment's allocation rows.
func (r *Repository) DeleteAllocations(ctx context.Context, tx pgx.Tx, paymentID int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM payment_allocations WHERE payment_id = $1`, paymentID); err != nil {
		return fmt.Errorf("payments: delete allocations: %w", err)
	}
	return nil
}

// DeletePaymentRow removes the payment record.
func (r *Repository) DeletePaymentRow(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("payments: delete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	return nil
}

// ListByUnit returns a unit's payments, newest first.
func (r *Repository) ListByUnit(ctx context.Context, unitID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE unit_id = $1 ORDER BY payment_date DESC, id DESC`, unitID)
	if err != nil {
		return nil, fmt.Errorf("payments: list by unit: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payments: scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
