package budget

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/shared"
)

// RepositoryPort defines data access methods for budget categories.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	InsertCategory(ctx context.Context, in CreateCategoryInput) (Category, error)
	ListByPeriod(ctx context.Context, periodID int64) ([]Category, error)
	ListByPeriodTx(ctx context.Context, tx pgx.Tx, periodID int64) ([]Category, error)
	AddActual(ctx context.Context, tx pgx.Tx, periodID int64, category string, delta decimal.Decimal) (bool, error)
	SetActual(ctx context.Context, tx pgx.Tx, categoryID int64, value decimal.Decimal) error
}

// LedgerPort recovers actuals from expense entries.
type LedgerPort interface {
	SumExpensesByCategory(ctx context.Context, tx pgx.Tx, periodID int64) (map[string]decimal.Decimal, error)
}

// Service reconciles planned versus actual per category.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledgerPort, logger: logger}
}

// CreateCategory registers a budget line.
func (s *Service) CreateCategory(ctx context.Context, in CreateCategoryInput) (Category, error) {
	if err := in.Validate(); err != nil {
		return Category{}, err
	}
	in.CreatedBy = shared.ActorFromContext(ctx).UserID
	return s.repo.InsertCategory(ctx, in)
}

// ListByPeriod returns the period's categories.
func (s *Service) ListByPeriod(ctx context.Context, periodID int64) ([]Category, error) {
	return s.repo.ListByPeriod(ctx, periodID)
}

// RecalculateActuals rebuilds every category's actual cache for the period
// from the ledger's expense entries. The result must be identical to the
// incrementally maintained cache; running it is always safe.
func (s *Service) RecalculateActuals(ctx context.Context, periodID int64) ([]Category, error) {
	var out []Category
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		categories, err := s.repo.ListByPeriodTx(ctx, tx, periodID)
		if err != nil {
			return err
		}
		sums, err := s.ledger.SumExpensesByCategory(ctx, tx, periodID)
		if err != nil {
			return err
		}
		for i := range categories {
			total, ok := sums[categories[i].Name]
			if !ok {
				total = decimal.Zero
			}
			if !categories[i].ActualAmount.Equal(total) {
				s.logger.Warn("budget actual cache drifted",
					slog.Int64("category_id", categories[i].ID),
					slog.String("cached", categories[i].ActualAmount.String()),
					slog.String("recomputed", total.String()))
			}
			if err := s.repo.SetActual(ctx, tx, categories[i].ID, total); err != nil {
				return err
			}
			categories[i].ActualAmount = total
			out = append(out, categories[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
