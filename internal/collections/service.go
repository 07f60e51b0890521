package collections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stratafin/stratafin/internal/dues"
	"github.com/stratafin/stratafin/internal/shared"
)

// RepositoryPort defines data access methods for collection workflows.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	GetByUnit(ctx context.Context, unitID int64) (Workflow, error)
	GetByUnitTx(ctx context.Context, tx pgx.Tx, unitID int64) (Workflow, error)
	ListBySite(ctx context.Context, siteID int64, minStage int, activeOnly bool) ([]Workflow, error)
	Insert(ctx context.Context, tx pgx.Tx, w Workflow) (int64, error)
	Update(ctx context.Context, tx pgx.Tx, w Workflow) error
	DeactivateSettled(ctx context.Context, tx pgx.Tx, siteID int64, keepUnitIDs []int64) (int64, error)
}

// DebtPort reads per-unit outstanding debt.
type DebtPort interface {
	DebtByUnit(ctx context.Context, siteID int64) ([]dues.UnitDebt, error)
}

// MetricsPort records escalation counters.
type MetricsPort interface {
	RecordEscalation(stage int)
}

// ScanResult summarizes one recompute pass over a site.
type ScanResult struct {
	UnitsInDebt int `json:"units_in_debt"`
	Escalated   int `json:"escalated"`
	Settled     int `json:"settled"`
}

// Service drives the debt escalation ladder.
type Service struct {
	repo    RepositoryPort
	debt    DebtPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo RepositoryPort, debt DebtPort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, debt: debt, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetByUnit returns a unit's workflow.
func (s *Service) GetByUnit(ctx context.Context, unitID int64) (Workflow, error) {
	return s.repo.GetByUnit(ctx, unitID)
}

// ListBySite returns a site's workflows filtered by stage and activity.
func (s *Service) ListBySite(ctx context.Context, siteID int64, minStage int, activeOnly bool) ([]Workflow, error) {
	return s.repo.ListBySite(ctx, siteID, minStage, activeOnly)
}

// RecomputeSite re-derives every unit's escalation stage from its current
// debt. Stages only move forward: a partial payment that shortens the overdue
// window never demotes a workflow, only full settlement deactivates it.
func (s *Service) RecomputeSite(ctx context.Context, siteID int64) (ScanResult, error) {
	debts, err := s.debt.DebtByUnit(ctx, siteID)
	if err != nil {
		return ScanResult{}, err
	}
	// One workflow per unit means one debt currency per unit. Mixed currencies
	// cannot be summed into a single DebtAmount, so the scan refuses them.
	currencies := make(map[int64]string, len(debts))
	for _, d := range debts {
		if cur, ok := currencies[d.UnitID]; ok && cur != d.CurrencyCode {
			return ScanResult{}, fmt.Errorf("%w: unit %d has unpaid dues in more than one currency", shared.ErrConflict, d.UnitID)
		}
		currencies[d.UnitID] = d.CurrencyCode
	}
	asOf := s.now()

	var result ScanResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		keep := make([]int64, 0, len(debts))
		for _, d := range debts {
			keep = append(keep, d.UnitID)
			escalated, err := s.applyDebt(ctx, tx, siteID, d, asOf)
			if err != nil {
				return err
			}
			if escalated {
				result.Escalated++
			}
		}
		settled, err := s.repo.DeactivateSettled(ctx, tx, siteID, keep)
		if err != nil {
			return err
		}
		result.UnitsInDebt = len(debts)
		result.Settled = int(settled)
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	s.logger.Info("collections scan finished",
		slog.Int64("site_id", siteID),
		slog.Int("units_in_debt", result.UnitsInDebt),
		slog.Int("escalated", result.Escalated),
		slog.Int("settled", result.Settled))
	return result, nil
}

func (s *Service) applyDebt(ctx context.Context, tx pgx.Tx, siteID int64, d dues.UnitDebt, asOf time.Time) (bool, error) {
	stage := StageFor(dues.MonthsOverdue(d.OldestUnpaid, asOf))

	current, err := s.repo.GetByUnitTx(ctx, tx, d.UnitID)
	if errors.Is(err, shared.ErrNotFound) {
		w := Workflow{
			UnitID:       d.UnitID,
			SiteID:       siteID,
			PeriodID:     d.PeriodID,
			Stage:        stage,
			DebtAmount:   d.TotalDebt,
			CurrencyCode: d.CurrencyCode,
			OldestUnpaid: d.OldestUnpaid,
			Active:       true,
		}
		s.stampStage(&w, asOf)
		if _, err := s.repo.Insert(ctx, tx, w); err != nil {
			return false, err
		}
		if s.metrics != nil {
			s.metrics.RecordEscalation(stage)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	// A full payoff closes the escalation cycle. Debt appearing after one
	// starts a new cycle at whatever stage the new debt's age warrants, with
	// no stamps carried over from the settled cycle.
	relapsed := !current.Active
	if relapsed {
		current.Stage = stage
		current.LegalFlag = false
		current.WarningSentAt = nil
		current.LetterGeneratedAt = nil
		current.LegalActionAt = nil
	}
	escalated := relapsed || stage > current.Stage
	if stage > current.Stage {
		current.Stage = stage
	}
	current.Active = true
	current.PeriodID = d.PeriodID
	current.DebtAmount = d.TotalDebt
	current.CurrencyCode = d.CurrencyCode
	current.OldestUnpaid = d.OldestUnpaid
	s.stampStage(&current, asOf)
	if err := s.repo.Update(ctx, tx, current); err != nil {
		return false, err
	}
	if escalated && s.metrics != nil {
		s.metrics.RecordEscalation(current.Stage)
	}
	return escalated, nil
}

// stampStage records the first time each stage action becomes due. The
// timestamps are write-once so re-scans never re-issue a warning or letter.
func (s *Service) stampStage(w *Workflow, asOf time.Time) {
	if w.Stage >= StageWarning && w.WarningSentAt == nil {
		t := asOf
		w.WarningSentAt = &t
	}
	if w.Stage >= StageFinalNotice && w.LetterGeneratedAt == nil {
		t := asOf
		w.LetterGeneratedAt = &t
	}
	if w.Stage >= StageLegal {
		if w.LegalActionAt == nil {
			t := asOf
			w.LegalActionAt = &t
		}
		w.LegalFlag = true
	}
}
