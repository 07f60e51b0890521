package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stratafin/stratafin/internal/dues"
)

// DuesMaintenanceJob handles due generation and penalty application tasks.
type DuesMaintenanceJob struct {
	Dues   *dues.Service
	Logger *slog.Logger
}

// NewDuesMaintenanceJob initialises the dues maintenance handler.
func NewDuesMaintenanceJob(duesSvc *dues.Service, logger *slog.Logger) *DuesMaintenanceJob {
	return &DuesMaintenanceJob{Dues: duesSvc, Logger: logger}
}

// HandleGenerate processes TaskDuesGenerate tasks.
func (j *DuesMaintenanceJob) HandleGenerate(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("dues maintenance: handler not configured")
	}
	var payload DuesGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.PeriodID == 0 {
		return asynq.SkipRetry
	}
	created, err := j.Dues.GenerateDues(ctx, payload.PeriodID)
	if err != nil {
		j.Logger.Error("dues generation failed",
			slog.Int64("period_id", payload.PeriodID), slog.Any("error", err))
		return err
	}
	j.Logger.Info("dues generation completed",
		slog.Int64("period_id", payload.PeriodID), slog.Int("created", created))
	return nil
}

// HandlePenalties processes TaskDuesPenalties tasks.
func (j *DuesMaintenanceJob) HandlePenalties(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("dues maintenance: handler not configured")
	}
	var payload DuesPenaltiesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.PeriodID == 0 {
		return asynq.SkipRetry
	}
	applied, err := j.Dues.ApplyLatePenalties(ctx, payload.PeriodID, time.Now())
	if err != nil {
		j.Logger.Error("penalty application failed",
			slog.Int64("period_id", payload.PeriodID), slog.Any("error", err))
		return err
	}
	j.Logger.Info("penalty application completed",
		slog.Int64("period_id", payload.PeriodID), slog.Int("penalized", applied))
	return nil
}
