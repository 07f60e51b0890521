package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/stratafin/stratafin/internal/collections"
	"github.com/stratafin/stratafin/internal/sites"
)

// scanConcurrency bounds how many sites are recomputed at once. Each scan
// holds its own transaction, so the bound keeps pool pressure predictable.
const scanConcurrency = 4

// CollectionsScanJob re-derives escalation stages for every unit in debt.
type CollectionsScanJob struct {
	Collections *collections.Service
	Sites       *sites.Service
	Logger      *slog.Logger
}

// NewCollectionsScanJob initialises the collections scan handler.
func NewCollectionsScanJob(collectionsSvc *collections.Service, sitesSvc *sites.Service, logger *slog.Logger) *CollectionsScanJob {
	return &CollectionsScanJob{Collections: collectionsSvc, Sites: sitesSvc, Logger: logger}
}

// Handle executes the scan for one site, or for all sites when the payload
// carries no site id.
func (j *CollectionsScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("collections scan: handler not configured")
	}
	var payload CollectionsScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	var ids []int64
	if payload.SiteID != 0 {
		ids = []int64{payload.SiteID}
	} else {
		all, err := j.Sites.ListSites(ctx)
		if err != nil {
			return err
		}
		for _, s := range all {
			ids = append(ids, s.ID)
		}
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, siteID := range ids {
		g.Go(func() error {
			result, err := j.Collections.RecomputeSite(groupCtx, siteID)
			if err != nil {
				j.Logger.Error("collections scan failed",
					slog.Int64("site_id", siteID), slog.Any("error", err))
				return err
			}
			j.Logger.Info("collections scan site done",
				slog.Int64("site_id", siteID),
				slog.Int("units_in_debt", result.UnitsInDebt),
				slog.Int("escalated", result.Escalated))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.Logger.Info("collections scan completed",
		slog.Int("sites", len(ids)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
