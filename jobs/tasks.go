// Package jobs runs the background side of the engine: scheduled collection
// scans, due generation and penalty application over Asynq.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCollectionsScan recomputes escalation stages for one or all sites.
	TaskCollectionsScan = "collections:scan"
	// TaskDuesGenerate fills in missing due rows for a period.
	TaskDuesGenerate = "dues:generate"
	// TaskDuesPenalties applies late penalties across a period.
	TaskDuesPenalties = "dues:penalties"
)

// CollectionsScanPayload selects which site to scan. SiteID zero scans all.
type CollectionsScanPayload struct {
	SiteID int64 `json:"site_id"`
}

// DuesGeneratePayload selects the period to generate dues for.
type DuesGeneratePayload struct {
	PeriodID int64 `json:"period_id"`
}

// DuesPenaltiesPayload selects the period to penalize.
type DuesPenaltiesPayload struct {
	PeriodID int64 `json:"period_id"`
}

// NewCollectionsScanTask constructs an Asynq task.
func NewCollectionsScanTask(payload CollectionsScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCollectionsScan, data), nil
}

// NewDuesGenerateTask constructs an Asynq task.
func NewDuesGenerateTask(payload DuesGeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDuesGenerate, data), nil
}

// NewDuesPenaltiesTask constructs an Asynq task.
func NewDuesPenaltiesTask(payload DuesPenaltiesPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDuesPenalties, data), nil
}
