package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/stratafin/stratafin/internal/app"
	"github.com/stratafin/stratafin/internal/collections"
	"github.com/stratafin/stratafin/internal/dues"
	"github.com/stratafin/stratafin/internal/observability"
	"github.com/stratafin/stratafin/internal/platform/cache"
	"github.com/stratafin/stratafin/internal/platform/db"
	"github.com/stratafin/stratafin/internal/sites"
	"github.com/stratafin/stratafin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	sitesRepo := sites.NewRepository(pool)
	sitesSvc := sites.NewService(sitesRepo)

	duesRepo := dues.NewRepository(pool)
	duesSvc := dues.NewService(duesRepo, sitesSvc, metrics, logger)

	collectionsRepo := collections.NewRepository(pool)
	collectionsSvc := collections.NewService(collectionsRepo, duesRepo, metrics, logger)

	scanJob := jobs.NewCollectionsScanJob(collectionsSvc, sitesSvc, logger)
	maintenanceJob := jobs.NewDuesMaintenanceJob(duesSvc, logger)

	scanTask, err := jobs.NewCollectionsScanTask(jobs.CollectionsScanPayload{})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCollectionsScan, Handler: scanJob.Handle},
			{Type: jobs.TaskDuesGenerate, Handler: maintenanceJob.HandleGenerate},
			{Type: jobs.TaskDuesPenalties, Handler: maintenanceJob.HandlePenalties},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CollectionsScanCron, Task: scanTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
