package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stratafin/stratafin/internal/app"
	"github.com/stratafin/stratafin/internal/budget"
	"github.com/stratafin/stratafin/internal/collections"
	"github.com/stratafin/stratafin/internal/dues"
	"github.com/stratafin/stratafin/internal/ledger"
	"github.com/stratafin/stratafin/internal/observability"
	"github.com/stratafin/stratafin/internal/payments"
	"github.com/stratafin/stratafin/internal/platform/cache"
	"github.com/stratafin/stratafin/internal/platform/db"
	"github.com/stratafin/stratafin/internal/reporting"
	"github.com/stratafin/stratafin/internal/rollover"
	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := db.Migrate(cfg.PGDSN, cfg.MigrationsURL); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

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
	locker := shared.NewLocker(redisClient, cfg.LeaseTTL)
	auditLogger := shared.NewAuditLogger(pool)

	sitesRepo := sites.NewRepository(pool)
	sitesSvc := sites.NewService(sitesRepo)

	duesRepo := dues.NewRepository(pool)
	duesSvc := dues.NewService(duesRepo, sitesSvc, metrics, logger)

	budgetRepo := budget.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, budgetRepo, logger)
	budgetSvc := budget.NewService(budgetRepo, ledgerRepo, logger)

	paymentsRepo := payments.NewRepository(pool)
	paymentsSvc := payments.NewService(paymentsRepo, duesRepo, ledgerSvc, sitesSvc, locker, metrics, logger)
	ledgerSvc.AttachAllocationReverser(paymentsSvc)

	collectionsRepo := collections.NewRepository(pool)
	collectionsSvc := collections.NewService(collectionsRepo, duesRepo, metrics, logger)

	rolloverRepo := rollover.NewRepository(pool)
	rolloverSvc := rollover.NewService(rolloverRepo, sitesRepo, duesRepo, collectionsRepo, locker, metrics, logger)

	reportingRepo := reporting.NewRepository(pool)
	reportingSvc := reporting.NewService(reportingRepo, sitesSvc, budgetSvc, redisClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SitesHandler:       sites.NewHandler(logger, sitesSvc),
		DuesHandler:        dues.NewHandler(logger, duesSvc),
		PaymentsHandler:    payments.NewHandler(logger, paymentsSvc),
		LedgerHandler:      ledger.NewHandler(logger, ledgerSvc),
		BudgetHandler:      budget.NewHandler(logger, budgetSvc),
		CollectionsHandler: collections.NewHandler(logger, collectionsSvc),
		RolloverHandler:    rollover.NewHandler(logger, rolloverSvc),
		ReportingHandler:   reporting.NewHandler(logger, reportingSvc),
		Metrics:            metrics,
		Audit:              auditLogger,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
