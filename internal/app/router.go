package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stratafin/stratafin/internal/budget"
	"github.com/stratafin/stratafin/internal/collections"
	"github.com/stratafin/stratafin/internal/dues"
	"github.com/stratafin/stratafin/internal/ledger"
	"github.com/stratafin/stratafin/internal/observability"
	"github.com/stratafin/stratafin/internal/payments"
	"github.com/stratafin/stratafin/internal/reporting"
	"github.com/stratafin/stratafin/internal/rollover"
	"github.com/stratafin/stratafin/internal/shared"
	"github.com/stratafin/stratafin/internal/sites"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SitesHandler       *sites.Handler
	DuesHandler        *dues.Handler
	PaymentsHandler    *payments.Handler
	LedgerHandler      *ledger.Handler
	BudgetHandler      *budget.Handler
	CollectionsHandler *collections.Handler
	RolloverHandler    *rollover.Handler
	ReportingHandler   *reporting.Handler
	Metrics            *observability.Metrics
	Audit              *shared.AuditLogger
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
		Audit:   params.Audit,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		params.SitesHandler.MountRoutes(r)
		params.DuesHandler.MountRoutes(r)
		params.PaymentsHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
		params.BudgetHandler.MountRoutes(r)
		params.CollectionsHandler.MountRoutes(r)
		params.RolloverHandler.MountRoutes(r)
		params.ReportingHandler.MountRoutes(r)
	})

	return r
}
