package reporting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stratafin/stratafin/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the read models.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reporting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sites/{siteID}/reports", func(r chi.Router) {
		r.Get("/balances", h.unitBalances)
		r.Get("/summary", h.siteSummary)
		r.Get("/debt-alerts", h.debtAlerts)
		r.Get("/shares", h.unitShares)
	})
}

func (h *Handler) unitBalances(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.UnitBalances(r.Context(), siteID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) siteSummary(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periodID, err := httpx.QueryInt64(r, "period_id", 0)
	if err != nil || periodID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period_id query parameter required")
		return
	}
	summary, err := h.service.SiteSummary(r.Context(), siteID, periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) debtAlerts(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alerts, err := h.service.DebtAlerts(r.Context(), siteID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alerts)
}

func (h *Handler) unitShares(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	shares, err := h.service.UnitShares(r.Context(), siteID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shares)
}
