package sites

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/platform/httpx"
	"github.com/stratafin/stratafin/internal/shared"
)

// Handler wires HTTP endpoints for site master data.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the sites handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers site routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sites/{siteID}", func(r chi.Router) {
		r.Get("/", h.getSite)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)
		r.Get("/units", h.listUnits)
		r.Post("/units", h.createUnit)
		r.Get("/periods", h.listPeriods)
		r.Post("/periods", h.createPeriod)
	})
	r.Post("/periods/{periodID}/activate", h.activatePeriod)
}

type settingsRequest struct {
	DistributionMethod     string `json:"distribution_method" validate:"required,oneof=COEFFICIENT SHARE_RATIO"`
	PenaltyThresholdMonths int    `json:"penalty_threshold_months" validate:"gte=0"`
	PenaltyPercent         string `json:"penalty_percent" validate:"required"`
}

type createUnitRequest struct {
	Name           string `json:"name" validate:"required"`
	Coefficient    string `json:"coefficient"`
	ShareRatio     string `json:"share_ratio"`
	OpeningBalance string `json:"opening_balance"`
}

type createPeriodRequest struct {
	Name        string    `json:"name" validate:"required"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`
	TotalBudget string    `json:"total_budget"`
}

func (h *Handler) getSite(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	site, err := h.service.GetSite(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, site)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.service.GetSettings(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req settingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	percent, err := decimal.NewFromString(req.PenaltyPercent)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid penalty percent")
		return
	}
	settings := Settings{
		SiteID:                 id,
		DistributionMethod:     DistributionMethod(req.DistributionMethod),
		PenaltyThresholdMonths: req.PenaltyThresholdMonths,
		PenaltyPercent:         percent,
	}
	if err := h.service.UpdateSettings(r.Context(), settings); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	units, err := h.service.ListUnits(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, units)
}

func (h *Handler) createUnit(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createUnitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreateUnitInput{
		SiteID:         siteID,
		Name:           req.Name,
		Coefficient:    parseDecimalOrZero(req.Coefficient),
		ShareRatio:     parseDecimalOrZero(req.ShareRatio),
		OpeningBalance: parseDecimalOrZero(req.OpeningBalance),
		CreatedBy:      shared.ActorFromContext(r.Context()).UserID,
	}
	unit, err := h.service.CreateUnit(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, unit)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periods, err := h.service.ListPeriods(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreatePeriodInput{
		SiteID:      siteID,
		Name:        req.Name,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		TotalBudget: parseDecimalOrZero(req.TotalBudget),
		CreatedBy:   shared.ActorFromContext(r.Context()).UserID,
	}
	period, err := h.service.CreatePeriod(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) activatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.ActivatePeriod(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
