package budget

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/platform/httpx"
	"github.com/stratafin/stratafin/internal/shared"
)

// Handler wires HTTP endpoints for budget categories.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the budget handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers budget routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/periods/{periodID}/budget", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Post("/recalculate", h.recalculate)
	})
}

type createCategoryRequest struct {
	Name          string `json:"name" validate:"required"`
	PlannedAmount string `json:"planned_amount" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	categories, err := h.service.ListByPeriod(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createCategoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	planned, err := decimal.NewFromString(req.PlannedAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid planned amount")
		return
	}
	category, err := h.service.CreateCategory(r.Context(), CreateCategoryInput{
		PeriodID:      periodID,
		Name:          req.Name,
		PlannedAmount: planned,
		CreatedBy:     shared.ActorFromContext(r.Context()).UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, category)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	categories, err := h.service.RecalculateActuals(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}
