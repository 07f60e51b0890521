package dues

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the due ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the dues handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers due ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/periods/{periodID}/dues", func(r chi.Router) {
		r.Post("/generate", h.generate)
		r.Post("/price", h.priceAll)
		r.Post("/penalties", h.applyPenalties)
		r.Delete("/", h.forceDelete)
	})
	r.Post("/periods/{periodID}/units/{unitID}/dues/price", h.priceUnit)
	r.Get("/units/{unitID}/dues", h.listByUnit)
	r.Get("/dues/{dueID}", h.getDue)
}

type priceRequest struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
}

type penaltyRequest struct {
	AsOf time.Time `json:"as_of"`
}

type forceDeleteRequest struct {
	DescriptionFilter string `json:"description_filter" validate:"required"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.GenerateDues(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"created": created})
}

func (h *Handler) decodePrice(w http.ResponseWriter, r *http.Request) (decimal.Decimal, string, bool) {
	var req priceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return decimal.Zero, "", false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return decimal.Zero, "", false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return decimal.Zero, "", false
	}
	return amount, req.Currency, true
}

func (h *Handler) priceAll(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, currency, ok := h.decodePrice(w, r)
	if !ok {
		return
	}
	if err := h.service.SetAllUnitsMonthlyAmount(r.Context(), periodID, amount, currency); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) priceUnit(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	unitID, err := httpx.PathInt64(r, "unitID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, currency, ok := h.decodePrice(w, r)
	if !ok {
		return
	}
	if err := h.service.SetMonthlyAmount(r.Context(), unitID, periodID, amount, currency); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) applyPenalties(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req penaltyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	applied, err := h.service.ApplyLatePenalties(r.Context(), periodID, asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"penalized": applied})
}

func (h *Handler) forceDelete(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req forceDeleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	deleted, err := h.service.ForceDeleteDues(r.Context(), periodID, req.DescriptionFilter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) listByUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := httpx.PathInt64(r, "unitID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListByUnit(r.Context(), unitID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) getDue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "dueID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	due, err := h.service.GetDue(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, due)
}
