package rollover

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stratafin/stratafin/internal/platform/httpx"
)

// Handler wires HTTP endpoints for period close.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the rollover handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers rollover routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods/{periodID}/close", h.close)
	r.Get("/periods/{periodID}/transfers", h.listTransfers)
}

type closeRequest struct {
	NextPeriodID int64 `json:"next_period_id" validate:"required,gt=0"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.ClosePeriod(r.Context(), periodID, req.NextPeriodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	transfers, err := h.service.ListTransfers(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfers)
}
