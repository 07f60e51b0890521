package collections

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stratafin/stratafin/internal/platform/httpx"
)

// Handler wires HTTP endpoints for collection workflows.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the collections handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers collection routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sites/{siteID}/collections", h.listBySite)
	r.Post("/sites/{siteID}/collections/scan", h.scan)
	r.Get("/units/{unitID}/collections", h.getByUnit)
}

func (h *Handler) listBySite(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	minStage := StageReminder
	if raw := r.URL.Query().Get("min_stage"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= StageReminder && v <= StageLegal {
			minStage = v
		}
	}
	activeOnly := r.URL.Query().Get("active") != "false"
	workflows, err := h.service.ListBySite(r.Context(), siteID, minStage, activeOnly)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, workflows)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RecomputeSite(r.Context(), siteID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getByUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := httpx.PathInt64(r, "unitID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	workflow, err := h.service.GetByUnit(r.Context(), unitID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, workflow)
}
