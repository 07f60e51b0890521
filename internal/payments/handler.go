package payments

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stratafin/stratafin/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the payment allocator.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the payments handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.apply)
	r.Get("/payments/{paymentID}", h.get)
	r.Delete("/payments/{paymentID}", h.delete)
	r.Get("/units/{unitID}/payments", h.listByUnit)
}

type applyRequest struct {
	UnitID        int64     `json:"unit_id" validate:"required,gt=0"`
	PeriodID      int64     `json:"period_id" validate:"required,gt=0"`
	Amount        string    `json:"amount" validate:"required"`
	CurrencyCode  string    `json:"currency_code" validate:"required,len=3"`
	ExchangeRate  string    `json:"exchange_rate" validate:"required"`
	AccountID     int64     `json:"account_id" validate:"required,gt=0"`
	AccountRate   string    `json:"account_rate"`
	ReportingRate string    `json:"reporting_rate"`
	Category      string    `json:"category"`
	Method        string    `json:"method"`
	Reference     string    `json:"reference"`
	PaymentDate   time.Time `json:"payment_date"`
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return
	}
	rate, err := decimal.NewFromString(req.ExchangeRate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid exchange rate")
		return
	}
	in := ApplyPaymentInput{
		UnitID:        req.UnitID,
		PeriodID:      req.PeriodID,
		Amount:        amount,
		CurrencyCode:  req.CurrencyCode,
		ExchangeRate:  rate,
		AccountID:     req.AccountID,
		AccountRate:   parseRateOrZero(req.AccountRate),
		ReportingRate: parseRateOrZero(req.ReportingRate),
		Category:      req.Category,
		Method:        req.Method,
		Reference:     req.Reference,
		PaymentDate:   req.PaymentDate,
	}
	result, err := h.service.ApplyPayment(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
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

func parseRateOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
