package ledger

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

// Handler wires HTTP endpoints for the general ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/accounts", h.createAccount)
	r.Get("/accounts/{accountID}", h.getAccount)
	r.Get("/sites/{siteID}/accounts", h.listAccounts)
	r.Post("/entries", h.createEntry)
	r.Get("/entries/{entryID}", h.getEntry)
	r.Delete("/entries/{entryID}", h.deleteEntry)
	r.Get("/periods/{periodID}/entries", h.listEntries)
}

type createAccountRequest struct {
	SiteID         int64  `json:"site_id" validate:"required,gt=0"`
	Name           string `json:"name" validate:"required"`
	CurrencyCode   string `json:"currency_code" validate:"required,len=3"`
	InitialBalance string `json:"initial_balance"`
}

type createEntryRequest struct {
	SiteID        int64     `json:"site_id" validate:"required,gt=0"`
	PeriodID      int64     `json:"period_id" validate:"required,gt=0"`
	Type          string    `json:"type" validate:"required,oneof=INCOME EXPENSE TRANSFER"`
	Amount        string    `json:"amount" validate:"required"`
	CurrencyCode  string    `json:"currency_code" validate:"required,len=3"`
	ExchangeRate  string    `json:"exchange_rate"`
	AccountRate   string    `json:"account_rate"`
	Category      string    `json:"category"`
	AccountID     *int64    `json:"account_id"`
	FromAccountID *int64    `json:"from_account_id"`
	ToAccountID   *int64    `json:"to_account_id"`
	Description   string    `json:"description"`
	EntryDate     time.Time `json:"entry_date"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	initial := decimal.Zero
	if req.InitialBalance != "" {
		parsed, err := decimal.NewFromString(req.InitialBalance)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid initial balance")
			return
		}
		initial = parsed
	}
	account, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		SiteID:         req.SiteID,
		Name:           req.Name,
		CurrencyCode:   req.CurrencyCode,
		InitialBalance: initial,
		CreatedBy:      shared.ActorFromContext(r.Context()).UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.PathInt64(r, "siteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), siteID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
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
	in := CreateEntryInput{
		SiteID:        req.SiteID,
		PeriodID:      req.PeriodID,
		Type:          EntryType(req.Type),
		Amount:        amount,
		CurrencyCode:  req.CurrencyCode,
		ExchangeRate:  parseRateOrOne(req.ExchangeRate),
		AccountRate:   parseRateOrOne(req.AccountRate),
		Category:      req.Category,
		AccountID:     req.AccountID,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Description:   req.Description,
		EntryDate:     req.EntryDate,
		CreatedBy:     shared.ActorFromContext(r.Context()).UserID,
	}
	entry, err := h.service.CreateEntry(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "entryID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "entryID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteEntry(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.PathInt64(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListEntries(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func parseRateOrOne(s string) decimal.Decimal {
	if s == "" {
		return decimal.NewFromInt(1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}
