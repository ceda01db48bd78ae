package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ModuleManual tags journals posted through the API.
const ModuleManual = "GL.MANUAL"

var conflictErrors = []error{ErrSourceAlreadyLinked, ErrAlreadyReversed}

// Handler exposes the general ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.listBalances)
	r.Get("/balances/{accountID}", h.getBalance)
	r.Get("/trial-balance", h.trialBalance)
	r.Get("/journals", h.listJournals)
	r.Post("/journals", h.postJournal)
	r.Get("/journals/{id}", h.getJournal)
	r.Post("/journals/{id}/reverse", h.reverse)
}

type journalLineRequest struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo" validate:"max=256"`
}

type journalRequest struct {
	Date        string               `json:"date" validate:"required,datetime=2006-01-02"`
	Description string               `json:"description" validate:"max=512"`
	SourceID    string               `json:"source_id" validate:"omitempty,uuid"`
	Lines       []journalLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type reverseRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Memo string `json:"memo" validate:"max=512"`
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.ParseDate("date", req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sourceID := uuid.New()
	if req.SourceID != "" {
		sourceID = uuid.MustParse(req.SourceID)
	}
	in := PostingInput{
		Date:         date,
		Description:  req.Description,
		SourceModule: ModuleManual,
		SourceID:     sourceID,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, PostingLineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	// A manual journal that does not balance is bad input, not a posting defect.
	if err := in.Validate(); err != nil {
		var unbalanced *shared.UnbalancedJournalError
		if errors.As(err, &unbalanced) {
			err = &shared.ValidationError{Field: "lines", Reason: unbalanced.Error(), Cause: shared.ErrUnbalanced}
		}
		httpx.RespondError(w, err)
		return
	}
	journal, err := h.service.Post(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, journal)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	date, err := httpx.ParseDate("date", req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	journal, err := h.service.Reverse(r.Context(), id, date, req.Memo)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, journal)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	var (
		filter JournalFilter
		err    error
	)
	if filter.DateFrom, err = httpx.QueryDate(r, "date_from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DateTo, err = httpx.QueryDate(r, "date_to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.AccountID, err = httpx.QueryInt64(r, "account_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.RespondError(w, &httpx.RequestError{Message: "invalid parameter", Fields: []httpx.FieldError{{Field: "limit", Reason: "must be a non-negative integer"}}})
			return
		}
		filter.Limit = limit
	}
	journals, err := h.service.GetJournals(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if journals == nil {
		journals = []Journal{}
	}
	httpx.JSON(w, http.StatusOK, journals)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	journal, err := h.service.GetJournal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.GetAllAccountBalances(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if balances == nil {
		balances = []AccountBalance{}
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.GetAccountBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.service.TrialBalance(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err, conflictErrors...)
}
