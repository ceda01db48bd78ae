package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

const maxMovementRows = 1000

// Handler exposes stock balances and movements over JSON.
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

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.listBalances)
	r.Get("/balances/{itemID}/{locationID}", h.getBalance)
	r.Get("/movements", h.listMovements)
	r.Post("/movements", h.appendMovement)
	r.Get("/card/{itemID}/{locationID}", h.stockCard)
}

type movementRequest struct {
	ItemID       int64           `json:"item_id" validate:"required,gt=0"`
	LocationID   int64           `json:"location_id" validate:"required,gt=0"`
	TxnDate      string          `json:"txn_date" validate:"required,datetime=2006-01-02"`
	SourceType   string          `json:"source_type" validate:"required,oneof=PURCHASE SALES PRODUCTION_IN PRODUCTION_OUT ADJUSTMENT_IN ADJUSTMENT_OUT TRANSFER_IN TRANSFER_OUT"`
	SourceID     string          `json:"source_id" validate:"omitempty,uuid"`
	SourceNumber string          `json:"source_number" validate:"max=64"`
	Qty          decimal.Decimal `json:"qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Remarks      string          `json:"remarks" validate:"max=512"`
}

func (req movementRequest) entry() (Entry, error) {
	date, err := httpx.ParseDate("txn_date", req.TxnDate)
	if err != nil {
		return Entry{}, err
	}
	sourceID := uuid.New()
	if req.SourceID != "" {
		sourceID = uuid.MustParse(req.SourceID)
	}
	e := Entry{
		ItemID:       req.ItemID,
		LocationID:   req.LocationID,
		TxnDate:      date,
		SourceType:   SourceType(req.SourceType),
		SourceID:     sourceID,
		SourceNumber: req.SourceNumber,
		UnitCost:     req.UnitCost,
		Remarks:      req.Remarks,
	}
	if inward, _ := e.SourceType.Inward(); inward {
		e.QtyIn = req.Qty
	} else {
		e.QtyOut = req.Qty
	}
	return e, nil
}

type appendResponse struct {
	Entry   Entry   `json:"entry"`
	Balance Balance `json:"balance"`
}

func (h *Handler) appendMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := req.entry()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stored, balance, err := h.service.AppendMovement(r.Context(), entry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, appendResponse{Entry: stored, Balance: balance})
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.QueryInt64(r, "item_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	locationID, err := httpx.QueryInt64(r, "location_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.GetBalances(r.Context(), BalanceFilter{ItemID: itemID, LocationID: locationID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if balances == nil {
		balances = []Balance{}
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) pathKey(w http.ResponseWriter, r *http.Request) (Key, bool) {
	itemID, err := httpx.PathInt64(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return Key{}, false
	}
	locationID, err := httpx.PathInt64(r, "locationID")
	if err != nil {
		httpx.RespondError(w, err)
		return Key{}, false
	}
	return Key{ItemID: itemID, LocationID: locationID}, true
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), key.ItemID, key.LocationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	var (
		filter MovementFilter
		err    error
	)
	if filter.ItemID, err = httpx.QueryInt64(r, "item_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.LocationID, err = httpx.QueryInt64(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DateFrom, err = httpx.QueryDate(r, "date_from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DateTo, err = httpx.QueryDate(r, "date_to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.SourceType = SourceType(r.URL.Query().Get("source_type"))
	entries := make([]Entry, 0)
	for e, err := range h.service.Movements(r.Context(), filter) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		entries = append(entries, e)
		if len(entries) == maxMovementRows {
			break
		}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	key, ok := h.pathKey(w, r)
	if !ok {
		return
	}
	from, err := httpx.QueryDate(r, "date_from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "date_to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.StockCard(r.Context(), key.ItemID, key.LocationID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if lines == nil {
		lines = []CardLine{}
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
