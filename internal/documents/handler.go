package documents

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

var conflictErrors = []error{ErrAlreadyConfirmed, ErrInvalidState, ErrDuplicateNumber}

// Handler exposes the document lifecycle over JSON.
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

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.updateHeader)
		r.Post("/lines", h.addLine)
		r.Put("/lines/{lineID}", h.updateLine)
		r.Delete("/lines/{lineID}", h.removeLine)
		r.Post("/confirm", h.confirm)
	})
}

type lineRequest struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Direction   string          `json:"direction" validate:"omitempty,oneof=IN OUT"`
	BatchNumber string          `json:"batch_number" validate:"max=64"`
	ExpiryDate  string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	Serials     []string        `json:"serials" validate:"dive,required,max=128"`
}

func (l lineRequest) input(field string) (LineInput, error) {
	in := LineInput{
		ItemID:      l.ItemID,
		Qty:         l.Qty,
		UnitCost:    l.UnitCost,
		UnitPrice:   l.UnitPrice,
		Direction:   Direction(l.Direction),
		BatchNumber: l.BatchNumber,
		Serials:     l.Serials,
	}
	if l.ExpiryDate != "" {
		expiry, err := httpx.ParseDate(field+".expiry_date", l.ExpiryDate)
		if err != nil {
			return LineInput{}, err
		}
		in.ExpiryDate = &expiry
	}
	return in, nil
}

type createRequest struct {
	Kind           string        `json:"kind" validate:"required,oneof=GRN SALES_INVOICE ADJUSTMENT TRANSFER"`
	Number         string        `json:"number" validate:"max=64"`
	Date           string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	PartyID        int64         `json:"party_id" validate:"gte=0"`
	PaymentType    string        `json:"payment_type" validate:"omitempty,oneof=CASH CREDIT"`
	LocationID     int64         `json:"location_id" validate:"required,gt=0"`
	DestLocationID int64         `json:"dest_location_id" validate:"gte=0"`
	Note           string        `json:"note" validate:"max=512"`
	Lines          []lineRequest `json:"lines" validate:"dive"`
}

type headerRequest struct {
	Number         *string `json:"number" validate:"omitempty,max=64"`
	Date           *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	PartyID        *int64  `json:"party_id" validate:"omitempty,gte=0"`
	PaymentType    *string `json:"payment_type" validate:"omitempty,oneof=CASH CREDIT"`
	LocationID     *int64  `json:"location_id" validate:"omitempty,gt=0"`
	DestLocationID *int64  `json:"dest_location_id" validate:"omitempty,gte=0"`
	Note           *string `json:"note" validate:"omitempty,max=512"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.ParseDate("date", req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		Kind:           Kind(req.Kind),
		Number:         req.Number,
		Date:           date,
		PartyID:        req.PartyID,
		PaymentType:    PaymentType(req.PaymentType),
		LocationID:     req.LocationID,
		DestLocationID: req.DestLocationID,
		Note:           req.Note,
	}
	for i, l := range req.Lines {
		line, err := l.input(fmt.Sprintf("lines[%d]", i))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.Lines = append(in.Lines, line)
	}
	doc, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Kind: Kind(q.Get("kind")), Status: Status(q.Get("status"))}
	var err error
	if filter.DateFrom, err = httpx.QueryDate(r, "date_from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DateTo, err = httpx.QueryDate(r, "date_to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			httpx.RespondError(w, &httpx.RequestError{Message: "invalid parameter", Fields: []httpx.FieldError{{Field: "limit", Reason: "must be an integer"}}})
			return
		}
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	httpx.JSON(w, http.StatusOK, docs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req headerRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := HeaderInput{
		Number:         req.Number,
		PartyID:        req.PartyID,
		LocationID:     req.LocationID,
		DestLocationID: req.DestLocationID,
		Note:           req.Note,
	}
	if req.Date != nil {
		date, err := httpx.ParseDate("date", *req.Date)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.Date = &date
	}
	if req.PaymentType != nil {
		pt := PaymentType(*req.PaymentType)
		in.PaymentType = &pt
	}
	doc, err := h.service.UpdateHeader(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) bindLine(w http.ResponseWriter, r *http.Request) (LineInput, bool) {
	var req lineRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return LineInput{}, false
	}
	in, err := req.input("line")
	if err != nil {
		httpx.RespondError(w, err)
		return LineInput{}, false
	}
	return in, true
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, ok := h.bindLine(w, r)
	if !ok {
		return
	}
	doc, err := h.service.AddLine(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := httpx.PathInt64(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, ok := h.bindLine(w, r)
	if !ok {
		return
	}
	doc, err := h.service.UpdateLine(r.Context(), id, lineID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := httpx.PathInt64(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.RemoveLine(r.Context(), id, lineID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "document request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err, conflictErrors...)
}
