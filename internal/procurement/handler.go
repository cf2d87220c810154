package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/zazakia/kiropos/internal/ledger"
	"github.com/zazakia/kiropos/internal/platform/httpx"
	"github.com/zazakia/kiropos/internal/shared"
)

type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-orders", h.List)
	r.Post("/purchase-orders", h.Create)
	r.Get("/purchase-orders/{id}", h.Show)
	r.Post("/purchase-orders/{id}/approve", h.Approve)
	r.Post("/purchase-orders/{id}/cancel", h.Cancel)
	r.Post("/purchase-orders/{id}/receive", h.Receive)
}

type poLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	UOM       string          `json:"uom"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type createPORequest struct {
	Number       string          `json:"number" validate:"required"`
	SupplierName string          `json:"supplier_name"`
	WarehouseID  int64           `json:"warehouse_id" validate:"required,gt=0"`
	ExpectedDate *time.Time      `json:"expected_date"`
	Note         string          `json:"note"`
	Lines        []poLineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID      int64           `json:"actor_id"`
}

type receiveLineRequest struct {
	LineID      int64           `json:"line_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	BatchNumber string          `json:"batch_number"`
	ExpiresAt   *time.Time      `json:"expires_at"`
}

type receiveRequest struct {
	Lines   []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID int64                `json:"actor_id"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.ParsePageQuery(r.URL.Query())
	filter := ListFilters{
		Status: POStatus(r.URL.Query().Get("status")),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.WarehouseID = id
		}
	}

	orders, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchase orders failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "purchase order id must be numeric")
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreatePOInput{
		Number:       req.Number,
		SupplierName: req.SupplierName,
		WarehouseID:  req.WarehouseID,
		ExpectedDate: req.ExpectedDate,
		Note:         req.Note,
		ActorID:      req.ActorID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, POLineInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UOM:       line.UOM,
			UnitCost:  line.UnitCost,
		})
	}

	po, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "purchase order id must be numeric")
		return
	}
	if err := h.service.Approve(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "purchase order id must be numeric")
		return
	}
	if err := h.service.Cancel(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "purchase order id must be numeric")
		return
	}

	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := ReceiveInput{POID: id, ActorID: req.ActorID}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLineInput{
			LineID:      line.LineID,
			Quantity:    line.Quantity,
			BatchNumber: line.BatchNumber,
			ExpiresAt:   line.ExpiresAt,
		})
	}

	po, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalidState *InvalidStateError
	var overReceipt *OverReceiptError
	var unitErr *ledger.UnitNotFoundError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &invalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.As(err, &overReceipt):
		httpx.Problem(w, http.StatusConflict, "Over Receipt", err.Error())
	case errors.As(err, &unitErr):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Unit", err.Error())
	case errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("procurement request failed", "error", err)
		httpx.RespondError(w, err)
	}
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	return id
}
