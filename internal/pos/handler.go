package pos

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
	r.Post("/sales", h.Checkout)
	r.Get("/sales", h.List)
	r.Get("/sales/{id}", h.Show)
}

type checkoutLineRequest struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal  `json:"quantity" validate:"required"`
	UOM       string           `json:"uom"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type checkoutRequest struct {
	Number      string                `json:"number"`
	WarehouseID int64                 `json:"warehouse_id" validate:"required,gt=0"`
	CashierID   int64                 `json:"cashier_id"`
	Lines       []checkoutLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CheckoutInput{
		Number:      req.Number,
		WarehouseID: req.WarehouseID,
		CashierID:   req.CashierID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, CheckoutLineInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UOM:       line.UOM,
			UnitPrice: line.UnitPrice,
		})
	}

	sale, err := h.service.Checkout(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "sale id must be numeric")
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.ParsePageQuery(r.URL.Query())
	filter := ListFilters{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.WarehouseID = id
		}
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = &ts
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = &ts
		}
	}

	sales, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": sales})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var shortfall *ledger.InsufficientStockError
	var unitErr *ledger.UnitNotFoundError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &shortfall):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.As(err, &unitErr):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Unit", err.Error())
	case errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("pos request failed", "error", err)
		httpx.RespondError(w, err)
	}
}
