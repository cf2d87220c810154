package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/zazakia/kiropos/internal/platform/httpx"
)

// Handler wires JSON endpoints for the inventory ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cache     *redis.Client
	cacheTTL  time.Duration
	validator *validator.Validate
}

// NewHandler constructs the ledger handler. cache may be nil; the
// stock-levels view is then computed on every request.
func NewHandler(logger *slog.Logger, service *Service, cache *redis.Client, cacheTTL time.Duration) *Handler {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Handler{
		logger:    logger,
		service:   service,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validator.New(),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock/add", h.handleAddStock)
	r.Post("/stock/deduct", h.handleDeductStock)
	r.Post("/stock/transfer", h.handleTransferStock)
	r.Post("/stock/adjust", h.handleAdjustStock)
	r.Get("/stock-levels", h.handleStockLevels)
	r.Get("/average-cost", h.handleAverageCost)
	r.Get("/movements", h.handleMovements)
	r.Get("/batches", h.handleBatches)
}

type addStockRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID   int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	UOM           string          `json:"uom"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	ReceivedAt    *time.Time      `json:"received_at,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	BatchNumber   string          `json:"batch_number,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty" validate:"omitempty,uuid"`
	ReferenceType string          `json:"reference_type,omitempty"`
}

type deductStockRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID   int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	UOM           string          `json:"uom"`
	Reason        string          `json:"reason" validate:"required"`
	ReferenceID   string          `json:"reference_id,omitempty" validate:"omitempty,uuid"`
	ReferenceType string          `json:"reference_type,omitempty"`
}

type transferStockRequest struct {
	ProductID         int64           `json:"product_id" validate:"required,gt=0"`
	SourceWarehouseID int64           `json:"source_warehouse_id" validate:"required,gt=0"`
	DestWarehouseID   int64           `json:"dest_warehouse_id" validate:"required,gt=0"`
	Quantity          decimal.Decimal `json:"quantity"`
	UOM               string          `json:"uom"`
	Reason            string          `json:"reason" validate:"required"`
}

type adjustStockRequest struct {
	BatchID     int64           `json:"batch_id" validate:"required,gt=0"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Reason      string          `json:"reason" validate:"required"`
}

func (h *Handler) handleAddStock(w http.ResponseWriter, r *http.Request) {
	var req addStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := AddStockInput{
		ProductID:     req.ProductID,
		WarehouseID:   req.WarehouseID,
		Quantity:      req.Quantity,
		UOM:           req.UOM,
		UnitCost:      req.UnitCost,
		ExpiresAt:     req.ExpiresAt,
		BatchNumber:   req.BatchNumber,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = *req.ReceivedAt
	}
	batch, err := h.service.AddStock(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidateStockLevels(r.Context(), req.WarehouseID)
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) handleDeductStock(w http.ResponseWriter, r *http.Request) {
	var req deductStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	cogs, err := h.service.DeductStock(r.Context(), DeductStockInput{
		ProductID:     req.ProductID,
		WarehouseID:   req.WarehouseID,
		Quantity:      req.Quantity,
		UOM:           req.UOM,
		Reason:        req.Reason,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidateStockLevels(r.Context(), req.WarehouseID)
	httpx.JSON(w, http.StatusOK, map[string]string{"cogs": cogs.StringFixed(2)})
}

func (h *Handler) handleTransferStock(w http.ResponseWriter, r *http.Request) {
	var req transferStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.service.TransferStock(r.Context(), TransferStockInput{
		ProductID:         req.ProductID,
		SourceWarehouseID: req.SourceWarehouseID,
		DestWarehouseID:   req.DestWarehouseID,
		Quantity:          req.Quantity,
		UOM:               req.UOM,
		Reason:            req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidateStockLevels(r.Context(), req.SourceWarehouseID, req.DestWarehouseID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, err := h.service.AdjustStock(r.Context(), AdjustStockInput{
		BatchID:     req.BatchID,
		NewQuantity: req.NewQuantity,
		Reason:      req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.invalidateStockLevels(r.Context(), batch.WarehouseID)
	w.WriteHeader(http.StatusNoContent)
}

type stockLevelResponse struct {
	ProductID     int64   `json:"product_id"`
	WarehouseID   int64   `json:"warehouse_id"`
	TotalQuantity string  `json:"total_quantity"`
	AverageCost   string  `json:"average_cost"`
	Batches       []Batch `json:"batches"`
}

func (h *Handler) handleStockLevels(w http.ResponseWriter, r *http.Request) {
	warehouseID, _ := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)

	if h.cache != nil {
		if cached, err := h.cache.Get(r.Context(), stockLevelKey(warehouseID)).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(cached)
			return
		}
	}

	levels, err := h.service.StockLevels(r.Context(), warehouseID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	response := make([]stockLevelResponse, 0, len(levels))
	for _, lvl := range levels {
		response = append(response, stockLevelResponse{
			ProductID:     lvl.ProductID,
			WarehouseID:   lvl.WarehouseID,
			TotalQuantity: lvl.TotalQuantity.String(),
			AverageCost:   lvl.AverageCost.StringFixed(2),
			Batches:       lvl.Batches,
		})
	}
	if h.cache != nil {
		if body, err := json.Marshal(response); err == nil {
			if err := h.cache.Set(r.Context(), stockLevelKey(warehouseID), body, h.cacheTTL).Err(); err != nil {
				h.logger.Warn("stock level cache set failed", slog.Any("error", err))
			}
		}
	}
	httpx.JSON(w, http.StatusOK, response)
}

func (h *Handler) handleAverageCost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, _ := strconv.ParseInt(q.Get("product_id"), 10, 64)
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if productID <= 0 || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and warehouse_id are required")
		return
	}
	avg, err := h.service.AverageCostByUOM(r.Context(), productID, warehouseID, q.Get("uom"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"average_cost": avg.StringFixed(2)})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		ReferenceType: q.Get("reference_type"),
		Type:          MovementType(q.Get("type")),
	}
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		// end of day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := BatchFilter{Status: BatchStatus(q.Get("status"))}
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	batches, err := h.service.Batches(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *InsufficientStockError
	var unitNotFound *UnitNotFoundError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.As(err, &unitNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Unit", unitNotFound.Error())
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrNegativeAdjustment),
		errors.Is(err, ErrSameWarehouse):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("ledger operation failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// invalidateStockLevels drops cached stock-level views inside the write
// request so a subsequent read never sees pre-write data.
func (h *Handler) invalidateStockLevels(ctx context.Context, warehouseIDs ...int64) {
	if h.cache == nil {
		return
	}
	keys := []string{stockLevelKey(0)}
	for _, id := range warehouseIDs {
		if id != 0 {
			keys = append(keys, stockLevelKey(id))
		}
	}
	if err := h.cache.Del(ctx, keys...).Err(); err != nil {
		h.logger.Warn("stock level cache invalidation failed", slog.Any("error", err))
	}
}

func stockLevelKey(warehouseID int64) string {
	return fmt.Sprintf("ledger:stock-levels:%d", warehouseID)
}
