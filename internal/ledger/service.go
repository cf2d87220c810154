package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zazakia/kiropos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// ProductSource resolves the product slice the ledger reads.
type ProductSource interface {
	ProductInfo(ctx context.Context, productID int64) (ProductInfo, error)
}

// WarehouseSource validates warehouse references.
type WarehouseSource interface {
	WarehouseExists(ctx context.Context, warehouseID int64) (bool, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records ledger operation metrics.
type MetricsPort interface {
	ObserveLedgerOp(movementType string)
	ObserveStockRejection()
}

// Service orchestrates stock operations. Every mutation runs inside a single
// database transaction; validation failures never reach a write.
type Service struct {
	repo        RepositoryPort
	products    ProductSource
	warehouses  WarehouseSource
	converter   Converter
	engine      Engine
	audit       AuditPort
	metrics     MetricsPort
	integration IntegrationHandler
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// StrictUOM turns the permissive unknown-unit fallback into an error.
	StrictUOM bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, products ProductSource, warehouses WarehouseSource, audit AuditPort, metrics MetricsPort, cfg ServiceConfig, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		products:    products,
		warehouses:  warehouses,
		converter:   Converter{Strict: cfg.StrictUOM},
		audit:       audit,
		metrics:     metrics,
		integration: integration,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AddStock converts the quantity and cost to base units, creates a batch,
// and records one IN movement.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (Batch, error) {
	if !input.Quantity.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	if !input.UnitCost.IsPositive() {
		return Batch{}, ErrInvalidUnitCost
	}
	product, res, err := s.resolveProductUnit(ctx, input.ProductID, input.UOM)
	if err != nil {
		return Batch{}, err
	}
	if err := s.requireWarehouse(ctx, input.WarehouseID); err != nil {
		return Batch{}, err
	}

	now := s.now()
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	expiresAt := input.ExpiresAt
	if expiresAt == nil && product.ShelfLifeDays > 0 {
		derived := receivedAt.AddDate(0, 0, product.ShelfLifeDays)
		expiresAt = &derived
	}

	batch := Batch{
		ProductID:     input.ProductID,
		WarehouseID:   input.WarehouseID,
		Quantity:      res.ToBaseQuantity(input.Quantity),
		UnitCost:      res.ToBaseUnitCost(input.UnitCost),
		ReceivedAt:    receivedAt,
		ExpiresAt:     expiresAt,
		Status:        BatchActive,
		BatchNumber:   input.BatchNumber,
		ReferenceID:   input.ReferenceID,
		ReferenceType: input.ReferenceType,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		_, err = tx.InsertMovement(ctx, Movement{
			BatchID:       id,
			ProductID:     input.ProductID,
			WarehouseID:   input.WarehouseID,
			Type:          MovementIn,
			Quantity:      batch.Quantity,
			Reason:        "stock received",
			ReferenceID:   input.ReferenceID,
			ReferenceType: input.ReferenceType,
		})
		return err
	})
	if err != nil {
		return Batch{}, err
	}

	s.observe(MovementIn)
	s.recordAudit(ctx, input.ActorID, "ledger:add", batch.ID, map[string]any{
		"product_id":   input.ProductID,
		"warehouse_id": input.WarehouseID,
		"quantity":     batch.Quantity.String(),
		"unit_cost":    batch.UnitCost.String(),
	})
	if s.integration != nil {
		evt := StockReceivedEvent{
			BatchID:       batch.ID,
			ProductID:     input.ProductID,
			WarehouseID:   input.WarehouseID,
			Quantity:      batch.Quantity,
			UnitCost:      batch.UnitCost,
			ReferenceID:   input.ReferenceID,
			ReferenceType: input.ReferenceType,
			PostedAt:      now,
		}
		if err := s.integration.HandleStockReceived(ctx, evt); err != nil {
			return Batch{}, err
		}
	}
	return batch, nil
}

// DeductStock consumes stock oldest-expiry-first and returns the total cost
// of goods sold. When availability falls short no batch is mutated.
func (s *Service) DeductStock(ctx context.Context, input DeductStockInput) (decimal.Decimal, error) {
	if !input.Quantity.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	product, res, err := s.resolveProductUnit(ctx, input.ProductID, input.UOM)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.requireWarehouse(ctx, input.WarehouseID); err != nil {
		return decimal.Zero, err
	}

	baseQty := res.ToBaseQuantity(input.Quantity)
	var plan ConsumptionPlan
	var remaining decimal.Decimal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		plan, remaining, err = s.consume(ctx, tx, product, input.WarehouseID, baseQty, MovementOut, input.Reason, input.ReferenceID, input.ReferenceType)
		return err
	})
	if err != nil {
		var shortfall *InsufficientStockError
		if errors.As(err, &shortfall) && s.metrics != nil {
			s.metrics.ObserveStockRejection()
		}
		return decimal.Zero, err
	}

	s.observe(MovementOut)
	s.recordAudit(ctx, input.ActorID, "ledger:deduct", input.ProductID, map[string]any{
		"product_id":   input.ProductID,
		"warehouse_id": input.WarehouseID,
		"quantity":     baseQty.String(),
		"cogs":         plan.COGS.String(),
		"reason":       input.Reason,
	})
	if s.integration != nil {
		evt := StockDeductedEvent{
			ProductID:     input.ProductID,
			WarehouseID:   input.WarehouseID,
			Quantity:      baseQty,
			COGS:          plan.COGS,
			ReferenceID:   input.ReferenceID,
			ReferenceType: input.ReferenceType,
			PostedAt:      s.now(),
		}
		if err := s.integration.HandleStockDeducted(ctx, evt); err != nil {
			return decimal.Zero, err
		}
		if product.MinimumStock.IsPositive() && remaining.LessThan(product.MinimumStock) {
			low := LowStockEvent{
				ProductID:   product.ID,
				ProductName: product.Name,
				WarehouseID: input.WarehouseID,
				Remaining:   remaining,
				Minimum:     product.MinimumStock,
			}
			if err := s.integration.HandleLowStock(ctx, low); err != nil {
				return decimal.Zero, err
			}
		}
	}
	return plan.COGS, nil
}

// TransferStock atomically deducts from the source warehouse and re-creates
// the consumed lots in the destination at their original unit cost. Expiry
// dates and batch numbers travel with the stock.
func (s *Service) TransferStock(ctx context.Context, input TransferStockInput) error {
	if input.SourceWarehouseID == input.DestWarehouseID {
		return ErrSameWarehouse
	}
	if !input.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	product, res, err := s.resolveProductUnit(ctx, input.ProductID, input.UOM)
	if err != nil {
		return err
	}
	if err := s.requireWarehouse(ctx, input.SourceWarehouseID); err != nil {
		return err
	}
	if err := s.requireWarehouse(ctx, input.DestWarehouseID); err != nil {
		return err
	}

	baseQty := res.ToBaseQuantity(input.Quantity)
	transferRef := uuid.NewString()
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		plan, _, err := s.consume(ctx, tx, product, input.SourceWarehouseID, baseQty, MovementTransfer, input.Reason, transferRef, "TRANSFER")
		if err != nil {
			return err
		}
		for _, take := range plan.Takes {
			dest := Batch{
				ProductID:     input.ProductID,
				WarehouseID:   input.DestWarehouseID,
				Quantity:      take.Quantity,
				UnitCost:      take.Batch.UnitCost,
				ReceivedAt:    now,
				ExpiresAt:     take.Batch.ExpiresAt,
				Status:        BatchActive,
				BatchNumber:   take.Batch.BatchNumber,
				ReferenceID:   transferRef,
				ReferenceType: "TRANSFER",
			}
			id, err := tx.InsertBatch(ctx, dest)
			if err != nil {
				return err
			}
			if _, err := tx.InsertMovement(ctx, Movement{
				BatchID:       id,
				ProductID:     input.ProductID,
				WarehouseID:   input.DestWarehouseID,
				Type:          MovementTransfer,
				Quantity:      take.Quantity,
				Reason:        input.Reason,
				ReferenceID:   transferRef,
				ReferenceType: "TRANSFER",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var shortfall *InsufficientStockError
		if errors.As(err, &shortfall) && s.metrics != nil {
			s.metrics.ObserveStockRejection()
		}
		return err
	}

	s.observe(MovementTransfer)
	s.recordAudit(ctx, input.ActorID, "ledger:transfer", input.ProductID, map[string]any{
		"product_id": input.ProductID,
		"source":     input.SourceWarehouseID,
		"dest":       input.DestWarehouseID,
		"quantity":   baseQty.String(),
		"reference":  transferRef,
	})
	return nil
}

// AdjustStock sets a batch quantity directly, recording an ADJUSTMENT
// movement whose delta is new minus previous. The updated batch is returned
// so callers know which product/warehouse was touched.
func (s *Service) AdjustStock(ctx context.Context, input AdjustStockInput) (Batch, error) {
	if input.NewQuantity.IsNegative() {
		return Batch{}, ErrNegativeAdjustment
	}
	var adjusted Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		delta := input.NewQuantity.Sub(batch.Quantity)
		if delta.IsZero() {
			adjusted = batch
			return nil
		}
		status := batch.Status
		switch {
		case input.NewQuantity.IsZero():
			status = BatchDepleted
		case batch.Status == BatchDepleted:
			status = BatchActive
		}
		if err := tx.SetBatchQuantity(ctx, input.BatchID, input.NewQuantity, status); err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, Movement{
			BatchID:     input.BatchID,
			ProductID:   batch.ProductID,
			WarehouseID: batch.WarehouseID,
			Type:        MovementAdjustment,
			Quantity:    delta,
			Reason:      input.Reason,
		})
		batch.Quantity = input.NewQuantity
		batch.Status = status
		adjusted = batch
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.observe(MovementAdjustment)
	s.recordAudit(ctx, input.ActorID, "ledger:adjust", input.BatchID, map[string]any{
		"batch_id": input.BatchID,
		"quantity": input.NewQuantity.String(),
		"reason":   input.Reason,
	})
	return adjusted, nil
}

// StockLevels aggregates active stock per product/warehouse. Batches past
// their expiry date are excluded from totals at read time.
func (s *Service) StockLevels(ctx context.Context, warehouseID int64) ([]StockLevel, error) {
	batches, err := s.repo.ListBatches(ctx, BatchFilter{WarehouseID: warehouseID, Status: BatchActive})
	if err != nil {
		return nil, err
	}
	now := s.now()
	type levelKey struct{ product, warehouse int64 }
	grouped := map[levelKey][]Batch{}
	for _, b := range batches {
		if b.EffectiveStatus(now) != BatchActive || !b.Quantity.IsPositive() {
			continue
		}
		key := levelKey{b.ProductID, b.WarehouseID}
		grouped[key] = append(grouped[key], b)
	}
	levels := make([]StockLevel, 0, len(grouped))
	for key, group := range grouped {
		total := decimal.Zero
		for _, b := range group {
			total = total.Add(b.Quantity)
		}
		levels = append(levels, StockLevel{
			ProductID:     key.product,
			WarehouseID:   key.warehouse,
			TotalQuantity: total,
			AverageCost:   s.engine.AverageCost(group, decimal.Zero),
			Batches:       group,
		})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].WarehouseID != levels[j].WarehouseID {
			return levels[i].WarehouseID < levels[j].WarehouseID
		}
		return levels[i].ProductID < levels[j].ProductID
	})
	return levels, nil
}

// AverageCostByUOM returns the weighted-average cost of a product in a
// warehouse, converted to the requested unit. With no active batches the
// product's base price stands in for cost.
func (s *Service) AverageCostByUOM(ctx context.Context, productID, warehouseID int64, uom string) (decimal.Decimal, error) {
	product, res, err := s.resolveProductUnit(ctx, productID, uom)
	if err != nil {
		return decimal.Zero, err
	}
	batches, err := s.repo.ListBatches(ctx, BatchFilter{ProductID: productID, WarehouseID: warehouseID, Status: BatchActive})
	if err != nil {
		return decimal.Zero, err
	}
	now := s.now()
	active := batches[:0]
	for _, b := range batches {
		if b.EffectiveStatus(now) == BatchActive && b.Quantity.IsPositive() {
			active = append(active, b)
		}
	}
	avg := s.engine.AverageCost(active, product.BasePrice)
	return res.CostInUnit(avg), nil
}

// Movements lists journal entries matching the filter.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// Batches lists batches matching the filter with read-time status applied.
func (s *Service) Batches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	wantStatus := filter.Status
	// Expired rows may still be stored as active; widen the stored-status
	// filter and re-filter on the derived status below.
	if wantStatus == BatchExpired {
		filter.Status = ""
	}
	batches, err := s.repo.ListBatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := make([]Batch, 0, len(batches))
	for _, b := range batches {
		b.Status = b.EffectiveStatus(now)
		if wantStatus != "" && b.Status != wantStatus {
			continue
		}
		result = append(result, b)
	}
	return result, nil
}

// consume plans a deduction over the locked active batches, applies it batch
// by batch, and appends one movement per batch touched. Returns the plan and
// the total quantity remaining afterwards.
func (s *Service) consume(ctx context.Context, tx TxRepository, product ProductInfo, warehouseID int64, quantity decimal.Decimal, movementType MovementType, reason, referenceID, referenceType string) (ConsumptionPlan, decimal.Decimal, error) {
	locked, err := tx.ActiveBatchesForUpdate(ctx, product.ID, warehouseID)
	if err != nil {
		return ConsumptionPlan{}, decimal.Zero, err
	}
	now := s.now()
	batches := locked[:0]
	for _, b := range locked {
		if b.EffectiveStatus(now) == BatchActive {
			batches = append(batches, b)
		}
	}
	plan, err := s.engine.PlanConsumption(product, warehouseID, batches, quantity)
	if err != nil {
		return ConsumptionPlan{}, decimal.Zero, err
	}
	for _, take := range plan.Takes {
		if err := tx.DecrementBatch(ctx, take.Batch.ID, take.Quantity); err != nil {
			return ConsumptionPlan{}, decimal.Zero, err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			BatchID:       take.Batch.ID,
			ProductID:     product.ID,
			WarehouseID:   warehouseID,
			Type:          movementType,
			Quantity:      take.Quantity.Neg(),
			Reason:        reason,
			ReferenceID:   referenceID,
			ReferenceType: referenceType,
		}); err != nil {
			return ConsumptionPlan{}, decimal.Zero, err
		}
	}
	remaining := decimal.Zero
	for _, b := range batches {
		remaining = remaining.Add(b.Quantity)
	}
	remaining = remaining.Sub(quantity)
	return plan, remaining, nil
}

func (s *Service) resolveProductUnit(ctx context.Context, productID int64, uom string) (ProductInfo, UnitResolution, error) {
	product, err := s.products.ProductInfo(ctx, productID)
	if err != nil {
		return ProductInfo{}, UnitResolution{}, err
	}
	res, err := s.converter.ResolveUnit(product, uom)
	if err != nil {
		return ProductInfo{}, UnitResolution{}, err
	}
	return product, res, nil
}

func (s *Service) requireWarehouse(ctx context.Context, warehouseID int64) error {
	if s.warehouses == nil {
		return nil
	}
	ok, err := s.warehouses.WarehouseExists(ctx, warehouseID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("warehouse %d: %w", warehouseID, ErrNotFound)
	}
	return nil
}

func (s *Service) observe(movementType MovementType) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerOp(string(movementType))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
