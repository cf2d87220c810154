package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "OUT"
	// MovementTransfer marks both legs of a warehouse transfer.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjustment indicates a manual quantity correction.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// BatchStatus is the lifecycle state of an inventory batch.
type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchExpired  BatchStatus = "expired"
	BatchDepleted BatchStatus = "depleted"
)

// Batch is a lot of stock for one product in one warehouse. Quantity and
// unit cost are always expressed in the product's base unit. Batches are
// never deleted; only the running quantity and status change.
type Batch struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	WarehouseID   int64           `json:"warehouse_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	ReceivedAt    time.Time       `json:"received_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Status        BatchStatus     `json:"status"`
	BatchNumber   string          `json:"batch_number,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsExpired reports whether the batch expiry date has passed.
func (b Batch) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// EffectiveStatus derives the read-time status: a stored active batch whose
// expiry date has passed reads as expired. Depletion is a write-time
// transition and is never overridden here.
func (b Batch) EffectiveStatus(now time.Time) BatchStatus {
	if b.Status == BatchActive && b.IsExpired(now) {
		return BatchExpired
	}
	return b.Status
}

// TotalValue returns quantity times unit cost.
func (b Batch) TotalValue() decimal.Decimal {
	return b.Quantity.Mul(b.UnitCost)
}

// Movement is an immutable audit record of one quantity change on one batch.
type Movement struct {
	ID            int64           `json:"id"`
	BatchID       int64           `json:"batch_id"`
	ProductID     int64           `json:"product_id"`
	WarehouseID   int64           `json:"warehouse_id"`
	Type          MovementType    `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reason        string          `json:"reason,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StockLevel aggregates stock per product/warehouse with its batch breakdown.
type StockLevel struct {
	ProductID     int64           `json:"product_id"`
	WarehouseID   int64           `json:"warehouse_id"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	Batches       []Batch         `json:"batches"`
}

// AddStockInput describes an inbound posting (purchase receipt, manual add,
// transfer-in). Quantity and unit cost are in the requested UOM.
type AddStockInput struct {
	ProductID     int64
	WarehouseID   int64
	Quantity      decimal.Decimal
	UOM           string
	UnitCost      decimal.Decimal
	ReceivedAt    time.Time
	ExpiresAt     *time.Time
	BatchNumber   string
	ReferenceID   string
	ReferenceType string
	ActorID       int64
}

// DeductStockInput describes an outbound posting (sale, fulfilment).
type DeductStockInput struct {
	ProductID     int64
	WarehouseID   int64
	Quantity      decimal.Decimal
	UOM           string
	Reason        string
	ReferenceID   string
	ReferenceType string
	ActorID       int64
}

// TransferStockInput moves stock between warehouses at preserved cost.
type TransferStockInput struct {
	ProductID         int64
	SourceWarehouseID int64
	DestWarehouseID   int64
	Quantity          decimal.Decimal
	UOM               string
	Reason            string
	ActorID           int64
}

// AdjustStockInput sets a batch quantity directly (shrinkage, correction).
type AdjustStockInput struct {
	BatchID     int64
	NewQuantity decimal.Decimal
	Reason      string
	ActorID     int64
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID   int64
	WarehouseID int64
	Status      BatchStatus
	ExpiresFrom *time.Time
	ExpiresTo   *time.Time
	Limit       int
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID     int64
	WarehouseID   int64
	Type          MovementType
	ReferenceType string
	From          time.Time
	To            time.Time
	Limit         int
}

var (
	// ErrNotFound indicates a missing product, warehouse, or batch.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidUnitCost indicates a non-positive unit cost.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be positive")
	// ErrNegativeAdjustment indicates an adjustment to a negative quantity.
	ErrNegativeAdjustment = errors.New("ledger: adjusted quantity must not be negative")
	// ErrSameWarehouse indicates a transfer onto itself.
	ErrSameWarehouse = errors.New("ledger: source and destination warehouse must differ")
)

// InsufficientStockError is returned when a deduction exceeds the total
// active quantity. It carries enough detail for a precise user message and
// guarantees no batch was mutated.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	WarehouseID int64
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = fmt.Sprintf("product %d", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
		name, e.Available.String(), e.Requested.String())
}

// InsufficientQuantityError is the batch-level variant raised when a single
// decrement exceeds that batch's quantity. The orchestrator normally rejects
// the operation before this can fire; it exists as a second guard.
type InsufficientQuantityError struct {
	BatchID   int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("batch %d holds %s, cannot deduct %s",
		e.BatchID, e.Available.String(), e.Requested.String())
}

// UnitNotFoundError is returned in strict mode when a unit name matches
// neither the base UOM nor any alternate unit.
type UnitNotFoundError struct {
	ProductID int64
	Unit      string
}

func (e *UnitNotFoundError) Error() string {
	return fmt.Sprintf("unit %q not defined for product %d", e.Unit, e.ProductID)
}
