package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockReceivedEvent is emitted after an inbound posting commits.
type StockReceivedEvent struct {
	BatchID       int64
	ProductID     int64
	WarehouseID   int64
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	ReferenceID   string
	ReferenceType string
	PostedAt      time.Time
}

// StockDeductedEvent is emitted after a deduction commits, carrying the
// realised cost of goods sold.
type StockDeductedEvent struct {
	ProductID     int64
	WarehouseID   int64
	Quantity      decimal.Decimal
	COGS          decimal.Decimal
	ReferenceID   string
	ReferenceType string
	PostedAt      time.Time
}

// LowStockEvent fires when a committed deduction leaves the total active
// quantity below the product's minimum stock threshold.
type LowStockEvent struct {
	ProductID   int64
	ProductName string
	WarehouseID int64
	Remaining   decimal.Decimal
	Minimum     decimal.Decimal
}

// IntegrationHandler receives ledger events for downstream modules.
type IntegrationHandler interface {
	HandleStockReceived(ctx context.Context, event StockReceivedEvent) error
	HandleStockDeducted(ctx context.Context, event StockDeductedEvent) error
	HandleLowStock(ctx context.Context, event LowStockEvent) error
}
