package integration

import (
	"context"
	"log/slog"

	"github.com/zazakia/kiropos/internal/ledger"
)

// Hooks receives ledger events after the owning transaction commits.
// Handlers must tolerate replays; the ledger logs and continues when a
// hook fails, it never rolls the stock movement back.
type Hooks struct {
	logger *slog.Logger
}

func NewHooks(logger *slog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

func (h *Hooks) HandleStockReceived(ctx context.Context, event ledger.StockReceivedEvent) error {
	h.logger.Info("stock received",
		"batch_id", event.BatchID,
		"product_id", event.ProductID,
		"warehouse_id", event.WarehouseID,
		"quantity", event.Quantity.String(),
		"unit_cost", event.UnitCost.String(),
		"reference_type", event.ReferenceType,
		"reference_id", event.ReferenceID,
	)
	return nil
}

func (h *Hooks) HandleStockDeducted(ctx context.Context, event ledger.StockDeductedEvent) error {
	h.logger.Info("stock deducted",
		"product_id", event.ProductID,
		"warehouse_id", event.WarehouseID,
		"quantity", event.Quantity.String(),
		"cogs", event.COGS.String(),
		"reference_type", event.ReferenceType,
		"reference_id", event.ReferenceID,
	)
	return nil
}

func (h *Hooks) HandleLowStock(ctx context.Context, event ledger.LowStockEvent) error {
	h.logger.Warn("stock below minimum",
		"product_id", event.ProductID,
		"product", event.ProductName,
		"warehouse_id", event.WarehouseID,
		"remaining", event.Remaining.String(),
		"minimum", event.Minimum.String(),
	)
	return nil
}
