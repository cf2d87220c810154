package ledger

import (
	"github.com/shopspring/decimal"
)

// BatchTake is one batch's share of a planned consumption.
type BatchTake struct {
	Batch    Batch
	Quantity decimal.Decimal
}

// ConsumptionPlan is the outcome of planning a deduction: which batches are
// consumed, how much from each, and the cost of goods sold. The plan is
// computed before any write so a shortfall mutates nothing.
type ConsumptionPlan struct {
	Takes []BatchTake
	COGS  decimal.Decimal
}

// Engine computes weighted-average costs and consumption plans. It is
// stateless; the batch ordering it consumes comes from the repository
// (expiry ascending with no-expiry last, then received ascending).
type Engine struct{}

// AverageCost returns the weighted-average unit cost over the given batches,
// Σ(quantity × unitCost) / Σ(quantity). When no batch holds quantity the
// fallback (the product's base price) stands in for cost.
func (Engine) AverageCost(batches []Batch, fallback decimal.Decimal) decimal.Decimal {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for _, b := range batches {
		if b.Quantity.IsPositive() {
			totalQty = totalQty.Add(b.Quantity)
			totalValue = totalValue.Add(b.Quantity.Mul(b.UnitCost))
		}
	}
	if totalQty.IsZero() {
		return fallback
	}
	return totalValue.Div(totalQty)
}

// PlanConsumption walks the ordered batches consuming min(batch quantity,
// remaining) from each until the requested quantity is exhausted, summing
// consumed × unitCost as COGS. It fails with InsufficientStockError, before
// planning any take, when total availability falls short.
func (Engine) PlanConsumption(product ProductInfo, warehouseID int64, batches []Batch, quantity decimal.Decimal) (ConsumptionPlan, error) {
	available := decimal.Zero
	for _, b := range batches {
		available = available.Add(b.Quantity)
	}
	if available.LessThan(quantity) {
		return ConsumptionPlan{}, &InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			WarehouseID: warehouseID,
			Available:   available,
			Requested:   quantity,
		}
	}

	plan := ConsumptionPlan{COGS: decimal.Zero}
	remaining := quantity
	for _, b := range batches {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(b.Quantity, remaining)
		if !take.IsPositive() {
			continue
		}
		plan.Takes = append(plan.Takes, BatchTake{Batch: b, Quantity: take})
		plan.COGS = plan.COGS.Add(take.Mul(b.UnitCost))
		remaining = remaining.Sub(take)
	}
	return plan, nil
}
