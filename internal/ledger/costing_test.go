package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAverageCostWeighted(t *testing.T) {
	batches := []Batch{
		{Quantity: dec("10"), UnitCost: dec("5")},
		{Quantity: dec("5"), UnitCost: dec("8")},
	}
	avg := Engine{}.AverageCost(batches, dec("99"))
	require.True(t, avg.Equal(dec("6")), "got %s", avg)
}

func TestAverageCostFallback(t *testing.T) {
	avg := Engine{}.AverageCost(nil, dec("12.5"))
	require.True(t, avg.Equal(dec("12.5")))

	// Zero-quantity batches do not count.
	avg = Engine{}.AverageCost([]Batch{{Quantity: decimal.Zero, UnitCost: dec("4")}}, dec("7"))
	require.True(t, avg.Equal(dec("7")))
}

func TestPlanConsumptionWalksInOrder(t *testing.T) {
	soon := time.Now().Add(3 * 24 * time.Hour)
	later := time.Now().Add(30 * 24 * time.Hour)
	batches := []Batch{
		{ID: 1, Quantity: dec("5"), UnitCost: dec("10"), ExpiresAt: &soon},
		{ID: 2, Quantity: dec("10"), UnitCost: dec("8"), ExpiresAt: &later},
	}
	plan, err := Engine{}.PlanConsumption(ProductInfo{ID: 1, Name: "x"}, 1, batches, dec("8"))
	require.NoError(t, err)
	require.Len(t, plan.Takes, 2)
	require.Equal(t, int64(1), plan.Takes[0].Batch.ID)
	require.True(t, plan.Takes[0].Quantity.Equal(dec("5")))
	require.Equal(t, int64(2), plan.Takes[1].Batch.ID)
	require.True(t, plan.Takes[1].Quantity.Equal(dec("3")))
	require.True(t, plan.COGS.Equal(dec("74")))
}

func TestPlanConsumptionShortfall(t *testing.T) {
	batches := []Batch{{ID: 1, Quantity: dec("8"), UnitCost: dec("5")}}
	_, err := Engine{}.PlanConsumption(ProductInfo{ID: 1, Name: "x"}, 2, batches, dec("100"))
	var shortfall *InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	require.True(t, shortfall.Available.Equal(dec("8")))
	require.True(t, shortfall.Requested.Equal(dec("100")))
	require.Equal(t, int64(2), shortfall.WarehouseID)
}

func TestPlanConsumptionExactFit(t *testing.T) {
	batches := []Batch{{ID: 1, Quantity: dec("8"), UnitCost: dec("5")}}
	plan, err := Engine{}.PlanConsumption(ProductInfo{ID: 1}, 1, batches, dec("8"))
	require.NoError(t, err)
	require.Len(t, plan.Takes, 1)
	require.True(t, plan.COGS.Equal(dec("40")))
}
