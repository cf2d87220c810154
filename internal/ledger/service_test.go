package ledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	batches   map[int64]*Batch
	movements []Movement
	nextBatch int64
	nextMove  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]*Batch)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) sortedBatches() []*Batch {
	list := make([]*Batch, 0, len(r.batches))
	for _, b := range r.batches {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		case !a.ReceivedAt.Equal(b.ReceivedAt):
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
	return list
}

func (r *memoryRepo) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	result := []Batch{}
	for _, b := range r.sortedBatches() {
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && b.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		result = append(result, *b)
	}
	return result, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	result := []Movement{}
	for _, m := range r.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && m.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.ReferenceType != "" && m.ReferenceType != filter.ReferenceType {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func (tx *memoryTx) ActiveBatchesForUpdate(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	result := []Batch{}
	for _, b := range tx.repo.sortedBatches() {
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.Status == BatchActive && b.Quantity.IsPositive() {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	if b, ok := tx.repo.batches[batchID]; ok {
		return *b, nil
	}
	return Batch{}, ErrNotFound
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	tx.repo.nextBatch++
	batch.ID = tx.repo.nextBatch
	batch.CreatedAt = time.Now()
	batch.UpdatedAt = batch.CreatedAt
	tx.repo.batches[batch.ID] = &batch
	return batch.ID, nil
}

func (tx *memoryTx) DecrementBatch(ctx context.Context, batchID int64, amount decimal.Decimal) error {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if b.Quantity.LessThan(amount) {
		return &InsufficientQuantityError{BatchID: batchID, Available: b.Quantity, Requested: amount}
	}
	b.Quantity = b.Quantity.Sub(amount)
	if b.Quantity.IsZero() {
		b.Status = BatchDepleted
	}
	return nil
}

func (tx *memoryTx) SetBatchQuantity(ctx context.Context, batchID int64, quantity decimal.Decimal, status BatchStatus) error {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	b.Quantity = quantity
	b.Status = status
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	tx.repo.nextMove++
	movement.ID = tx.repo.nextMove
	movement.CreatedAt = time.Now()
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

type fakeProducts struct {
	products map[int64]ProductInfo
}

func (f *fakeProducts) ProductInfo(ctx context.Context, productID int64) (ProductInfo, error) {
	if p, ok := f.products[productID]; ok {
		return p, nil
	}
	return ProductInfo{}, ErrNotFound
}

func dec(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(repo *memoryRepo, products map[int64]ProductInfo) *Service {
	return NewService(repo, &fakeProducts{products: products}, nil, nil, nil, ServiceConfig{}, nil)
}

func bottleProduct() map[int64]ProductInfo {
	return map[int64]ProductInfo{
		1: {
			ID:        1,
			Name:      "Sparkling Water",
			BaseUOM:   "bottle",
			BasePrice: dec("10"),
			AlternateUnits: []AlternateUnit{
				{Name: "1/2 case", Factor: dec("12"), Price: dec("120")},
			},
		},
	}
}

func TestAddStockCreatesBatchAndMovement(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	batch, err := svc.AddStock(ctx, AddStockInput{
		ProductID: 1, WarehouseID: 1,
		Quantity: dec("10"), UOM: "bottle", UnitCost: dec("5"),
	})
	require.NoError(t, err)
	require.True(t, batch.Quantity.Equal(dec("10")))
	require.True(t, batch.UnitCost.Equal(dec("5")))
	require.Equal(t, BatchActive, batch.Status)

	movements, err := svc.Movements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementIn, movements[0].Type)
	require.True(t, movements[0].Quantity.Equal(dec("10")))
}

func TestAddStockAlternateUnitConvertsToBase(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())

	// 2 half-cases at 120 each: 24 bottles at 10 per bottle.
	batch, err := svc.AddStock(context.Background(), AddStockInput{
		ProductID: 1, WarehouseID: 1,
		Quantity: dec("2"), UOM: "1/2 case", UnitCost: dec("120"),
	})
	require.NoError(t, err)
	require.True(t, batch.Quantity.Equal(dec("24")), "got %s", batch.Quantity)
	require.True(t, batch.UnitCost.Equal(dec("10")), "got %s", batch.UnitCost)
}

func TestAddStockValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), bottleProduct())
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("0"), UnitCost: dec("5")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("1"), UnitCost: dec("-2")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestOldestExpiryConsumedFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	soon := time.Now().Add(3 * 24 * time.Hour)
	later := time.Now().Add(30 * 24 * time.Hour)
	a, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("5"), UnitCost: dec("10"), ExpiresAt: &soon})
	require.NoError(t, err)
	b, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), UnitCost: dec("8"), ExpiresAt: &later})
	require.NoError(t, err)

	cogs, err := svc.DeductStock(ctx, DeductStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("8"), Reason: "sale"})
	require.NoError(t, err)
	require.True(t, cogs.Equal(dec("74")), "COGS = 5x10 + 3x8, got %s", cogs)

	require.True(t, repo.batches[a.ID].Quantity.IsZero())
	require.Equal(t, BatchDepleted, repo.batches[a.ID].Status)
	require.True(t, repo.batches[b.ID].Quantity.Equal(dec("7")))
	require.Equal(t, BatchActive, repo.batches[b.ID].Status)

	outs, err := svc.Movements(ctx, MovementFilter{Type: MovementOut})
	require.NoError(t, err)
	require.Len(t, outs, 2, "one OUT movement per batch touched")
}

func TestInsufficientStockLeavesBatchesUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	batch, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("8"), UnitCost: dec("5")})
	require.NoError(t, err)

	_, err = svc.DeductStock(ctx, DeductStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("100"), Reason: "sale"})
	var shortfall *InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	require.True(t, shortfall.Available.Equal(dec("8")))
	require.True(t, shortfall.Requested.Equal(dec("100")))
	require.Equal(t, "Sparkling Water", shortfall.ProductName)

	require.True(t, repo.batches[batch.ID].Quantity.Equal(dec("8")), "no batch may be mutated")
	outs, err := svc.Movements(ctx, MovementFilter{Type: MovementOut})
	require.NoError(t, err)
	require.Empty(t, outs)
}

func TestExpiredBatchesNotConsumed(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	past := time.Now().Add(-24 * time.Hour)
	_, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("5"), UnitCost: dec("5"), ExpiresAt: &past})
	require.NoError(t, err)

	_, err = svc.DeductStock(ctx, DeductStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("1"), Reason: "sale"})
	var shortfall *InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	require.True(t, shortfall.Available.IsZero())
}

func TestTransferPreservesCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	src, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), UnitCost: dec("6")})
	require.NoError(t, err)

	err = svc.TransferStock(ctx, TransferStockInput{
		ProductID: 1, SourceWarehouseID: 1, DestWarehouseID: 2,
		Quantity: dec("4"), Reason: "rebalance",
	})
	require.NoError(t, err)

	require.True(t, repo.batches[src.ID].Quantity.Equal(dec("6")))

	dest, err := svc.Batches(ctx, BatchFilter{ProductID: 1, WarehouseID: 2})
	require.NoError(t, err)
	require.Len(t, dest, 1)
	require.True(t, dest[0].Quantity.Equal(dec("4")))
	require.True(t, dest[0].UnitCost.Equal(dec("6")), "transfer keeps the source batch cost, not the list price")

	transfers, err := svc.Movements(ctx, MovementFilter{Type: MovementTransfer})
	require.NoError(t, err)
	require.Len(t, transfers, 2, "one leg per side")
}

func TestTransferSameWarehouseRejected(t *testing.T) {
	svc := newTestService(newMemoryRepo(), bottleProduct())
	err := svc.TransferStock(context.Background(), TransferStockInput{
		ProductID: 1, SourceWarehouseID: 1, DestWarehouseID: 1,
		Quantity: dec("1"), Reason: "noop",
	})
	require.ErrorIs(t, err, ErrSameWarehouse)
}

func TestAdjustStockRecordsSignedDelta(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	batch, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), UnitCost: dec("5")})
	require.NoError(t, err)

	adjusted, err := svc.AdjustStock(ctx, AdjustStockInput{BatchID: batch.ID, NewQuantity: dec("7"), Reason: "shrinkage"})
	require.NoError(t, err)
	require.True(t, adjusted.Quantity.Equal(dec("7")))

	movements, err := svc.Movements(ctx, MovementFilter{Type: MovementAdjustment})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.True(t, movements[0].Quantity.Equal(dec("-3")), "delta is new minus previous")

	_, err = svc.AdjustStock(ctx, AdjustStockInput{BatchID: batch.ID, NewQuantity: dec("-1"), Reason: "bad"})
	require.ErrorIs(t, err, ErrNegativeAdjustment)

	adjusted, err = svc.AdjustStock(ctx, AdjustStockInput{BatchID: batch.ID, NewQuantity: dec("0"), Reason: "write-off"})
	require.NoError(t, err)
	require.Equal(t, BatchDepleted, adjusted.Status)
}

func TestLedgerBalances(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), UnitCost: dec("5")})
	require.NoError(t, err)
	batch2, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("4"), UnitCost: dec("6")})
	require.NoError(t, err)
	_, err = svc.DeductStock(ctx, DeductStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("6"), Reason: "sale"})
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, AdjustStockInput{BatchID: batch2.ID, NewQuantity: dec("3"), Reason: "recount"})
	require.NoError(t, err)

	total := decimal.Zero
	for _, b := range repo.batches {
		if b.WarehouseID == 1 {
			total = total.Add(b.Quantity)
		}
	}
	deltas := decimal.Zero
	for _, m := range repo.movements {
		if m.WarehouseID == 1 {
			deltas = deltas.Add(m.Quantity)
		}
	}
	require.True(t, total.Equal(deltas), "batch quantities (%s) must equal net movement deltas (%s)", total, deltas)
}

func TestStockLevelsIdempotentReads(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), UnitCost: dec("5")})
	require.NoError(t, err)
	_, err = svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("5"), UnitCost: dec("8")})
	require.NoError(t, err)

	first, err := svc.StockLevels(ctx, 1)
	require.NoError(t, err)
	second, err := svc.StockLevels(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Len(t, first, 1)
	require.True(t, first[0].TotalQuantity.Equal(dec("15")))
	// (10x5 + 5x8) / 15
	require.True(t, first[0].AverageCost.Equal(dec("6")), "got %s", first[0].AverageCost)
	require.Len(t, first[0].Batches, 2)
}

func TestAverageCostByUOMWithTrailingSpace(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, bottleProduct())
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), UnitCost: dec("5")})
	require.NoError(t, err)

	avg, err := svc.AverageCostByUOM(ctx, 1, 1, "1/2 case ")
	require.NoError(t, err)
	require.True(t, avg.Equal(dec("60")), "5 per bottle x 12 bottles per half case, got %s", avg)

	avg, err = svc.AverageCostByUOM(ctx, 1, 1, "bottle")
	require.NoError(t, err)
	require.True(t, avg.Equal(dec("5")))
}

func TestAverageCostFallsBackToBasePrice(t *testing.T) {
	svc := newTestService(newMemoryRepo(), bottleProduct())

	avg, err := svc.AverageCostByUOM(context.Background(), 1, 1, "bottle")
	require.NoError(t, err)
	require.True(t, avg.Equal(dec("10")), "no batches: base price stands in for cost")
}

func TestStrictModeRejectsUnknownUnit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeProducts{products: bottleProduct()}, nil, nil, nil, ServiceConfig{StrictUOM: true}, nil)

	_, err := svc.AddStock(context.Background(), AddStockInput{
		ProductID: 1, WarehouseID: 1, Quantity: dec("1"), UOM: "crate", UnitCost: dec("5"),
	})
	var unitErr *UnitNotFoundError
	require.ErrorAs(t, err, &unitErr)
	require.Equal(t, "crate", unitErr.Unit)
}

func TestLowStockEventFires(t *testing.T) {
	repo := newMemoryRepo()
	products := bottleProduct()
	p := products[1]
	p.MinimumStock = dec("5")
	products[1] = p

	hook := &captureIntegration{}
	svc := NewService(repo, &fakeProducts{products: products}, nil, nil, nil, ServiceConfig{}, hook)
	ctx := context.Background()

	_, err := svc.AddStock(ctx, AddStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), UnitCost: dec("5")})
	require.NoError(t, err)
	_, err = svc.DeductStock(ctx, DeductStockInput{ProductID: 1, WarehouseID: 1, Quantity: dec("7"), Reason: "sale"})
	require.NoError(t, err)

	require.Len(t, hook.lowStock, 1)
	require.True(t, hook.lowStock[0].Remaining.Equal(dec("3")))
	require.True(t, hook.lowStock[0].Minimum.Equal(dec("5")))
}

type captureIntegration struct {
	received []StockReceivedEvent
	deducted []StockDeductedEvent
	lowStock []LowStockEvent
}

func (c *captureIntegration) HandleStockReceived(ctx context.Context, event StockReceivedEvent) error {
	c.received = append(c.received, event)
	return nil
}

func (c *captureIntegration) HandleStockDeducted(ctx context.Context, event StockDeductedEvent) error {
	c.deducted = append(c.deducted, event)
	return nil
}

func (c *captureIntegration) HandleLowStock(ctx context.Context, event LowStockEvent) error {
	c.lowStock = append(c.lowStock, event)
	return nil
}
