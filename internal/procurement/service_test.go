package procurement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/zazakia/kiropos/internal/ledger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type memoryRepo struct {
	orders map[int64]*PurchaseOrder
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[int64]*PurchaseOrder{}, nextID: 1}
}

type memoryTx struct {
	repo *memoryRepo
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("purchase order %d: %w", id, ErrNotFound)
	}
	copied := *po
	copied.Lines = append([]POLine(nil), po.Lines...)
	return copied, nil
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilters) ([]PurchaseOrder, error) {
	var result []PurchaseOrder
	for _, po := range m.orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		result = append(result, *po)
	}
	return result, nil
}

func (t *memoryTx) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	po.ID = t.repo.nextID
	t.repo.nextID++
	for i := range po.Lines {
		po.Lines[i].ID = t.repo.nextID
		t.repo.nextID++
		po.Lines[i].POID = po.ID
	}
	stored := po
	stored.Lines = append([]POLine(nil), po.Lines...)
	t.repo.orders[po.ID] = &stored
	return po, nil
}

func (t *memoryTx) SetStatus(ctx context.Context, id int64, status POStatus) error {
	po, ok := t.repo.orders[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	return nil
}

func (t *memoryTx) AddLineReceived(ctx context.Context, lineID int64, quantity decimal.Decimal) error {
	for _, po := range t.repo.orders {
		for i := range po.Lines {
			if po.Lines[i].ID == lineID {
				po.Lines[i].ReceivedQty = po.Lines[i].ReceivedQty.Add(quantity)
				return nil
			}
		}
	}
	return ErrNotFound
}

type fakeStock struct {
	added []ledger.AddStockInput
	err   error
}

func (f *fakeStock) AddStock(ctx context.Context, input ledger.AddStockInput) (ledger.Batch, error) {
	if f.err != nil {
		return ledger.Batch{}, f.err
	}
	f.added = append(f.added, input)
	return ledger.Batch{ID: int64(len(f.added))}, nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *fakeStock) {
	t.Helper()
	repo := newMemoryRepo()
	stock := &fakeStock{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, stock, nil, logger)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, repo, stock
}

func draftOrder(t *testing.T, svc *Service) PurchaseOrder {
	t.Helper()
	po, err := svc.Create(context.Background(), CreatePOInput{
		Number:       "PO-1001",
		SupplierName: "Acme Beverages",
		WarehouseID:  1,
		Lines: []POLineInput{
			{ProductID: 1, Quantity: dec("10"), UOM: "case", UnitCost: dec("120")},
			{ProductID: 2, Quantity: dec("5"), UnitCost: dec("8")},
		},
	})
	require.NoError(t, err)
	return po
}

func TestCreateRequiresLines(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreatePOInput{
		Number:      "PO-1",
		WarehouseID: 1,
	})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Create(context.Background(), CreatePOInput{
		Number:      "PO-2",
		WarehouseID: 1,
		Lines:       []POLineInput{{ProductID: 1, Quantity: dec("0"), UnitCost: dec("1")}},
	})
	require.Error(t, err)
}

func TestApproveOnlyFromDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	po := draftOrder(t, svc)

	require.NoError(t, svc.Approve(context.Background(), po.ID, 7))

	err := svc.Approve(context.Background(), po.ID, 7)
	var invalidState *InvalidStateError
	require.ErrorAs(t, err, &invalidState)
	require.Equal(t, POStatusApproved, invalidState.Status)
}

func TestReceivePostsStockAndCloses(t *testing.T) {
	svc, repo, stock := newTestService(t)
	po := draftOrder(t, svc)
	require.NoError(t, svc.Approve(context.Background(), po.ID, 7))

	expiry := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	updated, err := svc.Receive(context.Background(), ReceiveInput{
		POID: po.ID,
		Lines: []ReceiveLineInput{
			{LineID: po.Lines[0].ID, Quantity: dec("4"), BatchNumber: "LOT-A", ExpiresAt: &expiry},
		},
		ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, POStatusApproved, updated.Status)

	require.Len(t, stock.added, 1)
	posted := stock.added[0]
	require.Equal(t, int64(1), posted.ProductID)
	require.Equal(t, int64(1), posted.WarehouseID)
	require.True(t, posted.Quantity.Equal(dec("4")))
	require.Equal(t, "case", posted.UOM)
	require.True(t, posted.UnitCost.Equal(dec("120")))
	require.Equal(t, "LOT-A", posted.BatchNumber)
	require.Equal(t, "PURCHASE_ORDER", posted.ReferenceType)
	require.NotNil(t, posted.ExpiresAt)

	updated, err = svc.Receive(context.Background(), ReceiveInput{
		POID: po.ID,
		Lines: []ReceiveLineInput{
			{LineID: po.Lines[0].ID, Quantity: dec("6")},
			{LineID: po.Lines[1].ID, Quantity: dec("5")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, updated.Status)
	require.Len(t, stock.added, 3)

	stored, err := repo.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, stored.Status)
	require.True(t, stored.Lines[0].FullyReceived())
	require.True(t, stored.Lines[1].FullyReceived())
}

func TestOverReceiptRejected(t *testing.T) {
	svc, _, stock := newTestService(t)
	po := draftOrder(t, svc)
	require.NoError(t, svc.Approve(context.Background(), po.ID, 7))

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:  po.ID,
		Lines: []ReceiveLineInput{{LineID: po.Lines[0].ID, Quantity: dec("11")}},
	})
	var overReceipt *OverReceiptError
	require.ErrorAs(t, err, &overReceipt)
	require.True(t, overReceipt.Outstanding.Equal(dec("10")))
	require.Empty(t, stock.added)
}

func TestReceiveRequiresApprovedOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	po := draftOrder(t, svc)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:  po.ID,
		Lines: []ReceiveLineInput{{LineID: po.Lines[0].ID, Quantity: dec("1")}},
	})
	var invalidState *InvalidStateError
	require.ErrorAs(t, err, &invalidState)
}

func TestCancelAfterReceiptRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	po := draftOrder(t, svc)
	require.NoError(t, svc.Approve(context.Background(), po.ID, 7))

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:  po.ID,
		Lines: []ReceiveLineInput{{LineID: po.Lines[0].ID, Quantity: dec("1")}},
	})
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), po.ID, 7)
	var invalidState *InvalidStateError
	require.ErrorAs(t, err, &invalidState)

	fresh := draftOrder(t, svc)
	require.NoError(t, svc.Cancel(context.Background(), fresh.ID, 7))
}