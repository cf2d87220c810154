package pos

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
	sales  map[int64]Sale
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sales: map[int64]Sale{}, nextID: 1}
}

func (m *memoryRepo) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	sale.ID = m.nextID
	m.nextID++
	for i := range sale.Lines {
		sale.Lines[i].ID = m.nextID
		m.nextID++
		sale.Lines[i].SaleID = sale.ID
	}
	m.sales[sale.ID] = sale
	return sale, nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Sale, error) {
	sale, ok := m.sales[id]
	if !ok {
		return Sale{}, fmt.Errorf("sale %d: %w", id, ErrNotFound)
	}
	return sale, nil
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilters) ([]Sale, error) {
	var result []Sale
	for _, sale := range m.sales {
		result = append(result, sale)
	}
	return result, nil
}

type fakeStock struct {
	deducted []ledger.DeductStockInput
	cogs     map[int64]decimal.Decimal
	err      error
}

func (f *fakeStock) DeductStock(ctx context.Context, input ledger.DeductStockInput) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	f.deducted = append(f.deducted, input)
	return f.cogs[input.ProductID], nil
}

type fakeCatalog struct {
	products map[int64]ledger.ProductInfo
}

func (f *fakeCatalog) ProductInfo(ctx context.Context, productID int64) (ledger.ProductInfo, error) {
	product, ok := f.products[productID]
	if !ok {
		return ledger.ProductInfo{}, fmt.Errorf("product %d: %w", productID, ledger.ErrNotFound)
	}
	return product, nil
}

func bottleProduct() ledger.ProductInfo {
	return ledger.ProductInfo{
		ID:        1,
		Name:      "Sparkling Water",
		BaseUOM:   "bottle",
		BasePrice: dec("10"),
		AlternateUnits: []ledger.AlternateUnit{
			{Name: "1/2 case", Factor: dec("12"), Price: dec("108")},
		},
	}
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *fakeStock) {
	t.Helper()
	repo := newMemoryRepo()
	stock := &fakeStock{cogs: map[int64]decimal.Decimal{1: dec("30")}}
	catalog := &fakeCatalog{products: map[int64]ledger.ProductInfo{1: bottleProduct()}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, stock, catalog, nil, ledger.Converter{}, logger)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, stock
}

func TestCheckoutPricesFromCatalog(t *testing.T) {
	svc, repo, stock := newTestService(t)

	sale, err := svc.Checkout(context.Background(), CheckoutInput{
		Number:      "S-100",
		WarehouseID: 1,
		CashierID:   9,
		Lines: []CheckoutLineInput{
			{ProductID: 1, Quantity: dec("5")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "S-100", sale.Number)
	require.True(t, sale.Total.Equal(dec("50")))
	require.True(t, sale.TotalCOGS.Equal(dec("30")))
	require.Len(t, sale.Lines, 1)
	require.True(t, sale.Lines[0].UnitPrice.Equal(dec("10")))

	require.Len(t, stock.deducted, 1)
	require.Equal(t, "SALE", stock.deducted[0].ReferenceType)
	require.Equal(t, "S-100", stock.deducted[0].ReferenceID)
	require.Equal(t, int64(9), stock.deducted[0].ActorID)

	stored, err := repo.Get(context.Background(), sale.ID)
	require.NoError(t, err)
	require.True(t, stored.TotalCOGS.Equal(dec("30")))
}

func TestCheckoutAlternateUnitPrice(t *testing.T) {
	svc, _, stock := newTestService(t)

	sale, err := svc.Checkout(context.Background(), CheckoutInput{
		WarehouseID: 1,
		Lines: []CheckoutLineInput{
			{ProductID: 1, Quantity: dec("2"), UOM: "1/2 case"},
		},
	})
	require.NoError(t, err)
	require.True(t, sale.Total.Equal(dec("216")))
	require.Equal(t, "1/2 case", sale.Lines[0].UOM)
	require.NotEmpty(t, sale.Number)

	// Deduction passes the sold unit through; conversion happens downstream.
	require.Equal(t, "1/2 case", stock.deducted[0].UOM)
	require.True(t, stock.deducted[0].Quantity.Equal(dec("2")))
}

func TestCheckoutPriceOverride(t *testing.T) {
	svc, _, _ := newTestService(t)

	override := dec("8.50")
	sale, err := svc.Checkout(context.Background(), CheckoutInput{
		WarehouseID: 1,
		Lines: []CheckoutLineInput{
			{ProductID: 1, Quantity: dec("4"), UnitPrice: &override},
		},
	})
	require.NoError(t, err)
	require.True(t, sale.Total.Equal(dec("34")))
}

func TestCheckoutInsufficientStockAborts(t *testing.T) {
	svc, repo, stock := newTestService(t)
	stock.err = &ledger.InsufficientStockError{ProductID: 1, Available: dec("1"), Requested: dec("5")}

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		WarehouseID: 1,
		Lines: []CheckoutLineInput{
			{ProductID: 1, Quantity: dec("5")},
		},
	})
	var shortfall *ledger.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	require.Empty(t, repo.sales)
}

func TestCheckoutValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Checkout(context.Background(), CheckoutInput{WarehouseID: 1})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Checkout(context.Background(), CheckoutInput{
		WarehouseID: 1,
		Lines:       []CheckoutLineInput{{ProductID: 1, Quantity: dec("-2")}},
	})
	require.Error(t, err)

	_, err = svc.Checkout(context.Background(), CheckoutInput{
		Lines: []CheckoutLineInput{{ProductID: 1, Quantity: dec("1")}},
	})
	require.Error(t, err)
}

func TestCheckoutUnknownProduct(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		WarehouseID: 1,
		Lines:       []CheckoutLineInput{{ProductID: 42, Quantity: dec("1")}},
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
