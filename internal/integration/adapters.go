// Package integration wires the master data module into the inventory
// ledger's ports and fans ledger events out to downstream consumers.
package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/zazakia/kiropos/internal/ledger"
	"github.com/zazakia/kiropos/internal/masterdata/products"
	"github.com/zazakia/kiropos/internal/masterdata/warehouses"
	"github.com/zazakia/kiropos/internal/platform/httpx"
)

// ProductAdapter exposes master data products as the ledger's read model.
type ProductAdapter struct {
	service *products.Service
}

func NewProductAdapter(service *products.Service) *ProductAdapter {
	return &ProductAdapter{service: service}
}

func (a *ProductAdapter) ProductInfo(ctx context.Context, productID int64) (ledger.ProductInfo, error) {
	product, err := a.service.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return ledger.ProductInfo{}, fmt.Errorf("product %d: %w", productID, ledger.ErrNotFound)
		}
		return ledger.ProductInfo{}, err
	}

	info := ledger.ProductInfo{
		ID:            product.ID,
		Name:          product.Name,
		BaseUOM:       product.BaseUOM,
		BasePrice:     product.BasePrice,
		MinimumStock:  product.MinimumStock,
		ShelfLifeDays: product.ShelfLifeDays,
	}
	for _, alt := range product.AlternateUOMs {
		info.AlternateUnits = append(info.AlternateUnits, ledger.AlternateUnit{
			Name:   alt.Name,
			Factor: alt.Factor,
			Price:  alt.Price,
		})
	}
	return info, nil
}

// WarehouseAdapter answers warehouse existence checks from master data.
type WarehouseAdapter struct {
	service *warehouses.Service
}

func NewWarehouseAdapter(service *warehouses.Service) *WarehouseAdapter {
	return &WarehouseAdapter{service: service}
}

func (a *WarehouseAdapter) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	return a.service.Exists(ctx, warehouseID)
}
