package pos

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sale is a completed point-of-sale transaction against one warehouse.
type Sale struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	WarehouseID int64           `json:"warehouse_id"`
	CashierID   int64           `json:"cashier_id"`
	Total       decimal.Decimal `json:"total"`
	TotalCOGS   decimal.Decimal `json:"total_cogs"`
	SoldAt      time.Time       `json:"sold_at"`
	CreatedAt   time.Time       `json:"created_at"`

	Lines []SaleLine `json:"lines,omitempty"`
}

// SaleLine records one sold product. Quantity is in the unit under which it
// was sold; COGS is the weighted cost of the batches consumed for the line.
type SaleLine struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UOM       string          `json:"uom,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	COGS      decimal.Decimal `json:"cogs"`
}

// ListFilters narrows sale listings.
type ListFilters struct {
	WarehouseID int64
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

var (
	// ErrNotFound marks a missing sale.
	ErrNotFound = errors.New("sale not found")
	// ErrNoLines rejects checkouts without any line.
	ErrNoLines = errors.New("sale requires at least one line")
)
