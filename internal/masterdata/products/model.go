package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a sellable product. Quantity-bearing fields are decimal
// because alternate units can produce fractional base quantities.
type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	BasePrice     decimal.Decimal `json:"base_price"`
	BaseUOM       string          `json:"base_uom"`
	MinimumStock  decimal.Decimal `json:"minimum_stock"`
	ShelfLifeDays int             `json:"shelf_life_days"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	AlternateUOMs []AlternateUOM `json:"alternate_uoms,omitempty"`
}

// AlternateUOM is an additional selling/receiving unit for a product.
// Factor converts one alternate unit into base units and must be positive.
type AlternateUOM struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Factor    decimal.Decimal `json:"factor"`
	Price     decimal.Decimal `json:"price"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Category string
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}
