package warehouses

import (
	"time"

	"github.com/shopspring/decimal"
)

// Warehouse represents a stocking location within a branch. Capacity is an
// advisory ceiling in base units; zero means unbounded.
type Warehouse struct {
	ID        int64           `json:"id"`
	BranchID  int64           `json:"branch_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	Capacity  decimal.Decimal `json:"capacity"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ListFilters narrows warehouse listings.
type ListFilters struct {
	BranchID *int64
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}
