package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusApproved  POStatus = "APPROVED"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// PurchaseOrder is an order to a supplier, received into a single warehouse.
type PurchaseOrder struct {
	ID           int64      `json:"id"`
	Number       string     `json:"number"`
	SupplierName string     `json:"supplier_name"`
	WarehouseID  int64      `json:"warehouse_id"`
	Status       POStatus   `json:"status"`
	ExpectedDate *time.Time `json:"expected_date,omitempty"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Lines []POLine `json:"lines,omitempty"`
}

// POLine is an ordered quantity of one product. UOM may name an alternate
// unit of the product; conversion happens at receipt when stock posts.
type POLine struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UOM         string          `json:"uom,omitempty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
}

// Outstanding is the quantity still expected on the line.
func (l POLine) Outstanding() decimal.Decimal {
	return l.Quantity.Sub(l.ReceivedQty)
}

// FullyReceived reports whether the line has no outstanding quantity.
func (l POLine) FullyReceived() bool {
	return !l.Outstanding().IsPositive()
}

// ListFilters narrows purchase order listings.
type ListFilters struct {
	Status      POStatus
	WarehouseID int64
	Limit       int
	Offset      int
}

var (
	// ErrNotFound marks a missing purchase order or line.
	ErrNotFound = errors.New("purchase order not found")
	// ErrNoLines rejects orders without any line.
	ErrNoLines = errors.New("purchase order requires at least one line")
)

// InvalidStateError reports a lifecycle transition attempted from the
// wrong status.
type InvalidStateError struct {
	POID   int64
	Status POStatus
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("purchase order %d: cannot %s while %s", e.POID, e.Action, e.Status)
}

// OverReceiptError reports a receipt exceeding a line's outstanding quantity.
type OverReceiptError struct {
	LineID      int64
	Outstanding decimal.Decimal
	Requested   decimal.Decimal
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("line %d: outstanding %s, received %s",
		e.LineID, e.Outstanding.String(), e.Requested.String())
}
