package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AlternateUnit is a selling/receiving unit defined on a product, related to
// the base unit by a strictly positive conversion factor.
type AlternateUnit struct {
	Name   string
	Factor decimal.Decimal
	Price  decimal.Decimal
}

// ProductInfo is the read-only slice of a product the ledger needs.
type ProductInfo struct {
	ID             int64
	Name           string
	BaseUOM        string
	BasePrice      decimal.Decimal
	MinimumStock   decimal.Decimal
	ShelfLifeDays  int
	AlternateUnits []AlternateUnit
}

// UnitResolution is the outcome of resolving a unit name against a product.
type UnitResolution struct {
	// Unit is the trimmed unit name the resolution matched.
	Unit string
	// Factor converts one resolved unit into base units.
	Factor decimal.Decimal
	// Price is the selling price per resolved unit.
	Price decimal.Decimal
	// IsBase is true when the resolution is the identity conversion.
	IsBase bool
}

// Converter resolves unit names against a product's unit definitions.
// Unit names are compared after trimming whitespace on both sides, so
// incidental whitespace in persisted data never breaks a lookup.
type Converter struct {
	// Strict makes unknown unit names an error. The default mirrors the
	// historical behavior: an unknown unit silently resolves to the base
	// unit so a unit-name typo cannot block a sale.
	Strict bool
}

// ResolveUnit resolves uom against the product's base and alternate units.
func (c Converter) ResolveUnit(product ProductInfo, uom string) (UnitResolution, error) {
	requested := strings.TrimSpace(uom)
	base := strings.TrimSpace(product.BaseUOM)

	if requested == "" || requested == base {
		return UnitResolution{Unit: base, Factor: decimal.NewFromInt(1), Price: product.BasePrice, IsBase: true}, nil
	}

	for _, alt := range product.AlternateUnits {
		if strings.TrimSpace(alt.Name) == requested {
			return UnitResolution{Unit: requested, Factor: alt.Factor, Price: alt.Price}, nil
		}
	}

	if c.Strict {
		return UnitResolution{}, &UnitNotFoundError{ProductID: product.ID, Unit: requested}
	}
	// Permissive fallback: treat the unknown unit as the base unit.
	return UnitResolution{Unit: base, Factor: decimal.NewFromInt(1), Price: product.BasePrice, IsBase: true}, nil
}

// ToBaseQuantity converts a quantity in the resolved unit into base units.
func (r UnitResolution) ToBaseQuantity(qty decimal.Decimal) decimal.Decimal {
	return qty.Mul(r.Factor)
}

// ToBaseUnitCost converts a cost per resolved unit into a cost per base unit.
func (r UnitResolution) ToBaseUnitCost(unitCost decimal.Decimal) decimal.Decimal {
	if r.Factor.IsZero() {
		return unitCost
	}
	return unitCost.Div(r.Factor)
}

// CostInUnit converts a cost per base unit into a cost per resolved unit,
// so it always holds that CostInUnit(c) == c × Factor.
func (r UnitResolution) CostInUnit(baseUnitCost decimal.Decimal) decimal.Decimal {
	return baseUnitCost.Mul(r.Factor)
}
