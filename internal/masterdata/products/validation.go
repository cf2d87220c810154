package products

import (
	"fmt"
	"strings"

	"github.com/zazakia/kiropos/internal/platform/httpx"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("product SKU is required: %w", httpx.ErrValidation)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product name is required: %w", httpx.ErrValidation)
	}
	if strings.TrimSpace(p.BaseUOM) == "" {
		return fmt.Errorf("base unit of measure is required: %w", httpx.ErrValidation)
	}
	if p.BasePrice.IsNegative() {
		return fmt.Errorf("base price cannot be negative: %w", httpx.ErrValidation)
	}
	if p.MinimumStock.IsNegative() {
		return fmt.Errorf("minimum stock cannot be negative: %w", httpx.ErrValidation)
	}
	if p.ShelfLifeDays < 0 {
		return fmt.Errorf("shelf life days cannot be negative: %w", httpx.ErrValidation)
	}

	seen := map[string]bool{strings.TrimSpace(p.BaseUOM): true}
	for _, alt := range p.AlternateUOMs {
		name := strings.TrimSpace(alt.Name)
		if name == "" {
			return fmt.Errorf("alternate unit name is required: %w", httpx.ErrValidation)
		}
		if seen[name] {
			return fmt.Errorf("duplicate unit %q: %w", name, httpx.ErrValidation)
		}
		seen[name] = true
		if !alt.Factor.IsPositive() {
			return fmt.Errorf("alternate unit %q: factor must be positive: %w", name, httpx.ErrValidation)
		}
		if alt.Price.IsNegative() {
			return fmt.Errorf("alternate unit %q: price cannot be negative: %w", name, httpx.ErrValidation)
		}
	}
	return nil
}
