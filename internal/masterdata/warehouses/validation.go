package warehouses

import (
	"fmt"
	"strings"

	"github.com/zazakia/kiropos/internal/platform/httpx"
)

func (s *Service) validate(w Warehouse) error {
	if strings.TrimSpace(w.Code) == "" {
		return fmt.Errorf("warehouse code is required: %w", httpx.ErrValidation)
	}
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("warehouse name is required: %w", httpx.ErrValidation)
	}
	if w.BranchID <= 0 {
		return fmt.Errorf("branch ID is required: %w", httpx.ErrValidation)
	}
	if w.Capacity.IsNegative() {
		return fmt.Errorf("capacity cannot be negative: %w", httpx.ErrValidation)
	}
	return nil
}
