package catalog

import (
	"fmt"
	"strings"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

func validateMedication(m Medication) error {
	if strings.TrimSpace(m.Code) == "" {
		return fmt.Errorf("catalog: medication code is required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("catalog: medication name is required: %w", shared.ErrValidation)
	}
	if !m.LegalSchedule.Valid() {
		return fmt.Errorf("catalog: legal schedule %q not recognised: %w", m.LegalSchedule, shared.ErrValidation)
	}
	if m.SalePrice.IsNegative() || m.PurchasePrice.IsNegative() {
		return fmt.Errorf("catalog: prices must not be negative: %w", shared.ErrValidation)
	}
	return nil
}

func validateSupplier(s Supplier) error {
	if strings.TrimSpace(s.Code) == "" {
		return fmt.Errorf("catalog: supplier code is required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("catalog: supplier name is required: %w", shared.ErrValidation)
	}
	return nil
}
