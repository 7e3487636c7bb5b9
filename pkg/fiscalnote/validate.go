package fiscalnote

import (
	"fmt"
	"strings"
)

// Validate checks that a note has the fields the encoder needs
func Validate(n *Note) error {
	if strings.TrimSpace(n.Company.Name) == "" {
		return fmt.Errorf("company.name is required")
	}

	if len(n.Items) == 0 {
		return fmt.Errorf("at least one item is required")
	}

	for i, item := range n.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("item[%d]: 'name' is required", i)
		}
		if item.Qty <= 0 {
			return fmt.Errorf("item[%d] '%s': qty must be positive", i, item.Name)
		}
		if item.Price < 0 {
			return fmt.Errorf("item[%d] '%s': price cannot be negative", i, item.Name)
		}
	}

	if n.Total < 0 {
		return fmt.Errorf("total cannot be negative")
	}

	if n.Barcode != "" {
		for _, r := range n.Barcode {
			if r < 0x20 || r > 0x7E {
				return fmt.Errorf("barcode must be printable ASCII")
			}
		}
	}

	return nil
}
