package processors

import (
	"fmt"

	"github.com/username/optionfolio/backend/src/models"
)

// InvalidMovement pairs a rejected movement with the reason it failed
// domain validation.
type InvalidMovement struct {
	Movement models.Movement `json:"movement"`
	Reason   string          `json:"reason"`
}

// ValidateMovements applies the per-kind domain invariants to a batch
// before persistence and partitions it into valid and invalid movements.
// Invalid domain data is reported, never raised.
func ValidateMovements(movements []models.Movement) (valid []models.Movement, invalid []InvalidMovement) {
	for _, m := range movements {
		if reason := validateMovement(m); reason != "" {
			invalid = append(invalid, InvalidMovement{Movement: m, Reason: reason})
			continue
		}
		valid = append(valid, m)
	}
	return valid, invalid
}

// validateMovement returns the rejection reason for one movement, or an
// empty string when it passes. The movement union is closed, so the
// switch is exhaustive.
func validateMovement(m models.Movement) string {
	switch v := m.(type) {
	case models.StockTrade:
		if v.Quantity <= 0 {
			return fmt.Sprintf("stock trade quantity must be positive, got %v", v.Quantity)
		}
		if v.Price < 0 {
			return fmt.Sprintf("stock trade price cannot be negative, got %v", v.Price)
		}
	case models.OptionTrade:
		if v.Strike < 0 {
			return fmt.Sprintf("option strike cannot be negative, got %v", v.Strike)
		}
	case models.Dividend:
		if v.Amount <= 0 {
			return fmt.Sprintf("dividend amount must be positive, got %v", v.Amount)
		}
	case models.BrokerMovement:
		if v.Amount < 0 {
			return fmt.Sprintf("broker movement amount cannot be negative, got %v", v.Amount)
		}
	default:
		return fmt.Sprintf("unknown movement kind %q", m.Kind())
	}
	return ""
}
