package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/optionfolio/backend/src/models"
)

func TestValidateMovements(t *testing.T) {
	tests := []struct {
		name     string
		movement models.Movement
		valid    bool
	}{
		{
			name:     "valid stock trade",
			movement: models.StockTrade{Quantity: 10, Price: 150.25},
			valid:    true,
		},
		{
			name:     "free stock distribution",
			movement: models.StockTrade{Quantity: 5, Price: 0},
			valid:    true,
		},
		{
			name:     "zero quantity stock trade",
			movement: models.StockTrade{Quantity: 0, Price: 150.25},
			valid:    false,
		},
		{
			name:     "negative quantity stock trade",
			movement: models.StockTrade{Quantity: -10, Price: 150.25},
			valid:    false,
		},
		{
			name:     "negative price stock trade",
			movement: models.StockTrade{Quantity: 10, Price: -1},
			valid:    false,
		},
		{
			name:     "valid option trade",
			movement: models.OptionTrade{Quantity: 1, Strike: 400},
			valid:    true,
		},
		{
			name:     "negative strike option trade",
			movement: models.OptionTrade{Quantity: 1, Strike: -400},
			valid:    false,
		},
		{
			name:     "valid dividend",
			movement: models.Dividend{Amount: 12.50},
			valid:    true,
		},
		{
			name:     "zero dividend",
			movement: models.Dividend{Amount: 0},
			valid:    false,
		},
		{
			name:     "valid broker movement",
			movement: models.BrokerMovement{MovementType: models.BrokerMovementDeposit, Amount: 1000},
			valid:    true,
		},
		{
			name:     "negative broker movement amount",
			movement: models.BrokerMovement{MovementType: models.BrokerMovementFee, Amount: -5},
			valid:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, invalid := ValidateMovements([]models.Movement{tt.movement})
			if tt.valid {
				assert.Len(t, valid, 1)
				assert.Empty(t, invalid)
			} else {
				assert.Empty(t, valid)
				require.Len(t, invalid, 1)
				assert.NotEmpty(t, invalid[0].Reason)
			}
		})
	}
}

// Validation partitions a batch; one bad record never rejects the rest.
func TestValidateMovements_Partition(t *testing.T) {
	movements := []models.Movement{
		models.StockTrade{Quantity: 10, Price: 150},
		models.Dividend{Amount: -1},
		models.BrokerMovement{MovementType: models.BrokerMovementInterest, Amount: 0.42},
	}

	valid, invalid := ValidateMovements(movements)
	assert.Len(t, valid, 2)
	require.Len(t, invalid, 1)
	assert.Equal(t, models.KindDividend, invalid[0].Movement.Kind())
}
