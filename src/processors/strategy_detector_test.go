package processors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/optionfolio/backend/src/models"
)

func strategyLeg(order, callPut string, strike float64, expiration time.Time) models.RawTransaction {
	return models.RawTransaction{
		Date:             time.Date(2023, 4, 3, 0, 0, 0, 0, time.UTC),
		Type:             models.TxTypeTrade,
		Action:           models.ActionSellToOpen,
		InstrumentType:   models.InstrumentEquityOption,
		UnderlyingSymbol: "SPY",
		RootSymbol:       "SPY",
		ExpirationDate:   expiration,
		StrikePrice:      strike,
		CallOrPut:        callPut,
		OrderNumber:      order,
	}
}

func TestDetectStrategies_Classification(t *testing.T) {
	near := time.Date(2023, 4, 21, 0, 0, 0, 0, time.UTC)
	far := time.Date(2023, 5, 19, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		legs []models.RawTransaction
		want StrategyType
	}{
		{
			name: "single leg",
			legs: []models.RawTransaction{strategyLeg("1001", "CALL", 400, near)},
			want: StrategySingleLeg,
		},
		{
			name: "vertical spread",
			legs: []models.RawTransaction{
				strategyLeg("1002", "CALL", 400, near),
				strategyLeg("1002", "CALL", 410, near),
			},
			want: StrategyVerticalSpread,
		},
		{
			name: "calendar spread",
			legs: []models.RawTransaction{
				strategyLeg("1003", "PUT", 395, near),
				strategyLeg("1003", "PUT", 395, far),
			},
			want: StrategyCalendarSpread,
		},
		{
			name: "diagonal spread",
			legs: []models.RawTransaction{
				strategyLeg("1004", "CALL", 400, near),
				strategyLeg("1004", "CALL", 410, far),
			},
			want: StrategyDiagonalSpread,
		},
		{
			name: "straddle",
			legs: []models.RawTransaction{
				strategyLeg("1005", "CALL", 400, near),
				strategyLeg("1005", "PUT", 400, near),
			},
			want: StrategyStraddle,
		},
		{
			name: "strangle",
			legs: []models.RawTransaction{
				strategyLeg("1006", "CALL", 410, near),
				strategyLeg("1006", "PUT", 390, near),
			},
			want: StrategyStrangle,
		},
		{
			name: "mixed type and expiration falls back to custom",
			legs: []models.RawTransaction{
				strategyLeg("1007", "CALL", 400, near),
				strategyLeg("1007", "PUT", 390, far),
			},
			want: StrategyCustom,
		},
		{
			name: "more than two legs",
			legs: []models.RawTransaction{
				strategyLeg("1008", "CALL", 390, near),
				strategyLeg("1008", "CALL", 400, near),
				strategyLeg("1008", "CALL", 410, near),
			},
			want: StrategyCustom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategies := DetectStrategies(tt.legs)
			require.Len(t, strategies, 1)
			assert.Equal(t, tt.want, strategies[0].Type)
			assert.Len(t, strategies[0].Legs, len(tt.legs))
		})
	}
}

// Classification compares distinct field values, so swapping leg order
// must not change the result.
func TestDetectStrategies_LegOrderInvariant(t *testing.T) {
	near := time.Date(2023, 4, 21, 0, 0, 0, 0, time.UTC)
	far := time.Date(2023, 5, 19, 0, 0, 0, 0, time.UTC)

	a := strategyLeg("2001", "PUT", 395, near)
	b := strategyLeg("2001", "PUT", 395, far)

	forward := DetectStrategies([]models.RawTransaction{a, b})
	reversed := DetectStrategies([]models.RawTransaction{b, a})

	require.Len(t, forward, 1)
	require.Len(t, reversed, 1)
	assert.Equal(t, StrategyCalendarSpread, forward[0].Type)
	assert.Equal(t, forward[0].Type, reversed[0].Type)
}

func TestDetectStrategies_NoOrderNumber(t *testing.T) {
	near := time.Date(2023, 4, 21, 0, 0, 0, 0, time.UTC)

	strategies := DetectStrategies([]models.RawTransaction{
		strategyLeg("", "CALL", 400, near),
		strategyLeg("", "PUT", 400, near),
	})

	require.Len(t, strategies, 2)
	for _, s := range strategies {
		assert.Equal(t, StrategySingleLeg, s.Type)
		assert.Len(t, s.Legs, 1)
	}
}

func TestDetectStrategies_IgnoresNonOptions(t *testing.T) {
	stock := models.RawTransaction{
		Type:           models.TxTypeTrade,
		Action:         models.ActionBuy,
		InstrumentType: models.InstrumentEquity,
		Symbol:         "SPY",
		OrderNumber:    "3001",
	}
	assert.Empty(t, DetectStrategies([]models.RawTransaction{stock}))
}
