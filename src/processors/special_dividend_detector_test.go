package processors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/optionfolio/backend/src/models"
)

func optionLeg(action string, strike, value float64) models.RawTransaction {
	return models.RawTransaction{
		Date:             time.Date(2023, 5, 12, 0, 0, 0, 0, time.UTC),
		Type:             models.TxTypeTrade,
		Action:           action,
		InstrumentType:   models.InstrumentEquityOption,
		UnderlyingSymbol: "KO",
		RootSymbol:       "KO",
		ExpirationDate:   time.Date(2023, 6, 16, 0, 0, 0, 0, time.UTC),
		StrikePrice:      strike,
		CallOrPut:        "CALL",
		Value:            value,
	}
}

func TestDetectSpecialDividendAdjustments(t *testing.T) {
	openLeg := optionLeg(models.ActionSellToOpen, 36.00, 96.00)
	closeLeg := optionLeg(models.ActionBuyToClose, 35.70, -96.00)

	adjs := DetectSpecialDividendAdjustments([]models.RawTransaction{openLeg, closeLeg})
	require.Len(t, adjs, 1)

	adj := adjs[0]
	assert.Equal(t, "KO", adj.Ticker)
	assert.Equal(t, "CALL", adj.OptionType)
	assert.InDelta(t, 36.00, adj.OriginalStrike, 1e-9)
	assert.InDelta(t, 35.70, adj.NewStrike, 1e-9)
	assert.InDelta(t, -0.30, adj.StrikeDelta, 1e-9)
	assert.InDelta(t, 96.00, adj.DividendAmount, 1e-9)
	require.NotNil(t, adj.OpenLeg)
	assert.Equal(t, models.ActionSellToOpen, adj.OpenLeg.Action)
}

// The same pair must produce the same adjustment regardless of which leg
// appears first in the input.
func TestDetectSpecialDividendAdjustments_OrderIndependent(t *testing.T) {
	openLeg := optionLeg(models.ActionSellToOpen, 36.00, 96.00)
	closeLeg := optionLeg(models.ActionBuyToClose, 35.70, -96.00)

	forward := DetectSpecialDividendAdjustments([]models.RawTransaction{openLeg, closeLeg})
	reversed := DetectSpecialDividendAdjustments([]models.RawTransaction{closeLeg, openLeg})

	require.Len(t, forward, 1)
	require.Len(t, reversed, 1)
	assert.Equal(t, forward[0].OriginalStrike, reversed[0].OriginalStrike)
	assert.Equal(t, forward[0].NewStrike, reversed[0].NewStrike)
	assert.Equal(t, forward[0].StrikeDelta, reversed[0].StrikeDelta)
	assert.Equal(t, forward[0].DividendAmount, reversed[0].DividendAmount)
}

func TestDetectSpecialDividendAdjustments_Tolerance(t *testing.T) {
	tests := []struct {
		name       string
		closeValue float64
		detected   bool
	}{
		{"exactly offsetting", -96.00, true},
		{"within one cent", -96.005, true},
		{"at one cent", -96.01, true},
		{"two cents off", -96.02, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := []models.RawTransaction{
				optionLeg(models.ActionSellToOpen, 36.00, 96.00),
				optionLeg(models.ActionBuyToClose, 35.70, tt.closeValue),
			}
			adjs := DetectSpecialDividendAdjustments(txs)
			if tt.detected {
				assert.Len(t, adjs, 1)
			} else {
				assert.Empty(t, adjs)
			}
		})
	}
}

func TestDetectSpecialDividendAdjustments_NoPair(t *testing.T) {
	otherExpiration := optionLeg(models.ActionBuyToClose, 35.70, -96.00)
	otherExpiration.ExpirationDate = time.Date(2023, 7, 21, 0, 0, 0, 0, time.UTC)

	otherType := optionLeg(models.ActionBuyToClose, 35.70, -96.00)
	otherType.CallOrPut = "PUT"

	otherTicker := optionLeg(models.ActionBuyToClose, 35.70, -96.00)
	otherTicker.UnderlyingSymbol = "PEP"
	otherTicker.RootSymbol = "PEP"

	sameDirection := optionLeg(models.ActionSellToClose, 35.70, -96.00)

	stock := optionLeg(models.ActionBuy, 36.00, -96.00)
	stock.InstrumentType = models.InstrumentEquity

	tests := []struct {
		name  string
		other models.RawTransaction
	}{
		{"different expiration", otherExpiration},
		{"different option type", otherType},
		{"different ticker", otherTicker},
		{"not opposite directions", sameDirection},
		{"not an option", stock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := []models.RawTransaction{
				optionLeg(models.ActionSellToOpen, 36.00, 96.00),
				tt.other,
			}
			assert.Empty(t, DetectSpecialDividendAdjustments(txs))
		})
	}
}

// A transaction participates in at most one adjustment.
func TestDetectSpecialDividendAdjustments_EachLegUsedOnce(t *testing.T) {
	txs := []models.RawTransaction{
		optionLeg(models.ActionSellToOpen, 36.00, 96.00),
		optionLeg(models.ActionBuyToClose, 35.70, -96.00),
		optionLeg(models.ActionBuyToClose, 35.70, -96.00),
	}
	adjs := DetectSpecialDividendAdjustments(txs)
	assert.Len(t, adjs, 1)
}

func TestValidateAdjustment(t *testing.T) {
	valid := models.SpecialDividendAdjustment{
		OriginalStrike: 36.00,
		NewStrike:      35.70,
		DividendAmount: 96.00,
	}
	assert.NoError(t, ValidateAdjustment(valid))

	tests := []struct {
		name   string
		mutate func(*models.SpecialDividendAdjustment)
	}{
		{"zero original strike", func(a *models.SpecialDividendAdjustment) { a.OriginalStrike = 0 }},
		{"negative new strike", func(a *models.SpecialDividendAdjustment) { a.NewStrike = -1 }},
		{"zero dividend amount", func(a *models.SpecialDividendAdjustment) { a.DividendAmount = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := valid
			tt.mutate(&adj)
			assert.Error(t, ValidateAdjustment(adj))
		})
	}
}

func TestValidateAndFilterAdjustments(t *testing.T) {
	good := models.SpecialDividendAdjustment{OriginalStrike: 36, NewStrike: 35.70, DividendAmount: 96}
	bad := models.SpecialDividendAdjustment{OriginalStrike: 0, NewStrike: 35.70, DividendAmount: 96}

	filtered := ValidateAndFilterAdjustments([]models.SpecialDividendAdjustment{good, bad})
	require.Len(t, filtered, 1)
	assert.Equal(t, good.OriginalStrike, filtered[0].OriginalStrike)
}

func TestAdjustmentNote(t *testing.T) {
	adj := models.SpecialDividendAdjustment{
		OriginalStrike: 36.00,
		NewStrike:      35.70,
		StrikeDelta:    -0.30,
		DividendAmount: 96.00,
		Expiration:     time.Date(2023, 6, 16, 0, 0, 0, 0, time.UTC),
	}
	want := "Strike adjusted from 36.00 to 35.70 (delta -0.30) due to special dividend payment of 96.00 applied by broker (expiration 2023-06-16)."
	assert.Equal(t, want, AdjustmentNote(adj))
}
