package processors

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/username/optionfolio/backend/src/logger"
	"github.com/username/optionfolio/backend/src/models"
)

// A pair's values must net to zero within one cent to count as a broker
// strike adjustment.
var adjustmentTolerance = decimal.RequireFromString("0.01")

// DetectSpecialDividendAdjustments pairs offsetting option transactions
// that represent a broker-executed strike change caused by a special
// cash dividend. Two transactions pair when they share ticker,
// expiration and option type, their actions are opposite-direction
// open/close, and their values net to zero within the tolerance. Each
// transaction participates in at most one adjustment. The result does
// not depend on input order beyond which of equivalent pairings wins.
func DetectSpecialDividendAdjustments(txs []models.RawTransaction) []models.SpecialDividendAdjustment {
	var adjustments []models.SpecialDividendAdjustment
	used := make([]bool, len(txs))

	for i := range txs {
		if used[i] || !isAdjustmentCandidate(txs[i]) {
			continue
		}
		for j := i + 1; j < len(txs); j++ {
			if used[j] || !isAdjustmentCandidate(txs[j]) {
				continue
			}
			adj, ok := tryPair(&txs[i], &txs[j])
			if !ok {
				continue
			}
			adjustments = append(adjustments, adj)
			used[i], used[j] = true, true
			break
		}
	}
	return adjustments
}

// isAdjustmentCandidate filters to option rows that open or close a
// position.
func isAdjustmentCandidate(tx models.RawTransaction) bool {
	return tx.IsOption() && (tx.OpensPosition() || tx.ClosesPosition())
}

// tryPair checks the pairing conditions for two candidates and builds
// the adjustment when they hold.
func tryPair(a, b *models.RawTransaction) (models.SpecialDividendAdjustment, bool) {
	if tickerOf(*a) == "" || tickerOf(*a) != tickerOf(*b) {
		return models.SpecialDividendAdjustment{}, false
	}
	if !a.ExpirationDate.Equal(b.ExpirationDate) {
		return models.SpecialDividendAdjustment{}, false
	}
	if a.CallOrPut == "" || a.CallOrPut != b.CallOrPut {
		return models.SpecialDividendAdjustment{}, false
	}

	// One leg must open and the other close, in opposite directions:
	// SELL_TO_OPEN pairs with BUY_TO_CLOSE, BUY_TO_OPEN with SELL_TO_CLOSE.
	openLeg, closeLeg, ok := openCloseRoles(a, b)
	if !ok {
		return models.SpecialDividendAdjustment{}, false
	}

	net := decimal.NewFromFloat(a.Value).Add(decimal.NewFromFloat(b.Value)).Abs()
	if net.GreaterThan(adjustmentTolerance) {
		return models.SpecialDividendAdjustment{}, false
	}

	originalStrike := decimal.NewFromFloat(openLeg.StrikePrice)
	newStrike := decimal.NewFromFloat(closeLeg.StrikePrice)
	delta, _ := newStrike.Sub(originalStrike).Float64()

	adj := models.SpecialDividendAdjustment{
		Ticker:         tickerOf(*openLeg),
		OptionType:     openLeg.CallOrPut,
		Expiration:     openLeg.ExpirationDate,
		OriginalStrike: openLeg.StrikePrice,
		NewStrike:      closeLeg.StrikePrice,
		StrikeDelta:    delta,
		DividendAmount: math.Max(math.Abs(a.Value), math.Abs(b.Value)),
		OpenLeg:        openLeg,
		CloseLeg:       closeLeg,
	}
	return adj, true
}

// openCloseRoles assigns the open and close legs of a candidate pair.
func openCloseRoles(a, b *models.RawTransaction) (openLeg, closeLeg *models.RawTransaction, ok bool) {
	switch {
	case a.Action == models.ActionSellToOpen && b.Action == models.ActionBuyToClose,
		a.Action == models.ActionBuyToOpen && b.Action == models.ActionSellToClose:
		return a, b, true
	case b.Action == models.ActionSellToOpen && a.Action == models.ActionBuyToClose,
		b.Action == models.ActionBuyToOpen && a.Action == models.ActionSellToClose:
		return b, a, true
	default:
		return nil, nil, false
	}
}

func tickerOf(tx models.RawTransaction) string {
	if tx.UnderlyingSymbol != "" {
		return tx.UnderlyingSymbol
	}
	return tx.RootSymbol
}

// ValidateAdjustment rejects adjustments whose strikes are not strictly
// positive or whose dividend amount is not positive.
func ValidateAdjustment(adj models.SpecialDividendAdjustment) error {
	if adj.OriginalStrike <= 0 {
		return fmt.Errorf("original strike must be positive, got %.2f", adj.OriginalStrike)
	}
	if adj.NewStrike <= 0 {
		return fmt.Errorf("new strike must be positive, got %.2f", adj.NewStrike)
	}
	if adj.DividendAmount <= 0 {
		return fmt.Errorf("dividend amount must be positive, got %.2f", adj.DividendAmount)
	}
	return nil
}

// ValidateAndFilterAdjustments drops invalid adjustments silently so no
// partial state reaches persistence. Drops are logged, not returned.
func ValidateAndFilterAdjustments(adjs []models.SpecialDividendAdjustment) []models.SpecialDividendAdjustment {
	valid := make([]models.SpecialDividendAdjustment, 0, len(adjs))
	for _, adj := range adjs {
		if err := ValidateAdjustment(adj); err != nil {
			logger.L.Warn("Dropping invalid special dividend adjustment",
				"ticker", adj.Ticker, "error", err)
			continue
		}
		valid = append(valid, adj)
	}
	return valid
}

// AdjustmentNote renders the human-readable note appended to the
// affected option leg, with fixed two-decimal formatting.
func AdjustmentNote(adj models.SpecialDividendAdjustment) string {
	return fmt.Sprintf(
		"Strike adjusted from %s to %s (delta %s) due to special dividend payment of %s applied by broker (expiration %s).",
		decimal.NewFromFloat(adj.OriginalStrike).StringFixed(2),
		decimal.NewFromFloat(adj.NewStrike).StringFixed(2),
		decimal.NewFromFloat(adj.StrikeDelta).StringFixed(2),
		decimal.NewFromFloat(adj.DividendAmount).StringFixed(2),
		adj.Expiration.Format("2006-01-02"),
	)
}
