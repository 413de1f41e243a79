package processors

import (
	"sort"

	"github.com/username/optionfolio/backend/src/models"
)

// StrategyType is the closed set of multi-leg option strategy shapes the
// detector distinguishes.
type StrategyType string

const (
	StrategySingleLeg      StrategyType = "SINGLE_LEG"
	StrategyVerticalSpread StrategyType = "VERTICAL_SPREAD"
	StrategyCalendarSpread StrategyType = "CALENDAR_SPREAD"
	StrategyDiagonalSpread StrategyType = "DIAGONAL_SPREAD"
	StrategyStraddle       StrategyType = "STRADDLE"
	StrategyStrangle       StrategyType = "STRANGLE"
	StrategyCustom         StrategyType = "CUSTOM"
)

// Strategy groups the option legs filled under one broker order number.
type Strategy struct {
	OrderNumber string                  `json:"order_number"`
	Type        StrategyType            `json:"type"`
	Legs        []models.RawTransaction `json:"legs"`
}

// DetectStrategies groups option transactions by order number and
// classifies each group's shape. Transactions without an order number
// are treated as independent single legs. Classification does not depend
// on the order legs appear in.
func DetectStrategies(txs []models.RawTransaction) []Strategy {
	byOrder := make(map[string][]models.RawTransaction)
	var orderKeys []string

	for _, tx := range txs {
		if !tx.IsOption() {
			continue
		}
		key := tx.OrderNumber
		if _, seen := byOrder[key]; !seen {
			orderKeys = append(orderKeys, key)
		}
		byOrder[key] = append(byOrder[key], tx)
	}

	var strategies []Strategy
	for _, key := range orderKeys {
		legs := byOrder[key]
		if key == "" {
			// No order linkage; each leg stands alone.
			for _, leg := range legs {
				strategies = append(strategies, Strategy{
					Type: StrategySingleLeg,
					Legs: []models.RawTransaction{leg},
				})
			}
			continue
		}
		strategies = append(strategies, Strategy{
			OrderNumber: key,
			Type:        classifyStrategy(legs),
			Legs:        legs,
		})
	}
	return strategies
}

// classifyStrategy compares strike, expiration and option type across
// legs. The comparison is over the set of distinct values, so the result
// is invariant under leg ordering.
func classifyStrategy(legs []models.RawTransaction) StrategyType {
	if len(legs) == 1 {
		return StrategySingleLeg
	}
	if len(legs) > 2 {
		return StrategyCustom
	}

	strikes := distinctFloats(legs, func(t models.RawTransaction) float64 { return t.StrikePrice })
	expirations := distinctStrings(legs, func(t models.RawTransaction) string { return t.ExpirationDate.Format("2006-01-02") })
	types := distinctStrings(legs, func(t models.RawTransaction) string { return t.CallOrPut })

	sameStrike := len(strikes) == 1
	sameExpiration := len(expirations) == 1
	sameType := len(types) == 1

	switch {
	case sameType && sameStrike && !sameExpiration:
		return StrategyCalendarSpread
	case sameType && !sameStrike && sameExpiration:
		return StrategyVerticalSpread
	case sameType && !sameStrike && !sameExpiration:
		return StrategyDiagonalSpread
	case !sameType && sameStrike && sameExpiration:
		return StrategyStraddle
	case !sameType && !sameStrike && sameExpiration:
		return StrategyStrangle
	default:
		return StrategyCustom
	}
}

func distinctFloats(legs []models.RawTransaction, get func(models.RawTransaction) float64) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, leg := range legs {
		v := get(leg)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func distinctStrings(legs []models.RawTransaction, get func(models.RawTransaction) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, leg := range legs {
		v := get(leg)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
