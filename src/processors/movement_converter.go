package processors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/username/optionfolio/backend/src/models"
)

// ConversionError records a transaction that could not be mapped to a
// canonical movement kind.
type ConversionError struct {
	LineNumber int    `json:"line_number"`
	Type       string `json:"type"`
	SubType    string `json:"sub_type"`
	Message    string `json:"message"`
}

// ConversionResult carries the converted movements, per-kind count
// deltas and any conversion errors. Count aggregation is
// order-independent.
type ConversionResult struct {
	Movements []models.Movement           `json:"movements"`
	Counts    map[models.MovementKind]int `json:"counts"`
	Skipped   int                         `json:"skipped"` // informational transactions, intentionally recordless
	Errors    []ConversionError           `json:"errors"`
}

// MovementConverter maps neutral raw transactions into canonical
// movement kinds, or discards the explicitly informational ones.
type MovementConverter struct{}

func NewMovementConverter() *MovementConverter { return &MovementConverter{} }

// Convert dispatches each transaction on its type. Cash movements become
// BrokerMovement (or Dividend), option trades become OptionTrade, plain
// equity trades become StockTrade. Zero-cash-impact transfers produce no
// record and no error. Anything else is a conversion error, never a
// silent drop.
func (c *MovementConverter) Convert(accountID int64, txs []models.RawTransaction) ConversionResult {
	result := ConversionResult{
		Counts: make(map[models.MovementKind]int),
	}

	for _, tx := range txs {
		switch tx.Type {
		case models.TxTypeTrade:
			movement, err := c.convertTrade(accountID, tx)
			if err != nil {
				result.Errors = append(result.Errors, conversionError(tx, err))
				continue
			}
			result.Movements = append(result.Movements, movement)
			result.Counts[movement.Kind()]++

		case models.TxTypeMoneyMovement:
			movement := c.convertMoneyMovement(accountID, tx)
			result.Movements = append(result.Movements, movement)
			result.Counts[movement.Kind()]++

		case models.TxTypeReceiveDeliver:
			// Internal transfers with no cash impact are informational:
			// intentionally no record and no error.
			if tx.Value == 0 {
				result.Skipped++
				continue
			}
			result.Errors = append(result.Errors, conversionError(tx,
				fmt.Errorf("receive/deliver transaction with non-zero value %.2f is not supported", tx.Value)))

		default:
			result.Errors = append(result.Errors, conversionError(tx,
				fmt.Errorf("unrecognized transaction type %q", tx.Type)))
		}
	}

	return result
}

// convertTrade maps a Trade row to a stock or option trade by instrument.
func (c *MovementConverter) convertTrade(accountID int64, tx models.RawTransaction) (models.Movement, error) {
	base := movementBase(accountID, tx)

	switch tx.InstrumentType {
	case models.InstrumentEquity:
		base.Ticker = firstNonEmpty(tx.Symbol, tx.UnderlyingSymbol)
		return models.StockTrade{
			MovementBase: base,
			Quantity:     math.Abs(tx.Quantity),
			Price:        math.Abs(tx.AveragePrice),
			Commission:   math.Abs(tx.Commissions),
			Fees:         math.Abs(tx.Fees),
			BuySell:      buySellOf(tx.Action),
			OpenClose:    openCloseOf(tx.Action),
		}, nil

	case models.InstrumentEquityOption, models.InstrumentFutureOption:
		base.Ticker = firstNonEmpty(tx.RootSymbol, tx.Symbol)
		multiplier := tx.Multiplier
		if multiplier == 0 {
			multiplier = 100
		}
		return models.OptionTrade{
			MovementBase: base,
			Underlying:   firstNonEmpty(tx.UnderlyingSymbol, tx.RootSymbol),
			Quantity:     math.Abs(tx.Quantity),
			Premium:      math.Abs(tx.AveragePrice),
			Strike:       tx.StrikePrice,
			Expiration:   tx.ExpirationDate,
			CallPut:      tx.CallOrPut,
			Multiplier:   multiplier,
			Commission:   math.Abs(tx.Commissions),
			Fees:         math.Abs(tx.Fees),
			BuySell:      buySellOf(tx.Action),
			OpenClose:    openCloseOf(tx.Action),
			OrderRef:     tx.OrderNumber,
		}, nil

	default:
		return nil, fmt.Errorf("unrecognized instrument type %q for trade", tx.InstrumentType)
	}
}

// convertMoneyMovement maps a cash row to a Dividend or BrokerMovement.
func (c *MovementConverter) convertMoneyMovement(accountID int64, tx models.RawTransaction) models.Movement {
	base := movementBase(accountID, tx)
	base.Ticker = firstNonEmpty(tx.Symbol, tx.UnderlyingSymbol)

	if strings.EqualFold(tx.SubType, models.TxSubTypeDividend) {
		return models.Dividend{
			MovementBase: base,
			Amount:       tx.Value,
		}
	}

	return models.BrokerMovement{
		MovementBase: base,
		MovementType: brokerMovementType(tx),
		Amount:       math.Abs(tx.Value),
	}
}

func brokerMovementType(tx models.RawTransaction) string {
	switch {
	case strings.EqualFold(tx.SubType, models.TxSubTypeDeposit):
		return models.BrokerMovementDeposit
	case strings.EqualFold(tx.SubType, models.TxSubTypeWithdrawal):
		return models.BrokerMovementWithdrawal
	case strings.EqualFold(tx.SubType, models.TxSubTypeInterest):
		return models.BrokerMovementInterest
	case strings.EqualFold(tx.SubType, models.TxSubTypeLending):
		return models.BrokerMovementLending
	case strings.EqualFold(tx.SubType, models.TxSubTypeFee):
		return models.BrokerMovementFee
	case tx.Value >= 0:
		return models.BrokerMovementDeposit
	default:
		return models.BrokerMovementWithdrawal
	}
}

func movementBase(accountID int64, tx models.RawTransaction) models.MovementBase {
	return models.MovementBase{
		AccountID: accountID,
		Date:      tx.Date,
		Currency:  tx.Currency,
		Notes:     "",
		HashID:    TransactionHash(tx),
	}
}

// TransactionHash creates a content hash for duplicate suppression based
// on the source row, not on derived fields.
func TransactionHash(tx models.RawTransaction) string {
	input := fmt.Sprintf("%s|%s|%s|%f|%f", tx.Date.Format(time.RFC3339), tx.Source, tx.RawLine, tx.Value, tx.Commissions)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

func conversionError(tx models.RawTransaction, err error) ConversionError {
	return ConversionError{
		LineNumber: tx.LineNumber,
		Type:       tx.Type,
		SubType:    tx.SubType,
		Message:    err.Error(),
	}
}

func buySellOf(action string) string {
	switch action {
	case models.ActionBuy, models.ActionBuyToOpen, models.ActionBuyToClose:
		return "BUY"
	case models.ActionSell, models.ActionSellToOpen, models.ActionSellToClose:
		return "SELL"
	default:
		return ""
	}
}

func openCloseOf(action string) string {
	switch action {
	case models.ActionBuyToOpen, models.ActionSellToOpen:
		return "OPEN"
	case models.ActionBuyToClose, models.ActionSellToClose:
		return "CLOSE"
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
