// Package tastytrade parses Tastytrade transaction-history CSV exports:
// a fixed 21-column schema, one transaction per row. Rows with structural
// problems yield per-row errors and are excluded; the file itself is
// never rejected for a few bad rows.
package tastytrade

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/username/optionfolio/backend/src/logger"
	"github.com/username/optionfolio/backend/src/models"
	"github.com/username/optionfolio/backend/src/utils"
)

const sourceName = "tastytrade"

// Column indices of the fixed 21-column schema.
const (
	colDate = iota
	colType
	colSubType
	colAction
	colSymbol
	colInstrumentType
	colDescription
	colValue
	colQuantity
	colAveragePrice
	colCommissions
	colFees
	colMultiplier
	colRootSymbol
	colUnderlyingSymbol
	colExpirationDate
	colStrikePrice
	colCallOrPut
	colOrderNumber
	colTotal
	colCurrency

	columnCount = 21
)

// Older exports render interest and stock-lending rows in a narrow
// format that stops after the Value column.
const legacyNarrowColumnCount = 8

// Timestamp layouts seen in the Date column, tried in order. Exports
// carry zone offsets without a colon; some older files use UTC "Z".
var dateLayouts = []string{
	"2006-01-02T15:04:05Z0700",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parser implements parsers.StatementParser for Tastytrade history CSVs.
// Stateless; safe for concurrent use.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads the export and returns the shared parse result.
// Header-only or empty input yields zero transactions and zero errors.
func (p *Parser) Parse(file io.Reader) models.ParseResult {
	result := models.ParseResult{}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		result.Errors = append(result.Errors, models.ParseError{
			Line:    0,
			Code:    models.ErrCodeMissingRequiredField,
			Message: fmt.Sprintf("failed to read CSV stream: %v", err),
		})
		return result
	}

	for i, record := range records {
		line := i + 1
		result.LinesProcessed++

		if isHeaderRow(record) || isBlankRow(record) {
			continue
		}

		tx, parseErr := p.parseRow(record, line)
		if parseErr != nil {
			result.Errors = append(result.Errors, *parseErr)
			continue
		}
		result.Transactions = append(result.Transactions, *tx)
	}

	result.Success = true
	logger.L.Debug("Tastytrade parse finished",
		"transactions", len(result.Transactions),
		"errors", len(result.Errors),
		"linesProcessed", result.LinesProcessed)
	return result
}

func isHeaderRow(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "Date")
}

func isBlankRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseRow converts one data row. Structurally incomplete rows and
// unparsable dates come back as non-fatal per-row errors.
func (p *Parser) parseRow(record []string, line int) (*models.RawTransaction, *models.ParseError) {
	raw := strings.Join(record, ",")

	if len(record) < columnCount && !isLegacyNarrowRow(record) {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeMissingRequiredField,
			Message: fmt.Sprintf("row has %d columns, want %d", len(record), columnCount),
			Raw:     raw,
		}
	}

	cell := func(idx int) string {
		if idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	dateStr := cell(colDate)
	txType := cell(colType)
	if dateStr == "" || txType == "" {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeMissingRequiredField,
			Field:   "Date",
			Message: "row is missing its date or type",
			Raw:     raw,
		}
	}

	date, err := parseTimestamp(dateStr)
	if err != nil {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeInvalidDateFormat,
			Field:   "Date",
			Message: err.Error(),
			Raw:     raw,
		}
	}

	// A corrupt numeric cell rejects the row, never silently becomes zero.
	var badCell *models.ParseError
	num := func(idx int, field string) float64 {
		v, err := utils.ParseDecimalValue(cell(idx))
		if err != nil && badCell == nil {
			badCell = &models.ParseError{
				Line:    line,
				Code:    models.ErrCodeInvalidNumber,
				Field:   field,
				Message: err.Error(),
				Raw:     raw,
			}
		}
		return v
	}

	value := num(colValue, "Value")
	quantity := num(colQuantity, "Quantity")
	averagePrice := num(colAveragePrice, "Average Price")
	commissions := num(colCommissions, "Commissions")
	fees := num(colFees, "Fees")
	multiplier := num(colMultiplier, "Multiplier")
	strike := num(colStrikePrice, "Strike Price")
	total := num(colTotal, "Total")
	if badCell != nil {
		return nil, badCell
	}

	tx := models.RawTransaction{
		Date:             date,
		Type:             txType,
		SubType:          cell(colSubType),
		Action:           cell(colAction),
		Symbol:           cell(colSymbol),
		InstrumentType:   cell(colInstrumentType),
		Description:      cell(colDescription),
		Value:            value,
		Quantity:         quantity,
		AveragePrice:     averagePrice,
		Commissions:      commissions,
		Fees:             fees,
		Multiplier:       multiplier,
		RootSymbol:       cell(colRootSymbol),
		UnderlyingSymbol: cell(colUnderlyingSymbol),
		StrikePrice:      strike,
		CallOrPut:        normalizeCallPut(cell(colCallOrPut)),
		OrderNumber:      cell(colOrderNumber),
		Total:            total,
		Currency:         cell(colCurrency),
		Source:           sourceName,
		RawLine:          raw,
		LineNumber:       line,
	}

	if isLegacyNarrowRow(record) && len(record) < columnCount {
		// Narrow rows stop after Value; the cash total equals the value
		// and the account currency applies.
		tx.Total = value
		tx.Currency = "USD"
	}

	if expStr := cell(colExpirationDate); expStr != "" {
		exp, err := parseExpiration(expStr)
		if err != nil {
			return nil, &models.ParseError{
				Line:    line,
				Code:    models.ErrCodeInvalidDateFormat,
				Field:   "Expiration Date",
				Message: err.Error(),
				Raw:     raw,
			}
		}
		tx.ExpirationDate = exp
	}

	return &tx, nil
}

// isLegacyNarrowRow recognizes the old narrow interest/lending shape.
func isLegacyNarrowRow(record []string) bool {
	if len(record) < legacyNarrowColumnCount || len(record) >= columnCount {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(record[colType]), models.TxTypeMoneyMovement) {
		return false
	}
	subType := strings.TrimSpace(record[colSubType])
	return strings.EqualFold(subType, models.TxSubTypeInterest) ||
		strings.EqualFold(subType, models.TxSubTypeLending)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse timestamp %q", s)
}

// parseExpiration handles the M/D/YYYY expiration column, with an ISO
// fallback seen in some exports.
func parseExpiration(s string) (time.Time, error) {
	for _, layout := range []string{"1/2/2006", "01/02/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse expiration date %q", s)
}

func normalizeCallPut(s string) string {
	switch strings.ToUpper(s) {
	case "C", "CALL":
		return "CALL"
	case "P", "PUT":
		return "PUT"
	default:
		return ""
	}
}
