// Package ibkr parses IBKR activity-statement CSV exports. The format is
// section-oriented: every row starts with a section-name cell followed by
// a "Header", "Data" or summary discriminator. Sections are classified by
// a fixed allow-list; account-identifying sections are skipped outright.
package ibkr

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/username/optionfolio/backend/src/logger"
	"github.com/username/optionfolio/backend/src/models"
	"github.com/username/optionfolio/backend/src/utils"
)

const sourceName = "ibkr"

// Row discriminators in column 1.
const (
	rowHeader = "Header"
	rowData   = "Data"
)

// optionSymbolRe matches IBKR's spaced option symbols, e.g.
// "AAPL 17FEB23 150 C".
var optionSymbolRe = regexp.MustCompile(`^(\S+) (\d{2}[A-Z]{3}\d{2}) ([\d.]+) ([CP])$`)

// dividendTickerRe pulls the ticker from a dividend description like
// "AAPL(US0378331005) Cash Dividend USD 0.23 per Share".
var dividendTickerRe = regexp.MustCompile(`^([A-Z.]+)\s*\(`)

// Parser implements parsers.StatementParser for IBKR activity statements.
// Stateless; safe for concurrent use.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads a section-oriented activity statement and returns the
// shared parse result. Row-level problems are collected as structured
// errors; only an unreadable stream produces Success=false.
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

	skipped := make(map[string]string)  // section -> reason
	headers := make(map[string][]string) // section -> header cells

	for i, record := range records {
		line := i + 1
		result.LinesProcessed++

		if len(record) < 2 {
			continue
		}
		section := strings.TrimSpace(record[0])
		discriminator := strings.TrimSpace(record[1])

		class := classifySection(section)
		if class != classTransactional {
			if _, seen := skipped[section]; !seen && section != "" {
				reason := skipReason(class)
				skipped[section] = reason
				result.SkippedSections = append(result.SkippedSections, models.SkippedSection{
					Name:   section,
					Reason: reason,
				})
			}
			continue
		}

		switch discriminator {
		case rowHeader:
			headers[section] = record[2:]
		case rowData:
			header, ok := headers[section]
			if !ok {
				result.Errors = append(result.Errors, models.ParseError{
					Line:    line,
					Code:    models.ErrCodeMissingRequiredField,
					Message: fmt.Sprintf("data row in section %q before its header", section),
					Raw:     strings.Join(record, ","),
				})
				continue
			}
			row := cellsByName(header, record[2:])
			tx, parseErr := p.parseSectionRow(section, row, line, strings.Join(record, ","))
			if parseErr != nil {
				result.Errors = append(result.Errors, *parseErr)
				continue
			}
			if tx != nil {
				result.Transactions = append(result.Transactions, *tx)
			}
		default:
			// SubTotal / Total / Notes rows within a transactional section.
			continue
		}
	}

	result.Success = true
	logger.L.Debug("IBKR parse finished",
		"transactions", len(result.Transactions),
		"errors", len(result.Errors),
		"skippedSections", len(result.SkippedSections))
	return result
}

// cellsByName zips header names with a data row's cells.
func cellsByName(header, cells []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(cells) {
			row[strings.TrimSpace(name)] = strings.TrimSpace(cells[i])
		}
	}
	return row
}

// parseSectionRow dispatches one data row to its section handler. A nil
// transaction with a nil error means the row was a summary to ignore.
func (p *Parser) parseSectionRow(section string, row map[string]string, line int, raw string) (*models.RawTransaction, *models.ParseError) {
	switch section {
	case sectionTrades:
		return p.parseTradeRow(row, line, raw)
	case sectionDividends:
		return p.parseCashRow(row, line, raw, models.TxSubTypeDividend)
	case sectionDepositsWDs:
		return p.parseCashRow(row, line, raw, "")
	case sectionInterest:
		return p.parseCashRow(row, line, raw, models.TxSubTypeInterest)
	case sectionFees:
		return p.parseCashRow(row, line, raw, models.TxSubTypeFee)
	}
	return nil, nil
}

// parseTradeRow handles one row of the Trades section.
func (p *Parser) parseTradeRow(row map[string]string, line int, raw string) (*models.RawTransaction, *models.ParseError) {
	// Only order-level rows are transactions; lot rows duplicate them.
	if d := row["DataDiscriminator"]; d != "" && d != "Order" {
		return nil, nil
	}

	symbol := row["Symbol"]
	if symbol == "" {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeMissingRequiredField,
			Field:   "Symbol",
			Message: "trade row is missing its symbol",
			Raw:     raw,
		}
	}

	dateStr := row["Date/Time"]
	if dateStr == "" {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeMissingRequiredField,
			Field:   "Date/Time",
			Message: "trade row is missing its date",
			Raw:     raw,
		}
	}
	date, err := parseTradeDateTime(dateStr)
	if err != nil {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeInvalidDateFormat,
			Field:   "Date/Time",
			Message: err.Error(),
			Raw:     raw,
		}
	}

	// A corrupt numeric cell rejects the row, never silently becomes zero.
	var badCell *models.ParseError
	num := func(s, field string) float64 {
		v, err := utils.ParseDecimalValue(s)
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

	quantity := num(row["Quantity"], "Quantity")
	price := num(row["T. Price"], "T. Price")
	proceeds := num(row["Proceeds"], "Proceeds")
	commFee := num(row["Comm/Fee"], "Comm/Fee")
	code := row["Code"]
	if badCell != nil {
		return nil, badCell
	}

	tx := models.RawTransaction{
		Date:         date,
		Type:         models.TxTypeTrade,
		Symbol:       symbol,
		Description:  fmt.Sprintf("%s %s @ %s", row["Quantity"], symbol, row["T. Price"]),
		Value:        proceeds,
		Quantity:     math.Abs(quantity),
		AveragePrice: price,
		Commissions:  math.Abs(commFee),
		Total:        proceeds - math.Abs(commFee),
		Currency:     row["Currency"],
		Source:       sourceName,
		RawLine:      raw,
		LineNumber:   line,
	}

	assetCategory := row["Asset Category"]
	switch {
	case strings.Contains(assetCategory, "Options"):
		tx.InstrumentType = models.InstrumentEquityOption
		if strings.Contains(assetCategory, "Futures") {
			tx.InstrumentType = models.InstrumentFutureOption
		}
		tx.Multiplier = 100
		if m := optionSymbolRe.FindStringSubmatch(symbol); m != nil {
			tx.RootSymbol = m[1]
			tx.UnderlyingSymbol = m[1]
			if exp, err := time.Parse("02Jan06", titleCaseMonth(m[2])); err == nil {
				tx.ExpirationDate = exp
			}
			strike, err := utils.ParseDecimalValue(m[3])
			if err != nil {
				return nil, &models.ParseError{
					Line:    line,
					Code:    models.ErrCodeInvalidNumber,
					Field:   "Symbol",
					Message: fmt.Sprintf("option symbol %q has invalid strike: %v", symbol, err),
					Raw:     raw,
				}
			}
			tx.StrikePrice = strike
			if m[4] == "C" {
				tx.CallOrPut = "CALL"
			} else {
				tx.CallOrPut = "PUT"
			}
		}
		tx.Action = optionAction(quantity, code)
	default:
		tx.InstrumentType = models.InstrumentEquity
		tx.UnderlyingSymbol = symbol
		if quantity >= 0 {
			tx.Action = models.ActionBuy
		} else {
			tx.Action = models.ActionSell
		}
	}

	return &tx, nil
}

// parseCashRow handles Dividends, Deposits & Withdrawals, Interest and
// Fees rows, which share a Currency/Date/Description/Amount shape.
func (p *Parser) parseCashRow(row map[string]string, line int, raw string, subType string) (*models.RawTransaction, *models.ParseError) {
	// Per-currency "Total" summary rows carry no date.
	if strings.HasPrefix(row["Currency"], "Total") {
		return nil, nil
	}

	dateStr := row["Date"]
	if dateStr == "" {
		dateStr = row["Settle Date"]
	}
	if dateStr == "" {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeMissingRequiredField,
			Field:   "Date",
			Message: "cash row is missing its date",
			Raw:     raw,
		}
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeInvalidDateFormat,
			Field:   "Date",
			Message: fmt.Sprintf("could not parse date %q", dateStr),
			Raw:     raw,
		}
	}

	amount, err := utils.ParseDecimalValue(row["Amount"])
	if err != nil {
		return nil, &models.ParseError{
			Line:    line,
			Code:    models.ErrCodeInvalidNumber,
			Field:   "Amount",
			Message: err.Error(),
			Raw:     raw,
		}
	}
	description := row["Description"]

	tx := models.RawTransaction{
		Date:        date,
		Type:        models.TxTypeMoneyMovement,
		SubType:     subType,
		Description: description,
		Value:       amount,
		Total:       amount,
		Currency:    row["Currency"],
		Source:      sourceName,
		RawLine:     raw,
		LineNumber:  line,
	}

	if subType == models.TxSubTypeDividend {
		if m := dividendTickerRe.FindStringSubmatch(description); m != nil {
			tx.Symbol = m[1]
			tx.UnderlyingSymbol = m[1]
		}
	}
	if subType == "" {
		// Deposits & Withdrawals: direction comes from the sign.
		if amount >= 0 {
			tx.SubType = models.TxSubTypeDeposit
		} else {
			tx.SubType = models.TxSubTypeWithdrawal
		}
	}

	return &tx, nil
}

// optionAction derives the order action from quantity sign and the IBKR
// open/close code column.
func optionAction(quantity float64, code string) string {
	opens := strings.Contains(code, "O")
	if quantity >= 0 {
		if opens {
			return models.ActionBuyToOpen
		}
		return models.ActionBuyToClose
	}
	if opens {
		return models.ActionSellToOpen
	}
	return models.ActionSellToClose
}

// parseTradeDateTime converts IBKR's "2023-02-10, 09:30:00" format,
// falling back to a bare date.
func parseTradeDateTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02, 15:04:05", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("could not parse trade date %q", s)
}

// titleCaseMonth converts "17FEB23" to "17Feb23" for time.Parse.
func titleCaseMonth(s string) string {
	if len(s) != 7 {
		return s
	}
	return s[:2] + s[2:3] + strings.ToLower(s[3:5]) + s[5:]
}
