package models

import "time"

// Transaction type constants shared by both broker parsers. Parsers emit
// these neutral values; the converter dispatches on them.
const (
	TxTypeTrade          = "Trade"
	TxTypeMoneyMovement  = "Money Movement"
	TxTypeReceiveDeliver = "Receive Deliver"
)

// Transaction sub-type constants.
const (
	TxSubTypeDividend   = "Dividend"
	TxSubTypeDeposit    = "Deposit"
	TxSubTypeWithdrawal = "Withdrawal"
	TxSubTypeInterest   = "Credit Interest"
	TxSubTypeLending    = "Fully Paid Stock Lending Income"
	TxSubTypeTransfer   = "Transfer"
	TxSubTypeFee        = "Fee"
)

// Instrument type constants.
const (
	InstrumentEquity       = "Equity"
	InstrumentEquityOption = "Equity Option"
	InstrumentFutureOption = "Future Option"
)

// Action constants for option/stock orders.
const (
	ActionBuyToOpen   = "BUY_TO_OPEN"
	ActionBuyToClose  = "BUY_TO_CLOSE"
	ActionSellToOpen  = "SELL_TO_OPEN"
	ActionSellToClose = "SELL_TO_CLOSE"
	ActionBuy         = "BUY"
	ActionSell        = "SELL"
)

// RawTransaction is the immutable output of a broker statement parser:
// one source row, typed and line-numbered, before any classification
// into canonical movements.
type RawTransaction struct {
	Date             time.Time `json:"date"`
	Type             string    `json:"type"`     // e.g. "Trade", "Money Movement"
	SubType          string    `json:"sub_type"` // e.g. "Dividend", "Deposit"
	Action           string    `json:"action"`   // e.g. "SELL_TO_OPEN"
	Symbol           string    `json:"symbol"`
	InstrumentType   string    `json:"instrument_type"` // e.g. "Equity", "Equity Option"
	Description      string    `json:"description"`
	Value            float64   `json:"value"`    // Signed cash impact of the row
	Quantity         float64   `json:"quantity"` // Always non-negative; direction lives in Action
	AveragePrice     float64   `json:"average_price"`
	Commissions      float64   `json:"commissions"`
	Fees             float64   `json:"fees"`
	Multiplier       float64   `json:"multiplier"`
	RootSymbol       string    `json:"root_symbol"`
	UnderlyingSymbol string    `json:"underlying_symbol"`
	ExpirationDate   time.Time `json:"expiration_date"` // Zero for non-options
	StrikePrice      float64   `json:"strike_price"`
	CallOrPut        string    `json:"call_or_put"` // "CALL", "PUT" or empty
	OrderNumber      string    `json:"order_number"`
	Total            float64   `json:"total"` // Value net of commissions and fees
	Currency         string    `json:"currency"`
	Source           string    `json:"source"`   // e.g. "ibkr", "tastytrade"
	RawLine          string    `json:"raw_line"` // Original source line for reference
	LineNumber       int       `json:"line_number"`
}

// IsOption reports whether the transaction is an option trade row.
func (t RawTransaction) IsOption() bool {
	return t.InstrumentType == InstrumentEquityOption || t.InstrumentType == InstrumentFutureOption
}

// OpensPosition reports whether the action opens a position.
func (t RawTransaction) OpensPosition() bool {
	return t.Action == ActionBuyToOpen || t.Action == ActionSellToOpen
}

// ClosesPosition reports whether the action closes a position.
func (t RawTransaction) ClosesPosition() bool {
	return t.Action == ActionBuyToClose || t.Action == ActionSellToClose
}
