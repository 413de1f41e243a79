package models

import "time"

// MovementKind discriminates the closed set of persisted financial-record
// kinds. The set is intentionally closed and exhaustively matched.
type MovementKind string

const (
	KindStockTrade     MovementKind = "STOCK_TRADE"
	KindOptionTrade    MovementKind = "OPTION_TRADE"
	KindDividend       MovementKind = "DIVIDEND"
	KindBrokerMovement MovementKind = "BROKER_MOVEMENT"
)

// Movement is the sealed union of the four canonical movement kinds.
// Only the types in this file implement it.
type Movement interface {
	Kind() MovementKind
	MovementDate() time.Time
	sealedMovement()
}

// MovementBase carries the identity and bookkeeping fields shared by all
// movement kinds. Movements are never deleted; a later corporate-action
// adjustment appends to Notes and updates linkage on the affected leg only.
type MovementBase struct {
	ID        int64     `json:"id,omitempty"` // Database primary key
	AccountID int64     `json:"account_id"`
	Date      time.Time `json:"date"`
	Ticker    string    `json:"ticker"`
	Currency  string    `json:"currency"`
	Notes     string    `json:"notes,omitempty"`
	HashID    string    `json:"hash_id"` // Content hash for duplicate suppression
}

// MovementDate returns the effective date of the movement.
func (b MovementBase) MovementDate() time.Time { return b.Date }

// StockTrade is a plain equity buy or sell.
type StockTrade struct {
	MovementBase
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
	Fees       float64 `json:"fees"`
	BuySell    string  `json:"buy_sell"`   // "BUY" or "SELL"
	OpenClose  string  `json:"open_close"` // "OPEN" or "CLOSE"
}

func (StockTrade) Kind() MovementKind { return KindStockTrade }
func (StockTrade) sealedMovement()    {}

// OptionTrade is an equity- or future-option leg.
type OptionTrade struct {
	MovementBase
	Underlying string    `json:"underlying"`
	Quantity   float64   `json:"quantity"`
	Premium    float64   `json:"premium"` // Per-contract price
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	CallPut    string    `json:"call_put"` // "CALL" or "PUT"
	Multiplier float64   `json:"multiplier"`
	Commission float64   `json:"commission"`
	Fees       float64   `json:"fees"`
	BuySell    string    `json:"buy_sell"`
	OpenClose  string    `json:"open_close"`
	OrderRef   string    `json:"order_ref"` // Broker order number linking multi-leg strategies
}

func (OptionTrade) Kind() MovementKind { return KindOptionTrade }
func (OptionTrade) sealedMovement()    {}

// Dividend is a cash dividend credited for a holding.
type Dividend struct {
	MovementBase
	Amount      float64 `json:"amount"`
	TaxWithheld float64 `json:"tax_withheld"`
}

func (Dividend) Kind() MovementKind { return KindDividend }
func (Dividend) sealedMovement()    {}

// Broker movement type constants.
const (
	BrokerMovementDeposit    = "DEPOSIT"
	BrokerMovementWithdrawal = "WITHDRAWAL"
	BrokerMovementInterest   = "INTEREST"
	BrokerMovementLending    = "LENDING"
	BrokerMovementFee        = "FEE"
)

// BrokerMovement is a non-trade cash movement on the account: deposits,
// withdrawals, interest, lending income, fees.
type BrokerMovement struct {
	MovementBase
	MovementType string  `json:"movement_type"` // e.g. "DEPOSIT", "INTEREST"
	Amount       float64 `json:"amount"`        // Magnitude; direction is in MovementType
}

func (BrokerMovement) Kind() MovementKind { return KindBrokerMovement }
func (BrokerMovement) sealedMovement()    {}
