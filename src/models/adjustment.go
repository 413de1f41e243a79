package models

import "time"

// SpecialDividendAdjustment is a derived, read-only record of a broker
// strike adjustment caused by a special cash dividend. It is detected
// from two offsetting option transactions and never persisted on its
// own; applying it appends a note to the affected open leg.
type SpecialDividendAdjustment struct {
	Ticker         string          `json:"ticker"`
	OptionType     string          `json:"option_type"` // "CALL" or "PUT"
	Expiration     time.Time       `json:"expiration"`
	OriginalStrike float64         `json:"original_strike"`
	NewStrike      float64         `json:"new_strike"`
	StrikeDelta    float64         `json:"strike_delta"`    // NewStrike - OriginalStrike, signed
	DividendAmount float64         `json:"dividend_amount"` // Always positive
	OpenLeg        *RawTransaction `json:"open_leg"`
	CloseLeg       *RawTransaction `json:"close_leg"`
}
