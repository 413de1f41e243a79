// Package options decodes and formats fixed-width option symbols of the
// form <ticker><YYMMDD><C|P><8-digit strike x1000>, as printed in broker
// transaction exports (e.g. "SPY   230317P00350000").
package options

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	expirationWidth = 6
	strikeWidth     = 8
	// minimum symbol: 1-char ticker + YYMMDD + C/P + 8-digit strike
	minSymbolLen = 1 + expirationWidth + 1 + strikeWidth

	expirationLayout = "060102"
)

// Option type constants.
const (
	TypeCall = "CALL"
	TypePut  = "PUT"
)

var ErrInvalidSymbol = errors.New("invalid option symbol")

// Symbol is a decoded option identifier. Ticker is trimmed of the padding
// brokers use to align the fixed-width fields; Format restores it.
type Symbol struct {
	Ticker     string
	Expiration time.Time
	Strike     float64
	Type       string // "CALL" or "PUT"

	rawTicker string // ticker segment exactly as it appeared, padding included
}

// ParseSymbol decodes a fixed-width option symbol. Malformed input fails
// with ErrInvalidSymbol rather than a partial result.
func ParseSymbol(s string) (Symbol, error) {
	if len(s) < minSymbolLen {
		return Symbol{}, fmt.Errorf("%w: %q is too short", ErrInvalidSymbol, s)
	}

	strikePart := s[len(s)-strikeWidth:]
	typeChar := s[len(s)-strikeWidth-1]
	expirationPart := s[len(s)-strikeWidth-1-expirationWidth : len(s)-strikeWidth-1]
	tickerPart := s[:len(s)-strikeWidth-1-expirationWidth]

	if strings.TrimSpace(tickerPart) == "" {
		return Symbol{}, fmt.Errorf("%w: %q has an empty ticker", ErrInvalidSymbol, s)
	}

	var optType string
	switch typeChar {
	case 'C':
		optType = TypeCall
	case 'P':
		optType = TypePut
	default:
		return Symbol{}, fmt.Errorf("%w: %q has option type %q, want C or P", ErrInvalidSymbol, s, string(typeChar))
	}

	expiration, err := time.Parse(expirationLayout, expirationPart)
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: %q has invalid expiration %q", ErrInvalidSymbol, s, expirationPart)
	}

	strikeMillis, err := strconv.ParseInt(strikePart, 10, 64)
	if err != nil || strikeMillis < 0 {
		return Symbol{}, fmt.Errorf("%w: %q has invalid strike %q", ErrInvalidSymbol, s, strikePart)
	}
	strike, _ := decimal.NewFromInt(strikeMillis).Div(decimal.NewFromInt(1000)).Float64()

	return Symbol{
		Ticker:     strings.TrimRight(tickerPart, " "),
		Expiration: expiration,
		Strike:     strike,
		Type:       optType,
		rawTicker:  tickerPart,
	}, nil
}

// Format renders the symbol back to its fixed-width form. For a parsed
// symbol the output reproduces the original string exactly.
func (s Symbol) Format() string {
	ticker := s.rawTicker
	if ticker == "" {
		ticker = s.Ticker
	}

	typeChar := "C"
	if s.Type == TypePut {
		typeChar = "P"
	}

	strikeMillis := decimal.NewFromFloat(s.Strike).Mul(decimal.NewFromInt(1000)).Round(0).IntPart()
	return fmt.Sprintf("%s%s%s%08d", ticker, s.Expiration.Format(expirationLayout), typeChar, strikeMillis)
}
