// Package contract parses and formats option contract symbols.
//
// Two forms are accepted: the OCC symbol (root, YYMMDD expiry, C/P, strike
// ×1000 in eight digits), with or without the space padding of the root,
// and the short broker form used on position statements, a leading dash
// followed by root, YYMMDD, C/P and a plain decimal strike.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mingdom/omninmo-sub001/internal/model"
)

// occRegex matches: {root 1-6}{padding}{YYMMDD}{C|P}{strike x1000, 8 digits}
// Example: AAPL  250117C00150000
var occRegex = regexp.MustCompile(`^([A-Z][A-Z0-9.]{0,5}) *(\d{6})([CP])(\d{8})$`)

// brokerRegex matches: -{root}{YYMMDD}{C|P}{strike}
// Example: -SPY250620P550.5
var brokerRegex = regexp.MustCompile(`^-([A-Z][A-Z0-9.]{0,5}?)(\d{6})([CP])(\d+(?:\.\d+)?)$`)

var strikeScale = decimal.NewFromInt(1000)

var (
	ErrInvalidSymbol = errors.New("contract: invalid option symbol")
	ErrInvalidStrike = errors.New("contract: strike must be positive")
)

// Symbol is a parsed option symbol.
type Symbol struct {
	Underlying string           `json:"underlying"`
	Expiry     time.Time        `json:"expiry"`
	Type       model.OptionType `json:"type"`
	Strike     decimal.Decimal  `json:"strike"`
}

// Parse parses an OCC or broker-form option symbol. Surrounding whitespace
// and letter case are ignored.
func Parse(symbol string) (*Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	occ := true
	matches := occRegex.FindStringSubmatch(s)
	if matches == nil {
		occ = false
		matches = brokerRegex.FindStringSubmatch(s)
	}
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected ROOT YYMMDD C|P STRIKE)", ErrInvalidSymbol, symbol)
	}

	root, dateStr, right, strikeStr := matches[1], matches[2], matches[3], matches[4]

	expiry, err := time.Parse("060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidSymbol, dateStr)
	}

	strike, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: strike %s", ErrInvalidSymbol, strikeStr)
	}
	if occ {
		strike = strike.Div(strikeScale)
	}
	if !strike.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStrike, symbol)
	}

	typ := model.Call
	if right == "P" {
		typ = model.Put
	}

	return &Symbol{
		Underlying: root,
		Expiry:     expiry,
		Type:       typ,
		Strike:     strike,
	}, nil
}

// OCC formats the symbol in the 21-character padded OCC form.
func (s Symbol) OCC() string {
	right := "C"
	if s.Type == model.Put {
		right = "P"
	}
	milli := s.Strike.Mul(strikeScale).Round(0).IntPart()
	return fmt.Sprintf("%-6s%s%s%08d", s.Underlying, s.Expiry.Format("060102"), right, milli)
}

// String returns the compact OCC form.
func (s Symbol) String() string {
	return strings.ReplaceAll(s.OCC(), " ", "")
}

// Contract returns the contract terms for a position in this symbol.
func (s Symbol) Contract(quantity float64, marketPrice decimal.Decimal) model.OptionContract {
	return model.OptionContract{
		Underlying:  s.Underlying,
		Expiry:      s.Expiry,
		Strike:      s.Strike,
		Type:        s.Type,
		Quantity:    quantity,
		MarketPrice: marketPrice,
	}
}
