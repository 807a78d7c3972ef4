// Package instrument handles instrument symbol parsing and normalization.
// Symbols are exchange-style tickers with an optional exchange suffix,
// e.g. "RELIANCE", "TCS.NS", "INFY.BO".
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Supported exchange suffixes.
const (
	ExchangeNSE = "NS"
	ExchangeBSE = "BO"
)

// symbolRegex matches: {ticker}[.{exchange}]
// Ticker is 1-12 characters, uppercase letters and digits, starting with a
// letter. Examples: RELIANCE, TCS.NS, M100.BO
var symbolRegex = regexp.MustCompile(`^([A-Z][A-Z0-9&-]{0,11})(?:\.([A-Z]{2}))?$`)

var (
	ErrInvalidSymbol   = errors.New("instrument: invalid symbol format")
	ErrInvalidExchange = errors.New("instrument: unsupported exchange suffix")
)

var validExchanges = map[string]bool{
	ExchangeNSE: true,
	ExchangeBSE: true,
}

// Symbol is a parsed instrument identifier.
type Symbol struct {
	Name     string `json:"name"`     // full normalized symbol, e.g. "TCS.NS"
	Ticker   string `json:"ticker"`   // ticker portion, e.g. "TCS"
	Exchange string `json:"exchange"` // exchange suffix, empty when unqualified
}

// Parse validates and normalizes an instrument symbol. Input is trimmed and
// upper-cased before matching, so "tcs.ns" and "TCS.NS" are the same symbol.
func Parse(raw string) (*Symbol, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(normalized)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected TICKER or TICKER.EXCHANGE)", ErrInvalidSymbol, raw)
	}

	ticker := matches[1]
	exchange := matches[2]

	if exchange != "" && !validExchanges[exchange] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExchange, exchange)
	}

	return &Symbol{
		Name:     normalized,
		Ticker:   ticker,
		Exchange: exchange,
	}, nil
}
