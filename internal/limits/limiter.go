// Package limits enforces pre-trade exposure limits: a quantity cap per
// instrument and an aggregate cap on invested notional. Both are checked
// before a buy mutates any state; sells and cash movements are never limited.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionLimitExceeded is returned when a buy would push a single
	// instrument's held quantity beyond the per-instrument maximum.
	ErrPositionLimitExceeded = errors.New("limits: per-instrument position limit exceeded")

	// ErrExposureLimitExceeded is returned when a buy would push the user's
	// total invested notional beyond the aggregate maximum.
	ErrExposureLimitExceeded = errors.New("limits: total exposure limit exceeded")
)

// ExposureLimiter validates buys against position and exposure caps.
// Zero-valued caps disable the corresponding check.
type ExposureLimiter struct {
	// MaxPerInstrument is the maximum quantity held in any single instrument.
	MaxPerInstrument int64

	// MaxTotalExposure is the maximum aggregate invested notional across all
	// holdings, including the trade under evaluation.
	MaxTotalExposure decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given caps.
func NewExposureLimiter(maxPerInstrument int64, maxTotalExposure decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerInstrument: maxPerInstrument,
		MaxTotalExposure: maxTotalExposure,
	}
}

// CheckBuy validates whether buying quantity units at price respects the
// limits, given the currently held quantity in the target instrument and the
// account's current invested notional.
//
// Returns nil if the buy is within limits, or an error naming the violation.
func (l *ExposureLimiter) CheckBuy(
	heldQuantity, quantity int64,
	price, investedAmount decimal.Decimal,
) error {
	if l.MaxPerInstrument > 0 && heldQuantity+quantity > l.MaxPerInstrument {
		return ErrPositionLimitExceeded
	}

	if l.MaxTotalExposure.IsPositive() {
		notional := price.Mul(decimal.NewFromInt(quantity))
		if investedAmount.Add(notional).GreaterThan(l.MaxTotalExposure) {
			return ErrExposureLimitExceeded
		}
	}

	return nil
}
