// Package costbasis implements the weighted-average cost-basis arithmetic
// used by the ledger: re-averaging on buys, notional computation, and
// realized P&L against the held average.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Averages carry four fractional digits so rounding error does not compound
// across many small trades.
package costbasis

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept on average prices.
const Scale int32 = 4

var (
	// ErrNonPositiveQuantity is returned when a quantity is zero or negative.
	ErrNonPositiveQuantity = errors.New("costbasis: quantity must be positive")

	// ErrNegativePrice is returned when a price is negative.
	ErrNegativePrice = errors.New("costbasis: price must not be negative")
)

// Notional returns the total cash value of a trade: price × quantity.
func Notional(quantity int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity))
}

// WeightedAverage recomputes the average cost per unit after buying delta
// more units at tradePrice on top of an existing position:
//
//	newAvg = (oldQty×oldAvg + delta×tradePrice) / (oldQty + delta)
//
// oldQty may be zero (opening a position), in which case the result is
// tradePrice. The result is rounded half-up to Scale digits.
func WeightedAverage(oldQty int64, oldAvg decimal.Decimal, delta int64, tradePrice decimal.Decimal) (decimal.Decimal, error) {
	if delta <= 0 || oldQty < 0 {
		return decimal.Zero, ErrNonPositiveQuantity
	}
	if tradePrice.IsNegative() || oldAvg.IsNegative() {
		return decimal.Zero, ErrNegativePrice
	}

	existing := oldAvg.Mul(decimal.NewFromInt(oldQty))
	added := tradePrice.Mul(decimal.NewFromInt(delta))
	total := decimal.NewFromInt(oldQty + delta)

	return existing.Add(added).DivRound(total, Scale), nil
}

// RealizedPnL returns the profit or loss of selling quantity units at
// sellPrice against a position held at averagePrice. Negative means a loss.
func RealizedPnL(quantity int64, averagePrice, sellPrice decimal.Decimal) decimal.Decimal {
	return sellPrice.Sub(averagePrice).Mul(decimal.NewFromInt(quantity))
}
