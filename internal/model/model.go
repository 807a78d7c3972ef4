// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. The set is closed; the stores reject anything else.
const (
	TxBuy      = "BUY"
	TxSell     = "SELL"
	TxAdd      = "ADD"
	TxWithdraw = "WITHDRAW"
)

// ValidTransactionType reports whether t is one of the four allowed types.
func ValidTransactionType(t string) bool {
	switch t {
	case TxBuy, TxSell, TxAdd, TxWithdraw:
		return true
	}
	return false
}

// Domain errors. Stores return these instead of affected-row counts; the
// orchestrator maps them onto the response envelope.
var (
	// ErrAccountNotFound indicates no account row exists for the user.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists indicates a provisioning attempt for an existing user.
	ErrAccountExists = errors.New("account already exists")

	// ErrHoldingNotFound indicates the user holds no position in the instrument.
	ErrHoldingNotFound = errors.New("holding not found")

	// ErrInsufficientBalance indicates a debit larger than available_balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientQuantity indicates a sell larger than the held quantity.
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrInvalidTransactionType indicates a type outside the closed set.
	ErrInvalidTransactionType = errors.New("invalid transaction type")
)

// Account holds a user's virtual cash. AvailableBalance and InvestedAmount
// are both invariantly non-negative; InvestedAmount is the cost basis of the
// user's currently open holdings.
type Account struct {
	UserID           string          `json:"user_id" db:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	InvestedAmount   decimal.Decimal `json:"invested_amount" db:"invested_amount"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Holding is a user's open position in one instrument. Quantity is strictly
// positive while the row exists; the row is deleted when fully sold.
// AveragePrice is the quantity-weighted average cost per unit.
type Holding struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Instrument   string          `json:"instrument" db:"instrument"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Value returns the holding's cost basis: quantity × average price.
func (h Holding) Value() decimal.Decimal {
	return h.AveragePrice.Mul(decimal.NewFromInt(h.Quantity))
}

// Transaction is an immutable record of a money- or position-affecting event.
// Once created, these are never modified or deleted.
//
// Cash movements (ADD/WITHDRAW) use Instrument="" and Quantity=1 with the
// amount carried in PricePerUnit. The unified schema is part of the caller
// contract and must not change shape.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Instrument   string          `json:"instrument" db:"instrument"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	Type         string          `json:"type" db:"type"`
	Date         time.Time       `json:"transaction_date" db:"transaction_date"`
}

// Portfolio aggregates a user's account and open holdings.
type Portfolio struct {
	UserID           string          `json:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	InvestedAmount   decimal.Decimal `json:"invested_amount"`
	Holdings         []Holding       `json:"holdings"`
	HoldingsValue    decimal.Decimal `json:"holdings_value"` // Σ quantity × average_price
}
