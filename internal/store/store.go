// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tradesim/ledger-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. All mutations flow through
// ExecTx so a trade saga commits atomically or not at all.
type Store interface {
	// --- Account reads ---

	// CreateAccount provisions a new account with its seed balance.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves a user's account.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// --- Portfolio reads ---

	// GetHolding retrieves a user's position in one instrument.
	GetHolding(ctx context.Context, userID, instrument string) (*model.Holding, error)

	// ListHoldings returns all of a user's open positions.
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// --- Transaction log reads ---

	// ListTransactions returns a user's transaction history, newest first.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Atomic sagas ---

	// ExecTx runs fn against a transactional view of the store. Every
	// mutation fn performs is committed together when fn returns nil, or
	// discarded entirely when fn returns an error.
	ExecTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional surface a saga sequences. Reads lock the rows they
// return, so a concurrent saga against the same user or holding serializes
// behind the first.
type Tx interface {
	// GetAccountForUpdate reads and locks the user's account row.
	GetAccountForUpdate(ctx context.Context, userID string) (*model.Account, error)

	// ApplyTrade mutates the account for a trade of the given notional
	// amount. BUY debits available_balance and credits invested_amount;
	// SELL does the reverse (invested_amount floored at zero).
	ApplyTrade(ctx context.Context, userID string, amount decimal.Decimal, direction string) error

	// ApplyCashMovement mutates available_balance only. ADD credits,
	// WITHDRAW debits and fails on insufficient balance.
	ApplyCashMovement(ctx context.Context, userID string, amount decimal.Decimal, direction string) error

	// GetHoldingForUpdate reads and locks the user's holding row.
	GetHoldingForUpdate(ctx context.Context, userID, instrument string) (*model.Holding, error)

	// OpenHolding creates a new position on first buy of an instrument.
	OpenHolding(ctx context.Context, userID, instrument string, quantity int64, price decimal.Decimal) error

	// AmendHolding applies a delta to an existing position. BUY re-averages
	// the cost basis; SELL decrements quantity (average price unchanged)
	// and removes the row when the position is fully closed.
	AmendHolding(ctx context.Context, userID, instrument string, quantity int64, price decimal.Decimal, direction string) error

	// AppendTransaction appends an immutable transaction record.
	AppendTransaction(ctx context.Context, txn *model.Transaction) error
}
