package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/ledger-engine/internal/model"
	"github.com/tradesim/ledger-engine/internal/store"
)

func seedAccount(t *testing.T, ms *store.MemoryStore, userID string, balance int64) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		UserID:           userID,
		AvailableBalance: decimal.NewFromInt(balance),
		InvestedAmount:   decimal.Zero,
		UpdatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func TestExecTx_RollsBackOnError(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 1000)
	ctx := context.Background()

	boom := errors.New("boom")
	err := ms.ExecTx(ctx, func(tx store.Tx) error {
		// Mutate everything, then fail: none of it may stick.
		if err := tx.ApplyTrade(ctx, "user1", decimal.NewFromInt(500), model.TxBuy); err != nil {
			return err
		}
		if err := tx.OpenHolding(ctx, "user1", "INFY", 5, decimal.NewFromInt(100)); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &model.Transaction{
			ID: "t1", UserID: "user1", Instrument: "INFY", Quantity: 5,
			PricePerUnit: decimal.NewFromInt(100), Type: model.TxBuy, Date: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected saga error, got %v", err)
	}

	account, _ := ms.GetAccount(ctx, "user1")
	if !account.AvailableBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("balance changed by rolled-back saga: %s", account.AvailableBalance)
	}
	if !account.InvestedAmount.IsZero() {
		t.Errorf("invested amount changed by rolled-back saga: %s", account.InvestedAmount)
	}
	if _, err := ms.GetHolding(ctx, "user1", "INFY"); !errors.Is(err, model.ErrHoldingNotFound) {
		t.Errorf("holding survived rolled-back saga: %v", err)
	}
	txns, _ := ms.ListTransactions(ctx, "user1")
	if len(txns) != 0 {
		t.Errorf("transaction survived rolled-back saga: %d entries", len(txns))
	}
}

func TestExecTx_CommitsOnSuccess(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 1000)
	ctx := context.Background()

	err := ms.ExecTx(ctx, func(tx store.Tx) error {
		if err := tx.ApplyTrade(ctx, "user1", decimal.NewFromInt(500), model.TxBuy); err != nil {
			return err
		}
		return tx.OpenHolding(ctx, "user1", "INFY", 5, decimal.NewFromInt(100))
	})
	if err != nil {
		t.Fatalf("saga failed: %v", err)
	}

	account, _ := ms.GetAccount(ctx, "user1")
	if !account.AvailableBalance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected balance 500, got %s", account.AvailableBalance)
	}
	if !account.InvestedAmount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected invested 500, got %s", account.InvestedAmount)
	}
	holding, err := ms.GetHolding(ctx, "user1", "INFY")
	if err != nil {
		t.Fatalf("holding not found after commit: %v", err)
	}
	if holding.Quantity != 5 {
		t.Errorf("expected quantity 5, got %d", holding.Quantity)
	}
}

func TestExecTx_GuardedDebits(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 100)
	ctx := context.Background()

	err := ms.ExecTx(ctx, func(tx store.Tx) error {
		return tx.ApplyTrade(ctx, "user1", decimal.NewFromInt(200), model.TxBuy)
	})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	err = ms.ExecTx(ctx, func(tx store.Tx) error {
		return tx.ApplyCashMovement(ctx, "user1", decimal.NewFromInt(200), model.TxWithdraw)
	})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSellFloorsInvestedAtZero(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 1000)
	ctx := context.Background()

	// Buy 1 at 100, then sell it at 300: the credit exceeds the cost basis
	// and invested_amount must clamp at zero rather than go negative.
	err := ms.ExecTx(ctx, func(tx store.Tx) error {
		if err := tx.ApplyTrade(ctx, "user1", decimal.NewFromInt(100), model.TxBuy); err != nil {
			return err
		}
		return tx.OpenHolding(ctx, "user1", "INFY", 1, decimal.NewFromInt(100))
	})
	if err != nil {
		t.Fatalf("buy saga failed: %v", err)
	}

	err = ms.ExecTx(ctx, func(tx store.Tx) error {
		if err := tx.AmendHolding(ctx, "user1", "INFY", 1, decimal.NewFromInt(300), model.TxSell); err != nil {
			return err
		}
		return tx.ApplyTrade(ctx, "user1", decimal.NewFromInt(300), model.TxSell)
	})
	if err != nil {
		t.Fatalf("sell saga failed: %v", err)
	}

	account, _ := ms.GetAccount(ctx, "user1")
	if account.InvestedAmount.IsNegative() {
		t.Errorf("invested amount went negative: %s", account.InvestedAmount)
	}
	if !account.InvestedAmount.IsZero() {
		t.Errorf("expected invested amount 0, got %s", account.InvestedAmount)
	}
	if !account.AvailableBalance.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("expected balance 1200, got %s", account.AvailableBalance)
	}
}
