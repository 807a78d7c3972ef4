package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradesim/ledger-engine/internal/costbasis"
	"github.com/tradesim/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Sagas run inside a database transaction with row-level locks, so two
// concurrent trades against the same account serialize at the row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, available_balance, invested_amount, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		a.UserID, a.AvailableBalance.String(), a.InvestedAmount.String(), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAccountExists
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT user_id, available_balance::TEXT, invested_amount::TEXT, updated_at
		 FROM accounts WHERE user_id = $1`, userID))
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID, instrument string) (*model.Holding, error) {
	return scanHolding(s.pool.QueryRow(ctx,
		`SELECT user_id, instrument, quantity, average_price::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 AND instrument = $2`, userID, instrument))
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, instrument, quantity, average_price::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 ORDER BY instrument`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var avgS string
		if err := rows.Scan(&h.UserID, &h.Instrument, &h.Quantity, &avgS, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.AveragePrice, _ = decimal.NewFromString(avgS)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, instrument, quantity, price_per_unit::TEXT, type, transaction_date
		 FROM transactions WHERE user_id = $1 ORDER BY transaction_date DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var priceS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Instrument, &t.Quantity, &priceS, &t.Type, &t.Date); err != nil {
			return nil, err
		}
		t.PricePerUnit, _ = decimal.NewFromString(priceS)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ExecTx runs fn inside a database transaction. Any error from fn rolls the
// whole saga back; nothing partial ever becomes visible.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = dbTx.Rollback(ctx)
		}
	}()

	if err := fn(&pgTx{tx: dbTx}); err != nil {
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// pgTx implements Tx against an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, userID string) (*model.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		`SELECT user_id, available_balance::TEXT, invested_amount::TEXT, updated_at
		 FROM accounts WHERE user_id = $1
		 FOR UPDATE`, userID))
}

func (t *pgTx) ApplyTrade(ctx context.Context, userID string, amount decimal.Decimal, direction string) error {
	switch direction {
	case model.TxBuy:
		tag, err := t.tx.Exec(ctx,
			`UPDATE accounts
			 SET available_balance = available_balance - $2::NUMERIC,
			     invested_amount = invested_amount + $2::NUMERIC,
			     updated_at = now()
			 WHERE user_id = $1 AND available_balance >= $2::NUMERIC`,
			userID, amount.String())
		if err != nil {
			return fmt.Errorf("apply buy for %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrInsufficientBalance
		}
		return nil

	case model.TxSell:
		// invested_amount is floored at zero: the decrement uses the trade's
		// execution price, which can exceed the position's cost basis.
		tag, err := t.tx.Exec(ctx,
			`UPDATE accounts
			 SET available_balance = available_balance + $2::NUMERIC,
			     invested_amount = GREATEST(invested_amount - $2::NUMERIC, 0),
			     updated_at = now()
			 WHERE user_id = $1`,
			userID, amount.String())
		if err != nil {
			return fmt.Errorf("apply sell for %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrAccountNotFound
		}
		return nil

	default:
		return model.ErrInvalidTransactionType
	}
}

func (t *pgTx) ApplyCashMovement(ctx context.Context, userID string, amount decimal.Decimal, direction string) error {
	switch direction {
	case model.TxAdd:
		tag, err := t.tx.Exec(ctx,
			`UPDATE accounts
			 SET available_balance = available_balance + $2::NUMERIC, updated_at = now()
			 WHERE user_id = $1`,
			userID, amount.String())
		if err != nil {
			return fmt.Errorf("apply deposit for %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrAccountNotFound
		}
		return nil

	case model.TxWithdraw:
		tag, err := t.tx.Exec(ctx,
			`UPDATE accounts
			 SET available_balance = available_balance - $2::NUMERIC, updated_at = now()
			 WHERE user_id = $1 AND available_balance >= $2::NUMERIC`,
			userID, amount.String())
		if err != nil {
			return fmt.Errorf("apply withdrawal for %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrInsufficientBalance
		}
		return nil

	default:
		return model.ErrInvalidTransactionType
	}
}

func (t *pgTx) GetHoldingForUpdate(ctx context.Context, userID, instrument string) (*model.Holding, error) {
	return scanHolding(t.tx.QueryRow(ctx,
		`SELECT user_id, instrument, quantity, average_price::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 AND instrument = $2
		 FOR UPDATE`, userID, instrument))
}

func (t *pgTx) OpenHolding(ctx context.Context, userID, instrument string, quantity int64, price decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO holdings (user_id, instrument, quantity, average_price, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, now())`,
		userID, instrument, quantity, price.Round(costbasis.Scale).String())
	if err != nil {
		return fmt.Errorf("open holding %s/%s: %w", userID, instrument, err)
	}
	return nil
}

func (t *pgTx) AmendHolding(ctx context.Context, userID, instrument string, quantity int64, price decimal.Decimal, direction string) error {
	switch direction {
	case model.TxBuy:
		// The row is already locked by GetHoldingForUpdate earlier in the
		// saga; re-read inside the same transaction and write the new
		// absolute state.
		h, err := t.GetHoldingForUpdate(ctx, userID, instrument)
		if err != nil {
			return err
		}
		newAvg, err := costbasis.WeightedAverage(h.Quantity, h.AveragePrice, quantity, price)
		if err != nil {
			return err
		}
		tag, err := t.tx.Exec(ctx,
			`UPDATE holdings
			 SET quantity = $3, average_price = $4::NUMERIC, updated_at = now()
			 WHERE user_id = $1 AND instrument = $2`,
			userID, instrument, h.Quantity+quantity, newAvg.String())
		if err != nil {
			return fmt.Errorf("amend holding %s/%s: %w", userID, instrument, err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrHoldingNotFound
		}
		return nil

	case model.TxSell:
		tag, err := t.tx.Exec(ctx,
			`UPDATE holdings
			 SET quantity = quantity - $3, updated_at = now()
			 WHERE user_id = $1 AND instrument = $2 AND quantity >= $3`,
			userID, instrument, quantity)
		if err != nil {
			return fmt.Errorf("amend holding %s/%s: %w", userID, instrument, err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrInsufficientQuantity
		}
		// Fully closed positions are removed; a later buy re-opens fresh.
		_, err = t.tx.Exec(ctx,
			`DELETE FROM holdings WHERE user_id = $1 AND instrument = $2 AND quantity = 0`,
			userID, instrument)
		if err != nil {
			return fmt.Errorf("close holding %s/%s: %w", userID, instrument, err)
		}
		return nil

	default:
		return model.ErrInvalidTransactionType
	}
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	if !model.ValidTransactionType(txn.Type) {
		return model.ErrInvalidTransactionType
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, instrument, quantity, price_per_unit, type, transaction_date)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		txn.ID, txn.UserID, txn.Instrument, txn.Quantity,
		txn.PricePerUnit.String(), txn.Type, txn.Date)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", txn.ID, err)
	}
	return nil
}

// --- Row scanning helpers ---

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var availableS, investedS string

	err := row.Scan(&a.UserID, &availableS, &investedS, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.AvailableBalance, _ = decimal.NewFromString(availableS)
	a.InvestedAmount, _ = decimal.NewFromString(investedS)
	return &a, nil
}

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	var avgS string

	err := row.Scan(&h.UserID, &h.Instrument, &h.Quantity, &avgS, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrHoldingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan holding: %w", err)
	}

	h.AveragePrice, _ = decimal.NewFromString(avgS)
	return &h, nil
}
