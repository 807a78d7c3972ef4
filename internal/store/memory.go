package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/ledger-engine/internal/costbasis"
	"github.com/tradesim/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// ExecTx applies the saga to a copy of the state and swaps it in only when
// the saga succeeds, matching the all-or-nothing semantics of the
// PostgreSQL implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	accounts     map[string]*model.Account
	holdings     map[string]map[string]*model.Holding // userID → instrument → holding
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			accounts: make(map[string]*model.Account),
			holdings: make(map[string]map[string]*model.Holding),
		},
	}
}

func (s *memState) clone() *memState {
	next := &memState{
		accounts:     make(map[string]*model.Account, len(s.accounts)),
		holdings:     make(map[string]map[string]*model.Holding, len(s.holdings)),
		transactions: make([]model.Transaction, len(s.transactions)),
	}
	for id, a := range s.accounts {
		copy := *a
		next.accounts[id] = &copy
	}
	for id, positions := range s.holdings {
		next.holdings[id] = make(map[string]*model.Holding, len(positions))
		for instrument, h := range positions {
			copy := *h
			next.holdings[id][instrument] = &copy
		}
	}
	copy(next.transactions, s.transactions)
	return next
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.accounts[a.UserID]; ok {
		return model.ErrAccountExists
	}
	copy := *a
	s.state.accounts[a.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.state.accounts[userID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, instrument string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.state.holdings[userID][instrument]
	if !ok {
		return nil, model.ErrHoldingNotFound
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, h := range s.state.holdings[userID] {
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Instrument < holdings[j].Instrument
	})
	return holdings, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []model.Transaction
	// Newest first, matching the PostgreSQL ordering.
	for i := len(s.state.transactions) - 1; i >= 0; i-- {
		if s.state.transactions[i].UserID == userID {
			txns = append(txns, s.state.transactions[i])
		}
	}
	return txns, nil
}

// ExecTx serializes sagas under the write lock. fn mutates a clone of the
// state; the clone replaces the live state only when fn succeeds.
func (s *MemoryStore) ExecTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

// memTx implements Tx against a private clone of the store state.
type memTx struct {
	state *memState
}

func (t *memTx) GetAccountForUpdate(_ context.Context, userID string) (*model.Account, error) {
	a, ok := t.state.accounts[userID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (t *memTx) ApplyTrade(_ context.Context, userID string, amount decimal.Decimal, direction string) error {
	a, ok := t.state.accounts[userID]
	if !ok {
		return model.ErrAccountNotFound
	}

	switch direction {
	case model.TxBuy:
		if a.AvailableBalance.LessThan(amount) {
			return model.ErrInsufficientBalance
		}
		a.AvailableBalance = a.AvailableBalance.Sub(amount)
		a.InvestedAmount = a.InvestedAmount.Add(amount)
	case model.TxSell:
		a.AvailableBalance = a.AvailableBalance.Add(amount)
		a.InvestedAmount = a.InvestedAmount.Sub(amount)
		if a.InvestedAmount.IsNegative() {
			a.InvestedAmount = decimal.Zero
		}
	default:
		return model.ErrInvalidTransactionType
	}

	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) ApplyCashMovement(_ context.Context, userID string, amount decimal.Decimal, direction string) error {
	a, ok := t.state.accounts[userID]
	if !ok {
		return model.ErrAccountNotFound
	}

	switch direction {
	case model.TxAdd:
		a.AvailableBalance = a.AvailableBalance.Add(amount)
	case model.TxWithdraw:
		if a.AvailableBalance.LessThan(amount) {
			return model.ErrInsufficientBalance
		}
		a.AvailableBalance = a.AvailableBalance.Sub(amount)
	default:
		return model.ErrInvalidTransactionType
	}

	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) GetHoldingForUpdate(_ context.Context, userID, instrument string) (*model.Holding, error) {
	h, ok := t.state.holdings[userID][instrument]
	if !ok {
		return nil, model.ErrHoldingNotFound
	}
	copy := *h
	return &copy, nil
}

func (t *memTx) OpenHolding(_ context.Context, userID, instrument string, quantity int64, price decimal.Decimal) error {
	if t.state.holdings[userID] == nil {
		t.state.holdings[userID] = make(map[string]*model.Holding)
	}
	t.state.holdings[userID][instrument] = &model.Holding{
		UserID:       userID,
		Instrument:   instrument,
		Quantity:     quantity,
		AveragePrice: price.Round(costbasis.Scale),
		UpdatedAt:    time.Now().UTC(),
	}
	return nil
}

func (t *memTx) AmendHolding(_ context.Context, userID, instrument string, quantity int64, price decimal.Decimal, direction string) error {
	h, ok := t.state.holdings[userID][instrument]
	if !ok {
		return model.ErrHoldingNotFound
	}

	switch direction {
	case model.TxBuy:
		newAvg, err := costbasis.WeightedAverage(h.Quantity, h.AveragePrice, quantity, price)
		if err != nil {
			return err
		}
		h.Quantity += quantity
		h.AveragePrice = newAvg
		h.UpdatedAt = time.Now().UTC()
	case model.TxSell:
		if h.Quantity < quantity {
			return model.ErrInsufficientQuantity
		}
		h.Quantity -= quantity
		h.UpdatedAt = time.Now().UTC()
		if h.Quantity == 0 {
			delete(t.state.holdings[userID], instrument)
		}
	default:
		return model.ErrInvalidTransactionType
	}
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, txn *model.Transaction) error {
	if !model.ValidTransactionType(txn.Type) {
		return model.ErrInvalidTransactionType
	}
	t.state.transactions = append(t.state.transactions, *txn)
	return nil
}
