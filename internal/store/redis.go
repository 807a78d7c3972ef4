package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tradesim/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over account and holdings reads. Sagas go to the primary store and
// invalidate the cache entries of every user they touched; reads check Redis
// first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

// ExecTx delegates the saga to the primary store, recording which users it
// mutated, and drops their cache entries after a successful commit.
func (s *CachedStore) ExecTx(ctx context.Context, fn func(tx Tx) error) error {
	rec := &recordingTx{}
	err := s.primary.ExecTx(ctx, func(tx Tx) error {
		rec.inner = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}
	for _, userID := range rec.touched {
		s.rdb.Del(ctx, accountKey(userID), holdingsKey(userID))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(userID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(userID), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetHolding(ctx context.Context, userID, instrument string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, instrument)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.UserID), data, s.ttl)
	}
}

func accountKey(userID string) string  { return fmt.Sprintf("account:%s", userID) }
func holdingsKey(userID string) string { return fmt.Sprintf("holdings:%s", userID) }

// recordingTx forwards Tx calls to the primary transaction while recording
// the user IDs whose rows were mutated.
type recordingTx struct {
	inner   Tx
	touched []string
}

func (r *recordingTx) record(userID string) {
	for _, id := range r.touched {
		if id == userID {
			return
		}
	}
	r.touched = append(r.touched, userID)
}

func (r *recordingTx) GetAccountForUpdate(ctx context.Context, userID string) (*model.Account, error) {
	return r.inner.GetAccountForUpdate(ctx, userID)
}

func (r *recordingTx) ApplyTrade(ctx context.Context, userID string, amount decimal.Decimal, direction string) error {
	r.record(userID)
	return r.inner.ApplyTrade(ctx, userID, amount, direction)
}

func (r *recordingTx) ApplyCashMovement(ctx context.Context, userID string, amount decimal.Decimal, direction string) error {
	r.record(userID)
	return r.inner.ApplyCashMovement(ctx, userID, amount, direction)
}

func (r *recordingTx) GetHoldingForUpdate(ctx context.Context, userID, instrument string) (*model.Holding, error) {
	return r.inner.GetHoldingForUpdate(ctx, userID, instrument)
}

func (r *recordingTx) OpenHolding(ctx context.Context, userID, instrument string, quantity int64, price decimal.Decimal) error {
	r.record(userID)
	return r.inner.OpenHolding(ctx, userID, instrument, quantity, price)
}

func (r *recordingTx) AmendHolding(ctx context.Context, userID, instrument string, quantity int64, price decimal.Decimal, direction string) error {
	r.record(userID)
	return r.inner.AmendHolding(ctx, userID, instrument, quantity, price, direction)
}

func (r *recordingTx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	r.record(txn.UserID)
	return r.inner.AppendTransaction(ctx, txn)
}
