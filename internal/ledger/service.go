// Package ledger provides the HTTP handlers and business logic for the
// trading ledger: buying and selling instruments against a virtual cash
// balance, cash deposits and withdrawals, and portfolio/history queries.
//
// Every operation runs as a single atomic saga — holding mutation, balance
// mutation, and transaction log append commit together or not at all.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradesim/ledger-engine/internal/costbasis"
	"github.com/tradesim/ledger-engine/internal/events"
	"github.com/tradesim/ledger-engine/internal/instrument"
	"github.com/tradesim/ledger-engine/internal/limits"
	"github.com/tradesim/ledger-engine/internal/metrics"
	"github.com/tradesim/ledger-engine/internal/model"
	"github.com/tradesim/ledger-engine/internal/store"
)

// Rejection messages are part of the caller contract; do not reword.
const (
	msgInsufficientBalance  = "Insufficient balance!"
	msgInsufficientQuantity = "Insufficient quantity!"
	msgStockNotFound        = "Stock not found!"
	msgAccountNotFound      = "Account not found!"
	msgAccountExists        = "Account already exists!"
	msgPositionLimit        = "Position limit exceeded!"
	msgExposureLimit        = "Exposure limit exceeded!"
	msgInternalError        = "Internal Server Error"
)

// Service orchestrates ledger sagas and serves them over HTTP. The store's
// ExecTx provides atomicity and row-level serialization; the service holds
// no locks of its own.
type Service struct {
	store     store.Store
	limiter   *limits.ExposureLimiter
	publisher events.Publisher
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new ledger service.
// Pass nil for hub if WebSocket broadcasting is not needed; a nil limiter
// disables exposure checks.
func NewService(st store.Store, limiter *limits.ExposureLimiter, publisher events.Publisher, hub *WSHub) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if limiter == nil {
		limiter = limits.NewExposureLimiter(0, decimal.Zero)
	}
	return &Service{
		store:     st,
		limiter:   limiter,
		publisher: publisher,
		wsHub:     hub,
	}
}

// --- Envelope ---

// Envelope is the response wrapper every ledger operation returns. The code
// field — not the HTTP status — is the success/failure channel: 200 with
// data on success, 200 with a message on business-rule rejection, 400 on
// internal failure.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for account provisioning.
type CreateAccountRequest struct {
	UserID         string          `json:"user_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// TradeRequest is the JSON body for POST /trade/buy and /trade/sell.
type TradeRequest struct {
	UserID    string          `json:"user_id"`
	StockName string          `json:"stock_name"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// CashRequest is the JSON body for POST /funds/add and /funds/withdraw.
type CashRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderResult echoes the executed order back to the caller. RealizedPnL is
// set on sells only: proceeds measured against the held average cost.
type OrderResult struct {
	TransactionID string           `json:"transaction_id"`
	UserID        string           `json:"user_id"`
	StockName     string           `json:"stock_name"`
	Quantity      int64            `json:"quantity"`
	Price         decimal.Decimal  `json:"price"`
	Total         decimal.Decimal  `json:"total"`
	Type          string           `json:"type"`
	RealizedPnL   *decimal.Decimal `json:"realized_pnl,omitempty"`
	ExecutedAt    time.Time        `json:"executed_at"`
}

// CashResult echoes an executed cash movement back to the caller.
type CashResult struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts
// Provisions an account seeded with an initial balance.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, Envelope{Code: 400, Message: "invalid request body"})
		return
	}
	if req.UserID == "" {
		writeEnvelope(w, Envelope{Code: 400, Message: "user_id is required"})
		return
	}
	if req.InitialBalance.IsNegative() {
		writeEnvelope(w, Envelope{Code: 400, Message: "initial_balance must not be negative"})
		return
	}

	account := &model.Account{
		UserID:           req.UserID,
		AvailableBalance: req.InitialBalance,
		InvestedAmount:   decimal.Zero,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, model.ErrAccountExists) {
			writeEnvelope(w, Envelope{Code: 200, Message: msgAccountExists})
			return
		}
		slog.Error("account creation failed", "user", req.UserID, "err", err)
		writeEnvelope(w, Envelope{Code: 400, Message: msgInternalError})
		return
	}

	slog.Info("account created", "user", req.UserID, "balance", req.InitialBalance.String())
	writeEnvelope(w, Envelope{Code: 200, Data: account})
}

// GetBalance handles GET /api/v1/accounts/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	account, err := s.store.GetAccount(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			writeEnvelope(w, Envelope{Code: 200, Message: msgAccountNotFound})
			return
		}
		slog.Error("balance lookup failed", "user", userID, "err", err)
		writeEnvelope(w, Envelope{Code: 400, Message: msgInternalError})
		return
	}

	writeEnvelope(w, Envelope{Code: 200, Data: account})
}

// Buy handles POST /api/v1/trade/buy
// Debits the balance, opens or re-averages the holding, and logs the trade
// as one atomic saga.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTradeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.executeBuy(r.Context(), req.UserID, req.StockName, req.Quantity, req.Price)
	metrics.SagaLatency.WithLabelValues("buy").Observe(time.Since(start).Seconds())

	if err != nil {
		s.rejectOrFail(w, "buy", req.UserID, err)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(model.TxBuy).Inc()
	slog.Info("buy executed",
		"transaction_id", result.TransactionID,
		"user", req.UserID,
		"stock", result.StockName,
		"qty", req.Quantity,
		"price", req.Price.String(),
		"total", result.Total.String(),
	)
	writeEnvelope(w, Envelope{Code: 200, Data: result})
}

// Sell handles POST /api/v1/trade/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTradeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.executeSell(r.Context(), req.UserID, req.StockName, req.Quantity, req.Price)
	metrics.SagaLatency.WithLabelValues("sell").Observe(time.Since(start).Seconds())

	if err != nil {
		s.rejectOrFail(w, "sell", req.UserID, err)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(model.TxSell).Inc()
	slog.Info("sell executed",
		"transaction_id", result.TransactionID,
		"user", req.UserID,
		"stock", result.StockName,
		"qty", req.Quantity,
		"price", req.Price.String(),
		"total", result.Total.String(),
	)
	writeEnvelope(w, Envelope{Code: 200, Data: result})
}

// AddMoney handles POST /api/v1/funds/add
func (s *Service) AddMoney(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCashRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.executeCashMovement(r.Context(), req.UserID, req.Amount, model.TxAdd)
	metrics.SagaLatency.WithLabelValues("add").Observe(time.Since(start).Seconds())

	if err != nil {
		s.rejectOrFail(w, "add", req.UserID, err)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(model.TxAdd).Inc()
	slog.Info("deposit executed", "transaction_id", result.TransactionID, "user", req.UserID, "amount", req.Amount.String())
	writeEnvelope(w, Envelope{Code: 200, Data: result})
}

// WithdrawMoney handles POST /api/v1/funds/withdraw
// Rejects withdrawals exceeding the available balance.
func (s *Service) WithdrawMoney(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCashRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.executeCashMovement(r.Context(), req.UserID, req.Amount, model.TxWithdraw)
	metrics.SagaLatency.WithLabelValues("withdraw").Observe(time.Since(start).Seconds())

	if err != nil {
		s.rejectOrFail(w, "withdraw", req.UserID, err)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(model.TxWithdraw).Inc()
	slog.Info("withdrawal executed", "transaction_id", result.TransactionID, "user", req.UserID, "amount", req.Amount.String())
	writeEnvelope(w, Envelope{Code: 200, Data: result})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns the account balances and all open holdings with their cost basis.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			writeEnvelope(w, Envelope{Code: 200, Message: msgAccountNotFound})
			return
		}
		slog.Error("portfolio lookup failed", "user", userID, "err", err)
		writeEnvelope(w, Envelope{Code: 400, Message: msgInternalError})
		return
	}

	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		slog.Error("holdings lookup failed", "user", userID, "err", err)
		writeEnvelope(w, Envelope{Code: 400, Message: msgInternalError})
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}

	holdingsValue := decimal.Zero
	for _, h := range holdings {
		holdingsValue = holdingsValue.Add(h.Value())
	}

	portfolio := model.Portfolio{
		UserID:           userID,
		AvailableBalance: account.AvailableBalance,
		InvestedAmount:   account.InvestedAmount,
		Holdings:         holdings,
		HoldingsValue:    holdingsValue,
	}

	writeEnvelope(w, Envelope{Code: 200, Data: portfolio})
}

// GetTransactions handles GET /api/v1/transactions/{userID}
// Returns the user's transaction history, newest first.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := s.store.ListTransactions(r.Context(), userID)
	if err != nil {
		slog.Error("transaction history lookup failed", "user", userID, "err", err)
		writeEnvelope(w, Envelope{Code: 400, Message: msgInternalError})
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	writeEnvelope(w, Envelope{Code: 200, Data: txns})
}

// --- Sagas ---

func (s *Service) executeBuy(ctx context.Context, userID, stockName string, quantity int64, price decimal.Decimal) (*OrderResult, error) {
	symbol, err := instrument.Parse(stockName)
	if err != nil {
		return nil, err
	}

	total := costbasis.Notional(quantity, price)
	txn := &model.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Instrument:   symbol.Name,
		Quantity:     quantity,
		PricePerUnit: price,
		Type:         model.TxBuy,
		Date:         time.Now().UTC(),
	}

	err = s.store.ExecTx(ctx, func(tx store.Tx) error {
		account, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if account.AvailableBalance.LessThan(total) {
			return model.ErrInsufficientBalance
		}

		held := int64(0)
		holding, err := tx.GetHoldingForUpdate(ctx, userID, symbol.Name)
		switch {
		case err == nil:
			held = holding.Quantity
		case errors.Is(err, model.ErrHoldingNotFound):
			// First buy of this instrument.
		default:
			return err
		}

		if err := s.limiter.CheckBuy(held, quantity, price, account.InvestedAmount); err != nil {
			return err
		}

		if holding == nil {
			if err := tx.OpenHolding(ctx, userID, symbol.Name, quantity, price); err != nil {
				return err
			}
		} else {
			if err := tx.AmendHolding(ctx, userID, symbol.Name, quantity, price, model.TxBuy); err != nil {
				return err
			}
		}

		if err := tx.ApplyTrade(ctx, userID, total, model.TxBuy); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(txn)

	return &OrderResult{
		TransactionID: txn.ID,
		UserID:        userID,
		StockName:     symbol.Name,
		Quantity:      quantity,
		Price:         price,
		Total:         total,
		Type:          model.TxBuy,
		ExecutedAt:    txn.Date,
	}, nil
}

func (s *Service) executeSell(ctx context.Context, userID, stockName string, quantity int64, price decimal.Decimal) (*OrderResult, error) {
	symbol, err := instrument.Parse(stockName)
	if err != nil {
		return nil, err
	}

	total := costbasis.Notional(quantity, price)
	txn := &model.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Instrument:   symbol.Name,
		Quantity:     quantity,
		PricePerUnit: price,
		Type:         model.TxSell,
		Date:         time.Now().UTC(),
	}

	var averagePrice decimal.Decimal
	err = s.store.ExecTx(ctx, func(tx store.Tx) error {
		holding, err := tx.GetHoldingForUpdate(ctx, userID, symbol.Name)
		if err != nil {
			return err
		}
		if holding.Quantity < quantity {
			return model.ErrInsufficientQuantity
		}
		averagePrice = holding.AveragePrice

		if err := tx.AmendHolding(ctx, userID, symbol.Name, quantity, price, model.TxSell); err != nil {
			return err
		}
		if err := tx.ApplyTrade(ctx, userID, total, model.TxSell); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(txn)

	pnl := costbasis.RealizedPnL(quantity, averagePrice, price)
	return &OrderResult{
		TransactionID: txn.ID,
		UserID:        userID,
		StockName:     symbol.Name,
		Quantity:      quantity,
		Price:         price,
		Total:         total,
		Type:          model.TxSell,
		RealizedPnL:   &pnl,
		ExecutedAt:    txn.Date,
	}, nil
}

func (s *Service) executeCashMovement(ctx context.Context, userID string, amount decimal.Decimal, direction string) (*CashResult, error) {
	// Cash movements log with an empty instrument and quantity 1; the amount
	// rides in price_per_unit. Part of the caller contract.
	txn := &model.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Instrument:   "",
		Quantity:     1,
		PricePerUnit: amount,
		Type:         direction,
		Date:         time.Now().UTC(),
	}

	err := s.store.ExecTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAccountForUpdate(ctx, userID); err != nil {
			return err
		}
		if err := tx.ApplyCashMovement(ctx, userID, amount, direction); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(txn)

	return &CashResult{
		TransactionID: txn.ID,
		UserID:        userID,
		Amount:        amount,
		Type:          direction,
		ExecutedAt:    txn.Date,
	}, nil
}

// afterCommit fans a committed transaction out to the WebSocket hub and the
// event broker. Neither can fail the already-committed saga.
func (s *Service) afterCommit(txn *model.Transaction) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "transaction_executed",
			TransactionID: txn.ID,
			UserID:        txn.UserID,
			Instrument:    txn.Instrument,
			TxType:        txn.Type,
			Quantity:      txn.Quantity,
			Price:         txn.PricePerUnit.String(),
		})
	}

	// Publish on a fresh context: the request context may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishTransaction(ctx, txn); err != nil {
		metrics.EventPublishFailures.Inc()
		slog.Error("event publish failed", "transaction_id", txn.ID, "err", err)
	}
}

// --- Request decoding and error mapping ---

func decodeTradeRequest(w http.ResponseWriter, r *http.Request) (TradeRequest, bool) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, Envelope{Code: 400, Message: "invalid request body"})
		return req, false
	}
	if req.UserID == "" {
		writeEnvelope(w, Envelope{Code: 400, Message: "user_id is required"})
		return req, false
	}
	if req.Quantity <= 0 {
		writeEnvelope(w, Envelope{Code: 400, Message: "quantity must be positive"})
		return req, false
	}
	if !req.Price.IsPositive() {
		writeEnvelope(w, Envelope{Code: 400, Message: "price must be positive"})
		return req, false
	}
	return req, true
}

func decodeCashRequest(w http.ResponseWriter, r *http.Request) (CashRequest, bool) {
	var req CashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, Envelope{Code: 400, Message: "invalid request body"})
		return req, false
	}
	if req.UserID == "" {
		writeEnvelope(w, Envelope{Code: 400, Message: "user_id is required"})
		return req, false
	}
	if !req.Amount.IsPositive() {
		writeEnvelope(w, Envelope{Code: 400, Message: "amount must be positive"})
		return req, false
	}
	return req, true
}

// rejectOrFail converts a saga error into the envelope: business rejections
// keep code 200 with a contract message, everything else collapses to an
// internal failure with code 400.
func (s *Service) rejectOrFail(w http.ResponseWriter, operation, userID string, err error) {
	if msg, reason, ok := rejectionFor(err); ok {
		metrics.RejectionsTotal.WithLabelValues(reason).Inc()
		slog.Info("operation rejected", "operation", operation, "user", userID, "reason", reason)
		writeEnvelope(w, Envelope{Code: 200, Message: msg})
		return
	}

	slog.Error("operation failed", "operation", operation, "user", userID, "err", err)
	writeEnvelope(w, Envelope{Code: 400, Message: msgInternalError})
}

func rejectionFor(err error) (message, reason string, ok bool) {
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		return msgInsufficientBalance, "insufficient_balance", true
	case errors.Is(err, model.ErrInsufficientQuantity):
		return msgInsufficientQuantity, "insufficient_quantity", true
	case errors.Is(err, model.ErrHoldingNotFound):
		return msgStockNotFound, "stock_not_found", true
	case errors.Is(err, model.ErrAccountNotFound):
		return msgAccountNotFound, "account_not_found", true
	case errors.Is(err, limits.ErrPositionLimitExceeded):
		return msgPositionLimit, "position_limit", true
	case errors.Is(err, limits.ErrExposureLimitExceeded):
		return msgExposureLimit, "exposure_limit", true
	case errors.Is(err, instrument.ErrInvalidSymbol), errors.Is(err, instrument.ErrInvalidExchange):
		return "Invalid stock symbol!", "invalid_symbol", true
	}
	return "", "", false
}

// writeEnvelope writes the envelope, mirroring its code as the HTTP status.
func writeEnvelope(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Code)
	json.NewEncoder(w).Encode(env)
}
