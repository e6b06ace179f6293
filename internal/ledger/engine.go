// Package ledger applies virtual trades to user portfolios: cash, positions,
// weighted average cost and the transaction log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/logger"
	"github.com/STTM-NSU/virtual-trading/internal/metrics"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	_defaultMaxAttempts   = 10
	_retryInitialInterval = 5 * time.Millisecond
	_retryMaxInterval     = 250 * time.Millisecond
	_rollbackTimeout      = 5 * time.Second
)

// Engine serializes trades per user inside the process. Writers in other
// processes sharing the store are caught by the store's version check, and
// the losing trade is re-applied to the fresh portfolio.
type Engine struct {
	store       store.Store
	locks       *userLocks
	logger      logger.Logger
	maxAttempts uint

	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxAttempts bounds how many times a trade is re-applied after losing a
// write race.
func WithMaxAttempts(n uint) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		locks:       newUserLocks(),
		logger:      logger.Nop(),
		maxAttempts: _defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type Result struct {
	Message     string
	Portfolio   model.UserPortfolio
	Transaction model.Transaction
}

func (e *Engine) Buy(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (Result, error) {
	start := time.Now()
	res, err := e.buy(ctx, userID, symbol, name, shares, price)
	observe(model.Buy, start, err)
	return res, err
}

func (e *Engine) buy(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (Result, error) {
	userID, symbol, err := validateTrade(userID, symbol, shares, price)
	if err != nil {
		return Result{}, err
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	return withRetry(ctx, e, func() (Result, error) {
		return e.applyBuy(ctx, userID, symbol, name, shares, price)
	})
}

func (e *Engine) applyBuy(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (Result, error) {
	p, err := e.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	totalCost := shares.Mul(price)
	if p.Cash.LessThan(totalCost) {
		return Result{}, fmt.Errorf("%w: cost %s exceeds cash %s",
			InsufficientFundsError, totalCost.StringFixed(2), p.Cash.StringFixed(2))
	}

	prev := p.Clone()
	item, held := p.Items[symbol]
	if held {
		totalShares := item.Shares.Add(shares)
		item.AverageCost = item.CostBasis().Add(totalCost).Div(totalShares)
		item.Shares = totalShares
		item.CurrentPrice = price
		if item.Name == "" {
			item.Name = name
		}
	} else {
		item = model.PortfolioItem{
			Symbol:       symbol,
			Name:         name,
			Shares:       shares,
			AverageCost:  price,
			CurrentPrice: price,
		}
	}
	p.Items[symbol] = item
	p.Cash = p.Cash.Sub(totalCost)
	p.LastUpdated = e.now()

	tx := e.newTransaction(p, item, model.Buy, shares, price)
	if err := e.commit(ctx, prev, p, tx); err != nil {
		return Result{}, err
	}
	p.Version++

	e.logger.Debugf("user %s bought %s %s @ %s, cash left %s", userID, shares, symbol, price, p.Cash)
	return Result{
		Message:     fmt.Sprintf("Successfully purchased %s shares of %s", shares, symbol),
		Portfolio:   p,
		Transaction: tx,
	}, nil
}

func (e *Engine) Sell(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (Result, error) {
	start := time.Now()
	res, err := e.sell(ctx, userID, symbol, name, shares, price)
	observe(model.Sell, start, err)
	return res, err
}

func (e *Engine) sell(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (Result, error) {
	userID, symbol, err := validateTrade(userID, symbol, shares, price)
	if err != nil {
		return Result{}, err
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	return withRetry(ctx, e, func() (Result, error) {
		return e.applySell(ctx, userID, symbol, name, shares, price)
	})
}

func (e *Engine) applySell(ctx context.Context, userID, symbol, name string, shares, price decimal.Decimal) (Result, error) {
	p, err := e.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	item, held := p.Items[symbol]
	if !held {
		return Result{}, fmt.Errorf("%w: you don't own any shares of %s", NoPositionError, symbol)
	}
	if shares.GreaterThan(item.Shares) {
		return Result{}, fmt.Errorf("%w: you only have %s shares of %s", InsufficientSharesError, item.Shares, symbol)
	}

	prev := p.Clone()
	if item.Name == "" {
		item.Name = name
	}
	if shares.Equal(item.Shares) {
		delete(p.Items, symbol)
	} else {
		item.Shares = item.Shares.Sub(shares)
		item.CurrentPrice = price
		p.Items[symbol] = item
	}
	p.Cash = p.Cash.Add(shares.Mul(price))
	p.LastUpdated = e.now()

	tx := e.newTransaction(p, item, model.Sell, shares, price)
	if err := e.commit(ctx, prev, p, tx); err != nil {
		return Result{}, err
	}
	p.Version++

	e.logger.Debugf("user %s sold %s %s @ %s, cash now %s", userID, shares, symbol, price, p.Cash)
	return Result{
		Message:     fmt.Sprintf("Successfully sold %s shares of %s", shares, symbol),
		Portfolio:   p,
		Transaction: tx,
	}, nil
}

// RefreshPrices marks held positions at the supplied prices. Symbols that are
// not held are ignored, held symbols without an update keep their price. When
// a symbol appears more than once the last update wins.
func (e *Engine) RefreshPrices(ctx context.Context, userID string, updates []model.PriceUpdate) (model.UserPortfolio, error) {
	const op = "refresh"
	start := time.Now()

	p, err := e.refreshPrices(ctx, userID, updates)
	metrics.TradeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.TradesTotal.WithLabelValues(op, outcome(err)).Inc()
	return p, err
}

func (e *Engine) refreshPrices(ctx context.Context, userID string, updates []model.PriceUpdate) (model.UserPortfolio, error) {
	userID, err := validateUser(userID)
	if err != nil {
		return model.UserPortfolio{}, err
	}

	prices := make(map[string]decimal.Decimal, len(updates))
	for _, u := range updates {
		symbol, err := normalizeSymbol(u.Symbol)
		if err != nil {
			return model.UserPortfolio{}, err
		}
		if u.Price.IsNegative() {
			return model.UserPortfolio{}, fmt.Errorf("%w: negative price %s for %s", InvalidQuantityError, u.Price, symbol)
		}
		prices[symbol] = u.Price
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	return withRetry(ctx, e, func() (model.UserPortfolio, error) {
		return e.applyPrices(ctx, userID, prices)
	})
}

func (e *Engine) applyPrices(ctx context.Context, userID string, prices map[string]decimal.Decimal) (model.UserPortfolio, error) {
	p, err := e.load(ctx, userID)
	if err != nil {
		return model.UserPortfolio{}, err
	}

	for symbol, item := range p.Items {
		if price, ok := prices[symbol]; ok {
			item.CurrentPrice = price
			p.Items[symbol] = item
		}
	}
	p.LastUpdated = e.now()

	if err := e.store.Put(context.WithoutCancel(ctx), p); err != nil {
		if errors.Is(err, store.ConflictError) {
			return model.UserPortfolio{}, err
		}
		return model.UserPortfolio{}, fmt.Errorf("%w: can't save refreshed portfolio: %w", StoreUnavailableError, err)
	}
	p.Version++

	return p, nil
}

// Portfolio returns the user's current portfolio, creating it on first access.
func (e *Engine) Portfolio(ctx context.Context, userID string) (model.UserPortfolio, error) {
	userID, err := validateUser(userID)
	if err != nil {
		return model.UserPortfolio{}, err
	}
	return e.load(ctx, userID)
}

// Transactions returns the user's executed trades newest first.
func (e *Engine) Transactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	userID, err := validateUser(userID)
	if err != nil {
		return nil, err
	}

	txs, err := e.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't list transactions: %w", StoreUnavailableError, err)
	}
	return txs, nil
}

func (e *Engine) load(ctx context.Context, userID string) (model.UserPortfolio, error) {
	p, err := e.store.Get(ctx, userID)
	if err != nil {
		return model.UserPortfolio{}, fmt.Errorf("%w: can't load portfolio: %w", StoreUnavailableError, err)
	}
	if p.Items == nil {
		p.Items = make(map[string]model.PortfolioItem)
	}
	return p, nil
}

// commit persists next and tx. It ignores caller cancellation: once a trade
// starts writing it either lands completely or prev is restored. A lost
// write race is returned as is so the trade can be re-applied.
//
// Stores without Commit get Put then AppendTransaction. The restoring Put
// bypasses any guarding breaker, since the failed append may just have
// opened it.
func (e *Engine) commit(ctx context.Context, prev, next model.UserPortfolio, tx model.Transaction) error {
	ctx = context.WithoutCancel(ctx)

	if c, ok := e.store.(store.Committer); ok {
		if err := c.Commit(ctx, next, tx); err != nil {
			if errors.Is(err, store.ConflictError) {
				return err
			}
			return fmt.Errorf("%w: can't commit trade: %w", StoreUnavailableError, err)
		}
		return nil
	}

	if err := e.store.Put(ctx, next); err != nil {
		if errors.Is(err, store.ConflictError) {
			return err
		}
		return fmt.Errorf("%w: can't save portfolio: %w", StoreUnavailableError, err)
	}
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		if rbErr := e.restore(ctx, prev, next.Version+1); rbErr != nil {
			e.logger.Errorf("%s: can't restore portfolio of %s after failed transaction append", rbErr, prev.UserID)
			return fmt.Errorf("%w: can't record transaction (%w), restore failed: %w", StoreUnavailableError, err, rbErr)
		}
		return fmt.Errorf("%w: can't record transaction: %w", StoreUnavailableError, err)
	}
	return nil
}

// restore writes prev back over the version the failed trade produced.
func (e *Engine) restore(ctx context.Context, prev model.UserPortfolio, version int64) error {
	ctx, cancel := context.WithTimeout(ctx, _rollbackTimeout)
	defer cancel()

	prev.Version = version
	return store.Unguarded(e.store).Put(ctx, prev)
}

// withRetry runs fn again, with backoff, for as long as it loses write races
// and attempts remain. Other failures end the retry immediately.
func withRetry[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = _retryInitialInterval
	b.MaxInterval = _retryMaxInterval

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := fn()
		if err != nil && !errors.Is(err, store.ConflictError) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.maxAttempts))

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	switch {
	case err == nil, IsRejection(err), errors.Is(err, StoreUnavailableError):
		return res, err
	case errors.Is(err, store.ConflictError):
		return res, fmt.Errorf("%w: gave up after %d conflicting writes: %w", StoreUnavailableError, attempt, err)
	default:
		return res, fmt.Errorf("%w: %w", StoreUnavailableError, err)
	}
}

func (e *Engine) newTransaction(p model.UserPortfolio, item model.PortfolioItem, t model.TradeType, shares, price decimal.Decimal) model.Transaction {
	return model.Transaction{
		ID:        e.newID(),
		UserID:    p.UserID,
		Symbol:    item.Symbol,
		Name:      item.Name,
		Type:      t,
		Shares:    shares,
		Price:     price,
		Total:     shares.Mul(price),
		Timestamp: p.LastUpdated,
	}
}

func validateTrade(userID, symbol string, shares, price decimal.Decimal) (string, string, error) {
	userID, err := validateUser(userID)
	if err != nil {
		return "", "", err
	}
	symbol, err = normalizeSymbol(symbol)
	if err != nil {
		return "", "", err
	}
	if !shares.IsPositive() {
		return "", "", fmt.Errorf("%w: shares must be positive, got %s", InvalidQuantityError, shares)
	}
	if price.IsNegative() {
		return "", "", fmt.Errorf("%w: price must not be negative, got %s", InvalidQuantityError, price)
	}
	return userID, symbol, nil
}

func validateUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", InvalidUserError)
	}
	return userID, nil
}

func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("%w: empty symbol", InvalidSymbolError)
	}
	return symbol, nil
}

func observe(t model.TradeType, start time.Time, err error) {
	metrics.TradeDuration.WithLabelValues(string(t)).Observe(time.Since(start).Seconds())
	metrics.TradesTotal.WithLabelValues(string(t), outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case IsRejection(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}
