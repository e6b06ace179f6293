package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/shopspring/decimal"
)

type Memory struct {
	mu           sync.RWMutex
	startingCash decimal.Decimal

	portfolios   map[string]model.UserPortfolio
	transactions map[string][]model.Transaction
}

func NewMemory(startingCash decimal.Decimal) *Memory {
	return &Memory{
		startingCash: startingCash,
		portfolios:   make(map[string]model.UserPortfolio),
		transactions: make(map[string][]model.Transaction),
	}
}

func (m *Memory) Get(ctx context.Context, userID string) (model.UserPortfolio, error) {
	if err := ctx.Err(); err != nil {
		return model.UserPortfolio{}, err
	}

	m.mu.RLock()
	p, ok := m.portfolios[userID]
	m.mu.RUnlock()
	if ok {
		return p.Clone(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.portfolios[userID]; ok {
		return p.Clone(), nil
	}
	p = model.NewUserPortfolio(userID, m.startingCash, time.Now().UTC())
	m.portfolios[userID] = p
	return p.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, p model.UserPortfolio) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(p)
}

func (m *Memory) AppendTransaction(ctx context.Context, t model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.UserID] = append(m.transactions[t.UserID], t)
	return nil
}

func (m *Memory) Commit(ctx context.Context, p model.UserPortfolio, t model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.put(p); err != nil {
		return err
	}
	m.transactions[t.UserID] = append(m.transactions[t.UserID], t)
	return nil
}

// put must be called with mu held.
func (m *Memory) put(p model.UserPortfolio) error {
	if stored := m.portfolios[p.UserID].Version; stored != p.Version {
		return fmt.Errorf("%w: %s is at version %d, write based on %d", ConflictError, p.UserID, stored, p.Version)
	}
	p = p.Clone()
	p.Version++
	m.portfolios[p.UserID] = p
	return nil
}

func (m *Memory) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := slices.Clone(m.transactions[userID])
	slices.Reverse(txs)
	return txs, nil
}

func (m *Memory) ListPortfolios(ctx context.Context) ([]model.UserPortfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	portfolios := make([]model.UserPortfolio, 0, len(m.portfolios))
	for _, p := range m.portfolios {
		portfolios = append(portfolios, p.Clone())
	}
	return portfolios, nil
}
