// Package store defines the portfolio persistence contract used by the ledger
// engine and the leaderboard, plus an in-memory implementation and a guarding
// decorator.
package store

import (
	"context"
	"errors"

	"github.com/STTM-NSU/virtual-trading/internal/model"
)

var (
	UnavailableError = errors.New("portfolio store unavailable")
	ConflictError    = errors.New("portfolio was modified concurrently")
)

// Store persists one portfolio document per user and an append-only
// transaction log. Documents are always written whole.
//
// Writes are optimistic: Put and Commit succeed only when p.Version equals
// the stored version (zero for a portfolio that does not exist yet), and the
// stored version becomes p.Version+1. Otherwise nothing is written and the
// error wraps ConflictError.
type Store interface {
	// Get returns the user's portfolio, creating it with the starting cash
	// balance on first access.
	Get(ctx context.Context, userID string) (model.UserPortfolio, error)
	Put(ctx context.Context, p model.UserPortfolio) error
	AppendTransaction(ctx context.Context, t model.Transaction) error
	// ListTransactions returns the user's transactions newest first.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)
	ListPortfolios(ctx context.Context) ([]model.UserPortfolio, error)
}

// Committer is implemented by stores that can write a portfolio and its
// transaction atomically.
type Committer interface {
	Commit(ctx context.Context, p model.UserPortfolio, t model.Transaction) error
}

// Unguarded strips a guarding decorator from s, if there is one. It is meant
// for compensating writes that must not be refused by an open breaker.
func Unguarded(s Store) Store {
	if g, ok := s.(interface{ Unguarded() Store }); ok {
		return g.Unguarded()
	}
	return s
}
