// Package leaderboard ranks users by total portfolio value.
package leaderboard

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/STTM-NSU/virtual-trading/internal/tools"
	"github.com/shopspring/decimal"
)

const _defaultTop = 10

type Entry struct {
	Rank       int             `json:"rank"`
	UserID     string          `json:"userId"`
	TotalValue decimal.Decimal `json:"totalValue"`
	Display    string          `json:"display"`
}

// Ranker reads every portfolio without taking trade locks, so a user in the
// middle of a trade is seen either before or after it.
type Ranker struct {
	store      store.Store
	defaultTop int
}

func NewRanker(s store.Store, defaultTop int) *Ranker {
	if defaultTop <= 0 {
		defaultTop = _defaultTop
	}
	return &Ranker{store: s, defaultTop: defaultTop}
}

// Rank returns the topN users by total value, highest first. Equal values are
// ordered by user id. topN <= 0 means the configured default.
func (r *Ranker) Rank(ctx context.Context, topN int) ([]Entry, error) {
	if topN <= 0 {
		topN = r.defaultTop
	}

	entries, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

// Position returns the entry of a single user. The bool is false when the
// user has never traded or looked at their portfolio.
func (r *Ranker) Position(ctx context.Context, userID string) (Entry, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Entry{}, false, fmt.Errorf("%w: empty user id", ledger.InvalidUserError)
	}

	entries, err := r.all(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.UserID == userID {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (r *Ranker) all(ctx context.Context) ([]Entry, error) {
	portfolios, err := r.store.ListPortfolios(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't list portfolios: %w", ledger.StoreUnavailableError, err)
	}
	return rank(portfolios), nil
}

func rank(portfolios []model.UserPortfolio) []Entry {
	entries := make([]Entry, 0, len(portfolios))
	for _, p := range portfolios {
		entries = append(entries, Entry{UserID: p.UserID, TotalValue: p.TotalValue()})
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := b.TotalValue.Cmp(a.TotalValue); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Display = tools.FormatMoney(entries[i].TotalValue, model.Currency)
	}
	return entries
}
