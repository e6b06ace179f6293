package model

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type PortfolioItem struct {
	Symbol       string          `json:"symbol" db:"symbol"`
	Name         string          `json:"name" db:"name"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	AverageCost  decimal.Decimal `json:"averageCost" db:"average_cost"`
	CurrentPrice decimal.Decimal `json:"currentPrice" db:"current_price"`
}

// MarketValue is shares marked at the last known price.
func (i PortfolioItem) MarketValue() decimal.Decimal {
	return i.Shares.Mul(i.CurrentPrice)
}

// CostBasis is shares valued at their average cost.
func (i PortfolioItem) CostBasis() decimal.Decimal {
	return i.Shares.Mul(i.AverageCost)
}

type UserPortfolio struct {
	UserID      string                   `json:"userId"`
	Cash        decimal.Decimal          `json:"cash"`
	Items       map[string]PortfolioItem `json:"portfolioItems"`
	LastUpdated time.Time                `json:"lastUpdated"`
	// Version counts committed writes. A store accepts a write only when it
	// carries the version currently stored.
	Version int64 `json:"version"`
}

func NewUserPortfolio(userID string, cash decimal.Decimal, now time.Time) UserPortfolio {
	return UserPortfolio{
		UserID:      userID,
		Cash:        cash,
		Items:       make(map[string]PortfolioItem),
		LastUpdated: now,
	}
}

// TotalValue is cash plus the market value of every position. It is always
// derived, never stored as the source of truth.
func (p UserPortfolio) TotalValue() decimal.Decimal {
	total := p.Cash
	for _, item := range p.Items {
		total = total.Add(item.MarketValue())
	}
	return total
}

// Clone returns a copy that shares no map with p.
func (p UserPortfolio) Clone() UserPortfolio {
	c := p
	c.Items = make(map[string]PortfolioItem, len(p.Items))
	maps.Copy(c.Items, p.Items)
	return c
}

// SortedItems returns positions ordered by symbol.
func (p UserPortfolio) SortedItems() []PortfolioItem {
	items := make([]PortfolioItem, 0, len(p.Items))
	for _, symbol := range slices.Sorted(maps.Keys(p.Items)) {
		items = append(items, p.Items[symbol])
	}
	return items
}

type PriceUpdate struct {
	Symbol string          `json:"symbol" yaml:"symbol"`
	Price  decimal.Decimal `json:"price" yaml:"price"`
}

type ProfitLoss struct {
	Value        decimal.Decimal `json:"value"`
	Percent      decimal.Decimal `json:"percent"`
	HasCostBasis bool            `json:"hasCostBasis"`
}

type ItemSummary struct {
	PortfolioItem
	MarketValue decimal.Decimal `json:"marketValue"`
	ProfitLoss  ProfitLoss      `json:"profitLoss"`
}

type PortfolioSummary struct {
	UserID      string          `json:"userId"`
	Cash        decimal.Decimal `json:"cash"`
	MarketValue decimal.Decimal `json:"marketValue"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	ProfitLoss  ProfitLoss      `json:"profitLoss"`
	Items       []ItemSummary   `json:"items"`
	LastUpdated time.Time       `json:"lastUpdated"`
}
