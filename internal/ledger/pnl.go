package ledger

import (
	"fmt"
	"math"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/shopspring/decimal"
)

var _hundred = decimal.NewFromInt(100)

// ProfitLoss is the unrealized gain of a position marked at its current price.
// Percent is zero and HasCostBasis false when the position cost nothing.
func ProfitLoss(item model.PortfolioItem) model.ProfitLoss {
	diff := item.CurrentPrice.Sub(item.AverageCost)
	pl := model.ProfitLoss{Value: item.Shares.Mul(diff)}
	if item.AverageCost.IsZero() {
		return pl
	}
	pl.Percent = diff.Div(item.AverageCost).Mul(_hundred)
	pl.HasCostBasis = true
	return pl
}

func Summary(p model.UserPortfolio) model.PortfolioSummary {
	s := model.PortfolioSummary{
		UserID:      p.UserID,
		Cash:        p.Cash,
		Items:       make([]model.ItemSummary, 0, len(p.Items)),
		LastUpdated: p.LastUpdated,
	}

	for _, item := range p.SortedItems() {
		s.MarketValue = s.MarketValue.Add(item.MarketValue())
		s.CostBasis = s.CostBasis.Add(item.CostBasis())
		s.Items = append(s.Items, model.ItemSummary{
			PortfolioItem: item,
			MarketValue:   item.MarketValue(),
			ProfitLoss:    ProfitLoss(item),
		})
	}

	s.TotalValue = p.Cash.Add(s.MarketValue)
	s.ProfitLoss.Value = s.MarketValue.Sub(s.CostBasis)
	if !s.CostBasis.IsZero() {
		s.ProfitLoss.Percent = s.ProfitLoss.Value.Div(s.CostBasis).Mul(_hundred)
		s.ProfitLoss.HasCostBasis = true
	}
	return s
}

// DecimalFromFloat converts an externally supplied number, rejecting NaN and
// infinities.
func DecimalFromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("%w: non-finite value %v", InvalidQuantityError, v)
	}
	return decimal.NewFromFloat(v), nil
}
