package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

var _symbols = []string{"AAPL", "MSFT", "TSLA"}

type tradeOp struct {
	buy    bool
	symbol string
	shares decimal.Decimal
	price  decimal.Decimal
}

// decodeOp maps an arbitrary non-negative int onto a trade so gopter can
// shrink sequences of plain ints.
func decodeOp(v int) tradeOp {
	return tradeOp{
		buy:    v%2 == 0,
		symbol: _symbols[(v/2)%len(_symbols)],
		shares: decimal.NewFromInt(int64((v/6)%20 + 1)),
		price:  decimal.New(int64((v/120)%50000+1), -2),
	}
}

func TestEngine_ConservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	initial := decimal.NewFromInt(10000)
	tolerance := decimal.New(1, -9)

	properties.Property("cash and cost basis account for every trade", prop.ForAll(
		func(seq []int) bool {
			ctx := context.Background()
			e := NewEngine(store.NewMemory(initial))

			bought, sold, realized := decimal.Zero, decimal.Zero, decimal.Zero
			for _, v := range seq {
				op := decodeOp(v)
				if op.buy {
					res, err := e.Buy(ctx, "u1", op.symbol, "", op.shares, op.price)
					if err == nil {
						bought = bought.Add(res.Transaction.Total)
					} else if !IsRejection(err) {
						return false
					}
					continue
				}

				before, err := e.Portfolio(ctx, "u1")
				if err != nil {
					return false
				}
				res, err := e.Sell(ctx, "u1", op.symbol, "", op.shares, op.price)
				if err != nil {
					if !IsRejection(err) {
						return false
					}
					continue
				}
				avg := before.Items[op.symbol].AverageCost
				sold = sold.Add(res.Transaction.Total)
				realized = realized.Add(op.price.Sub(avg).Mul(op.shares))
			}

			p, err := e.Portfolio(ctx, "u1")
			if err != nil {
				return false
			}
			if p.Cash.IsNegative() || !p.Cash.Equal(initial.Sub(bought).Add(sold)) {
				return false
			}

			basis := decimal.Zero
			for _, item := range p.Items {
				if !item.Shares.IsPositive() {
					return false
				}
				basis = basis.Add(item.CostBasis())
			}
			drift := p.Cash.Add(basis).Sub(initial.Add(realized)).Abs()
			return drift.LessThanOrEqual(tolerance)
		},
		gen.SliceOf(gen.IntRange(0, math.MaxInt32)),
	))

	properties.Property("refresh is idempotent", prop.ForAll(
		func(seq []int, cents int) bool {
			ctx := context.Background()
			e := NewEngine(store.NewMemory(initial))
			for _, v := range seq {
				op := decodeOp(v)
				if _, err := e.Buy(ctx, "u1", op.symbol, "", op.shares, op.price); err != nil && !IsRejection(err) {
					return false
				}
			}

			updates := make([]model.PriceUpdate, 0, len(_symbols))
			for i, symbol := range _symbols {
				updates = append(updates, model.PriceUpdate{Symbol: symbol, Price: decimal.New(int64(cents+i), -2)})
			}
			once, err := e.RefreshPrices(ctx, "u1", updates)
			if err != nil {
				return false
			}
			twice, err := e.RefreshPrices(ctx, "u1", updates)
			if err != nil {
				return false
			}
			return once.TotalValue().Equal(twice.TotalValue()) && once.Cash.Equal(twice.Cash)
		},
		gen.SliceOf(gen.IntRange(0, math.MaxInt32)),
		gen.IntRange(0, 100000),
	))

	properties.TestingRun(t)
}
