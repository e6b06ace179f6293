package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/metrics"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/shopspring/decimal"
)

const _staticProvider = "static"

type stock struct {
	symbol, name                 string
	price, change, changePercent string
}

var _mockStocks = []stock{
	{"AAPL", "Apple Inc.", "187.32", "1.25", "0.67"},
	{"MSFT", "Microsoft Corporation", "420.45", "2.15", "0.51"},
	{"GOOGL", "Alphabet Inc.", "176.89", "-0.75", "-0.42"},
	{"AMZN", "Amazon.com Inc.", "182.50", "1.50", "0.83"},
	{"TSLA", "Tesla, Inc.", "215.75", "-3.25", "-1.48"},
	{"META", "Meta Platforms, Inc.", "485.20", "5.75", "1.20"},
}

// MockQuotes is the built-in demo stock table.
func MockQuotes() []model.Quote {
	quotes := make([]model.Quote, 0, len(_mockStocks))
	for _, s := range _mockStocks {
		quotes = append(quotes, model.Quote{
			Symbol:        s.symbol,
			Name:          s.name,
			Price:         decimal.RequireFromString(s.price),
			Change:        decimal.RequireFromString(s.change),
			ChangePercent: decimal.RequireFromString(s.changePercent),
		})
	}
	return quotes
}

// Static serves a fixed table of quotes.
type Static struct {
	order  []string
	quotes map[string]model.Quote
	now    func() time.Time
}

func NewStatic(quotes []model.Quote) *Static {
	s := &Static{
		order:  make([]string, 0, len(quotes)),
		quotes: make(map[string]model.Quote, len(quotes)),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, q := range quotes {
		q.Symbol = normalize(q.Symbol)
		if _, dup := s.quotes[q.Symbol]; !dup {
			s.order = append(s.order, q.Symbol)
		}
		s.quotes[q.Symbol] = q
	}
	return s
}

func (s *Static) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	if err := ctx.Err(); err != nil {
		return model.Quote{}, err
	}

	symbol = normalize(symbol)
	q, ok := s.quotes[symbol]
	if !ok {
		metrics.QuoteRequestsTotal.WithLabelValues(_staticProvider, metrics.OutcomeRejected).Inc()
		return model.Quote{}, fmt.Errorf("%w: unknown symbol %s", NotFoundError, symbol)
	}
	metrics.QuoteRequestsTotal.WithLabelValues(_staticProvider, metrics.OutcomeOK).Inc()
	q.Ts = s.now()
	return q, nil
}

func (s *Static) List(ctx context.Context) ([]model.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	quotes := make([]model.Quote, 0, len(s.order))
	for _, symbol := range s.order {
		q := s.quotes[symbol]
		q.Ts = now
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// Name returns the display name of a known symbol.
func (s *Static) Name(symbol string) (string, bool) {
	q, ok := s.quotes[normalize(symbol)]
	return q.Name, ok
}
