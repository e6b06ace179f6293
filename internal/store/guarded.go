package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/metrics"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

const (
	_defaultOpTimeout = 3 * time.Second
	_minTripRequests  = 3
	_tripFailureRatio = 0.6
)

// Guarded bounds every call to the wrapped store by a timeout and trips a
// circuit breaker when the store keeps failing. Any failure other than a
// write conflict is reported as UnavailableError.
type Guarded struct {
	inner   Store
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

type guardedCommitter struct {
	*Guarded
	committer Committer
}

// NewGuarded wraps inner. The result implements Committer iff inner does.
func NewGuarded(name string, inner Store, timeout time.Duration, cfg BreakerConfig) Store {
	if timeout <= 0 {
		timeout = _defaultOpTimeout
	}

	g := &Guarded{
		inner:   inner,
		timeout: timeout,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= _minTripRequests && failureRatio >= _tripFailureRatio
			},
			// a caller giving up says nothing about the store's health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}

	if c, ok := inner.(Committer); ok {
		return &guardedCommitter{Guarded: g, committer: c}
	}
	return g
}

func (g *Guarded) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if errors.Is(err, ConflictError) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues(op).Inc()
		return fmt.Errorf("%w: %s: %w", UnavailableError, op, err)
	}
	return nil
}

// Unguarded returns the wrapped store, bypassing timeout and breaker.
func (g *Guarded) Unguarded() Store {
	return g.inner
}

func (g *Guarded) Get(ctx context.Context, userID string) (model.UserPortfolio, error) {
	var p model.UserPortfolio
	err := g.do(ctx, "get", func(ctx context.Context) error {
		var err error
		p, err = g.inner.Get(ctx, userID)
		return err
	})
	return p, err
}

func (g *Guarded) Put(ctx context.Context, p model.UserPortfolio) error {
	return g.do(ctx, "put", func(ctx context.Context) error {
		return g.inner.Put(ctx, p)
	})
}

func (g *Guarded) AppendTransaction(ctx context.Context, t model.Transaction) error {
	return g.do(ctx, "append_transaction", func(ctx context.Context) error {
		return g.inner.AppendTransaction(ctx, t)
	})
}

func (g *Guarded) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := g.do(ctx, "list_transactions", func(ctx context.Context) error {
		var err error
		txs, err = g.inner.ListTransactions(ctx, userID)
		return err
	})
	return txs, err
}

func (g *Guarded) ListPortfolios(ctx context.Context) ([]model.UserPortfolio, error) {
	var portfolios []model.UserPortfolio
	err := g.do(ctx, "list_portfolios", func(ctx context.Context) error {
		var err error
		portfolios, err = g.inner.ListPortfolios(ctx)
		return err
	})
	return portfolios, err
}

func (g *guardedCommitter) Commit(ctx context.Context, p model.UserPortfolio, t model.Transaction) error {
	return g.do(ctx, "commit", func(ctx context.Context) error {
		return g.committer.Commit(ctx, p, t)
	})
}
