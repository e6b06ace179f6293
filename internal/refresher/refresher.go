// Package refresher periodically re-marks every held position at a fresh
// quote.
package refresher

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/logger"
	"github.com/STTM-NSU/virtual-trading/internal/metrics"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/quote"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/robfig/cron/v3"
)

const _stopTimeout = 30 * time.Second

type Report struct {
	Users         int
	Symbols       int
	FailedQuotes  int
	FailedUsers   int
	QuotedSymbols map[string]model.Quote
}

type Refresher struct {
	store  store.Store
	engine *ledger.Engine
	quoter quote.Quoter
	logger logger.Logger

	schedule string
	timeout  time.Duration
}

func New(s store.Store, engine *ledger.Engine, quoter quote.Quoter, schedule string, timeout time.Duration, logger logger.Logger) *Refresher {
	return &Refresher{
		store:    s,
		engine:   engine,
		quoter:   quoter,
		logger:   logger,
		schedule: schedule,
		timeout:  timeout,
	}
}

// cronLogger routes the scheduler's own messages into our logger.
type cronLogger struct {
	logger logger.Logger
}

func (l cronLogger) Printf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Run refreshes on schedule until ctx is done. A run still in progress when
// the next one is due causes that next run to be skipped.
func (r *Refresher) Run(ctx context.Context) error {
	cl := cron.VerbosePrintfLogger(cronLogger{logger: r.logger})
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(r.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		report, err := r.RunOnce(runCtx)
		if err != nil {
			r.logger.Errorf("%s: price refresh failed", err)
			return
		}
		r.logger.Infof("price refresh: %d users, %d symbols, %d failed quotes, %d failed users",
			report.Users, report.Symbols, report.FailedQuotes, report.FailedUsers)
	}); err != nil {
		return fmt.Errorf("%w: can't schedule price refresh %q", err, r.schedule)
	}

	c.Start()
	r.logger.Infof("price refresher started with schedule %q", r.schedule)

	<-ctx.Done()

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(_stopTimeout):
		r.logger.Warnf("price refresher stop timed out")
	}
	r.logger.Infof("price refresher stopped")
	return nil
}

// RunOnce quotes every symbol held by anyone once and re-marks each holder.
// Symbols that cannot be quoted keep their previous price.
func (r *Refresher) RunOnce(ctx context.Context) (Report, error) {
	report, err := r.runOnce(ctx)
	switch {
	case err != nil:
		metrics.PriceRefreshRunsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	case report.FailedQuotes > 0 || report.FailedUsers > 0:
		metrics.PriceRefreshRunsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
	default:
		metrics.PriceRefreshRunsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	return report, err
}

func (r *Refresher) runOnce(ctx context.Context) (Report, error) {
	portfolios, err := r.store.ListPortfolios(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: can't list portfolios", err)
	}

	held := make(map[string]struct{})
	for _, p := range portfolios {
		for symbol := range p.Items {
			held[symbol] = struct{}{}
		}
	}

	report := Report{
		Symbols:       len(held),
		QuotedSymbols: make(map[string]model.Quote, len(held)),
	}
	for _, symbol := range slices.Sorted(maps.Keys(held)) {
		q, err := r.quoter.Quote(ctx, symbol)
		if err != nil {
			report.FailedQuotes++
			r.logger.Warnf("%s: can't quote %s, keeping last price", err, symbol)
			continue
		}
		report.QuotedSymbols[symbol] = q
	}

	for _, p := range portfolios {
		updates := make([]model.PriceUpdate, 0, len(p.Items))
		for symbol := range p.Items {
			if q, ok := report.QuotedSymbols[symbol]; ok {
				updates = append(updates, model.PriceUpdate{Symbol: symbol, Price: q.Price})
			}
		}
		if len(updates) == 0 {
			continue
		}

		if _, err := r.engine.RefreshPrices(ctx, p.UserID, updates); err != nil {
			report.FailedUsers++
			r.logger.Errorf("%s: can't refresh prices for %s", err, p.UserID)
			continue
		}
		report.Users++
	}

	return report, nil
}
