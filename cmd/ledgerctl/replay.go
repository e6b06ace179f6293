package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/STTM-NSU/virtual-trading/internal/config"
	"github.com/STTM-NSU/virtual-trading/internal/leaderboard"
	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/logger"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/quote"
	"github.com/STTM-NSU/virtual-trading/internal/refresher"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/STTM-NSU/virtual-trading/internal/tools"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type replayCmd struct {
	scenario string
	logLevel string
}

func (*replayCmd) Name() string     { return "replay" }
func (*replayCmd) Synopsis() string { return "replay a trading scenario and print the leaderboard" }
func (*replayCmd) Usage() string {
	return `replay [-scenario <file>] [-log-level <level>]

  Runs the scripted trades and price refreshes of a scenario against an
  in-memory ledger priced by the built-in mock quotes, then prints the
  leaderboard with each user's unrealized profit and loss.
  Without -scenario the built-in demo scenario is used.
`
}

func (c *replayCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.scenario, "scenario", "", "Scenario yaml file")
	f.StringVar(&c.logLevel, "log-level", "warn", "Log level")
}

func (c *replayCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(c.logLevel))
	if err != nil {
		log.Printf("%s: can't init logger", err)
		return subcommands.ExitFailure
	}
	defer loggerSync()

	cfg := config.DefaultScenario
	if c.scenario != "" {
		if cfg, err = config.LoadScenarioConfig(c.scenario); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading scenario: %v\n", err)
			return subcommands.ExitUsageError
		}
	} else if err := cfg.ValidateAndSetup(); err != nil {
		fmt.Fprintf(os.Stderr, "Error in built-in scenario: %v\n", err)
		return subcommands.ExitFailure
	}

	res, err := runScenario(ctx, cfg, zapLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying scenario: %v\n", err)
		return subcommands.ExitFailure
	}

	printResult(os.Stdout, res)
	return subcommands.ExitSuccess
}

type standing struct {
	leaderboard.Entry
	Summary model.PortfolioSummary
}

type scenarioResult struct {
	Trades    int
	Rejected  int
	Refreshes int
	Standings []standing
}

// runScenario applies every step in order. Rejected trades are counted and
// skipped; any other failure stops the replay.
func runScenario(ctx context.Context, cfg config.ScenarioConfig, l logger.Logger) (scenarioResult, error) {
	m := store.NewMemory(cfg.StartingCash.Decimal())
	engine := ledger.NewEngine(m, ledger.WithLogger(l.Named("ledger")))
	quotes := quote.NewStatic(quote.MockQuotes())
	r := &replayer{
		store:     m,
		engine:    engine,
		quoter:    quotes,
		refresher: refresher.New(m, engine, quotes, "", 0, l.Named("refresher")),
	}

	var res scenarioResult
	for i, step := range cfg.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := r.apply(ctx, step)
		switch {
		case ledger.IsRejection(err):
			res.Rejected++
			l.Warnf("%s: step %d rejected", err, i+1)
		case err != nil:
			return res, fmt.Errorf("%w: step %d", err, i+1)
		case step.Action == config.RefreshStep:
			res.Refreshes++
		default:
			res.Trades++
		}
	}

	entries, err := leaderboard.NewRanker(m, cfg.Top).Rank(ctx, cfg.Top)
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		p, err := engine.Portfolio(ctx, e.UserID)
		if err != nil {
			return res, err
		}
		res.Standings = append(res.Standings, standing{Entry: e, Summary: ledger.Summary(p)})
	}
	return res, nil
}

type replayer struct {
	store     store.Store
	engine    *ledger.Engine
	quoter    quote.Quoter
	refresher *refresher.Refresher
}

func (r *replayer) apply(ctx context.Context, step config.ScenarioStep) error {
	switch step.Action {
	case config.BuyStep, config.SellStep:
		return r.trade(ctx, step)
	case config.RefreshStep:
		return r.refresh(ctx, step)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func (r *replayer) trade(ctx context.Context, step config.ScenarioStep) error {
	name := step.Name
	var price decimal.Decimal
	if step.Price != nil {
		price = *step.Price
	} else {
		q, err := r.quoter.Quote(ctx, step.Symbol)
		if err != nil {
			return err
		}
		price = q.Price
		if name == "" {
			name = q.Name
		}
	}

	var err error
	if step.Action == config.BuyStep {
		_, err = r.engine.Buy(ctx, step.User, step.Symbol, name, step.Shares, price)
	} else {
		_, err = r.engine.Sell(ctx, step.User, step.Symbol, name, step.Shares, price)
	}
	return err
}

// refresh applies explicit prices to one user or to everyone. Without prices
// it re-quotes the holdings instead.
func (r *replayer) refresh(ctx context.Context, step config.ScenarioStep) error {
	if len(step.Prices) == 0 && step.User == "" {
		_, err := r.refresher.RunOnce(ctx)
		return err
	}

	users := []string{step.User}
	if step.User == "" {
		portfolios, err := r.store.ListPortfolios(ctx)
		if err != nil {
			return err
		}
		users = users[:0]
		for _, p := range portfolios {
			users = append(users, p.UserID)
		}
	}

	for _, userID := range users {
		updates := step.Prices
		if len(updates) == 0 {
			var err error
			if updates, err = r.quoteHoldings(ctx, userID); err != nil {
				return err
			}
		}
		if _, err := r.engine.RefreshPrices(ctx, userID, updates); err != nil {
			return err
		}
	}
	return nil
}

func (r *replayer) quoteHoldings(ctx context.Context, userID string) ([]model.PriceUpdate, error) {
	p, err := r.engine.Portfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := make([]model.PriceUpdate, 0, len(p.Items))
	for _, item := range p.SortedItems() {
		q, err := r.quoter.Quote(ctx, item.Symbol)
		if err != nil {
			continue
		}
		updates = append(updates, model.PriceUpdate{Symbol: item.Symbol, Price: q.Price})
	}
	return updates, nil
}

func printResult(w io.Writer, res scenarioResult) {
	fmt.Fprintf(w, "trades: %d, rejected: %d, refreshes: %d\n\n", res.Trades, res.Rejected, res.Refreshes)

	for _, s := range res.Standings {
		pl := s.Summary.ProfitLoss
		percent := "n/a"
		if pl.HasCostBasis {
			percent = pl.Percent.StringFixed(2) + "%"
		}
		fmt.Fprintf(w, "%3d. %-12s %14s  cash %14s  p&l %12s (%s)\n",
			s.Rank, s.UserID, s.Display,
			tools.FormatMoney(s.Summary.Cash, model.Currency),
			tools.FormatMoney(pl.Value, model.Currency), percent)

		for _, item := range s.Summary.Items {
			fmt.Fprintf(w, "       %-6s %s @ %s, avg %s, %s\n",
				item.Symbol, item.Shares,
				tools.FormatMoney(item.CurrentPrice, model.Currency),
				tools.FormatMoney(item.AverageCost, model.Currency),
				tools.FormatMoney(item.ProfitLoss.Value, model.Currency))
		}
	}
}
