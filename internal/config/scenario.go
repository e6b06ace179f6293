package config

import (
	"fmt"
	"strings"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/shopspring/decimal"
)

type StepAction string

const (
	BuyStep     StepAction = "buy"
	SellStep    StepAction = "sell"
	RefreshStep StepAction = "refresh"
)

// ScenarioStep is one scripted trade or price refresh. A trade without a
// price is filled at the mock quote; a refresh without a user re-marks every
// portfolio.
type ScenarioStep struct {
	Action StepAction          `yaml:"action"`
	User   string              `yaml:"user"`
	Symbol string              `yaml:"symbol"`
	Name   string              `yaml:"name"`
	Shares decimal.Decimal     `yaml:"shares"`
	Price  *decimal.Decimal    `yaml:"price"`
	Prices []model.PriceUpdate `yaml:"prices"`
}

// ScenarioConfig drives the replay command against an in-memory ledger.
type ScenarioConfig struct {
	StartingCash model.MoneyValue `yaml:"starting_cash"`
	Top          int              `yaml:"top"`
	Steps        []ScenarioStep   `yaml:"steps"`
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

var DefaultScenario = ScenarioConfig{
	StartingCash: model.MoneyValue{
		Currency: model.Currency,
		Value:    10000,
	},
	Top: 10,
	Steps: []ScenarioStep{
		{Action: BuyStep, User: "alice", Symbol: "AAPL", Shares: decimal.NewFromInt(10), Price: price("100")},
		{Action: BuyStep, User: "alice", Symbol: "AAPL", Shares: decimal.NewFromInt(10), Price: price("200")},
		{Action: BuyStep, User: "bob", Symbol: "TSLA", Shares: decimal.NewFromInt(20)},
		{Action: BuyStep, User: "carol", Symbol: "MSFT", Shares: decimal.NewFromInt(5)},
		{Action: SellStep, User: "carol", Symbol: "MSFT", Shares: decimal.NewFromInt(5), Price: price("450")},
		{Action: BuyStep, User: "dave", Symbol: "META", Shares: decimal.NewFromInt(30)},
		{Action: RefreshStep},
		{Action: RefreshStep, Prices: []model.PriceUpdate{
			{Symbol: "TSLA", Price: decimal.RequireFromString("240.10")},
		}},
	},
}

func (c *ScenarioConfig) ValidateAndSetup() error {
	if err := setupStartingCash(&c.StartingCash); err != nil {
		return err
	}
	if c.Top <= 0 {
		c.Top = _defaultTopDefault
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("empty scenario")
	}

	for i := range c.Steps {
		if err := c.Steps[i].validate(); err != nil {
			return fmt.Errorf("%w: step %d", err, i+1)
		}
	}
	return nil
}

func (s *ScenarioStep) validate() error {
	s.Action = StepAction(strings.ToLower(strings.TrimSpace(string(s.Action))))
	switch s.Action {
	case BuyStep, SellStep:
		if strings.TrimSpace(s.User) == "" {
			return fmt.Errorf("trade without user")
		}
		if strings.TrimSpace(s.Symbol) == "" {
			return fmt.Errorf("trade without symbol")
		}
		if !s.Shares.IsPositive() {
			return fmt.Errorf("non-positive shares %s", s.Shares)
		}
		if s.Price != nil && s.Price.IsNegative() {
			return fmt.Errorf("negative price %s", s.Price)
		}
	case RefreshStep:
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

func LoadScenarioConfig(filename string) (ScenarioConfig, error) {
	var cfg ScenarioConfig
	if err := readYAML(filename, &cfg); err != nil {
		return cfg, err
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup scenario", err)
	}

	return cfg, nil
}
