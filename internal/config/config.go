package config

import (
	"cmp"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/quote"
	"github.com/STTM-NSU/virtual-trading/internal/redis"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"gopkg.in/yaml.v3"
)

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type ServerConfig struct {
	Addr            string          `yaml:"addr"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	TradeRateLimit  RateLimitConfig `yaml:"trade_rate_limit"` // per user
}

const (
	_addrDefault            = ":8080"
	_readTimeoutDefault     = 5 * time.Second
	_writeTimeoutDefault    = 10 * time.Second
	_shutdownTimeoutDefault = 15 * time.Second
	_tradesPerSecondDefault = 5
	_tradeBurstDefault      = 10
)

func (c *ServerConfig) Setup() {
	c.Addr = cmp.Or(c.Addr, _addrDefault)
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = _readTimeoutDefault
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = _writeTimeoutDefault
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = _shutdownTimeoutDefault
	}
	if c.TradeRateLimit.PerSecond <= 0 {
		c.TradeRateLimit.PerSecond = _tradesPerSecondDefault
	}
	if c.TradeRateLimit.Burst <= 0 {
		c.TradeRateLimit.Burst = _tradeBurstDefault
	}
}

type LedgerConfig struct {
	StartingCash model.MoneyValue `yaml:"starting_cash"`
	StoreTimeout time.Duration    `yaml:"store_timeout"`
}

const (
	_startingCashDefault = 10000
	_storeTimeoutDefault = 3 * time.Second
)

func (c *LedgerConfig) Setup() error {
	if err := setupStartingCash(&c.StartingCash); err != nil {
		return err
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = _storeTimeoutDefault
	}
	return nil
}

func setupStartingCash(m *model.MoneyValue) error {
	m.Currency = strings.ToUpper(cmp.Or(m.Currency, model.Currency))
	if m.Currency != model.Currency {
		return fmt.Errorf("unsupported currency %s, only %s portfolios exist", m.Currency, model.Currency)
	}
	if m.Value < 0 {
		return fmt.Errorf("negative starting cash %v", m.Value)
	}
	if m.Value == 0 {
		m.Value = _startingCashDefault
	}
	return nil
}

type StoreBackend string

const (
	MemoryBackend   StoreBackend = "memory"
	RedisBackend    StoreBackend = "redis"
	PostgresBackend StoreBackend = "postgres"
)

type StoreConfig struct {
	Backend StoreBackend        `yaml:"backend"`
	Redis   redis.Config        `yaml:"redis"`
	Breaker store.BreakerConfig `yaml:"breaker"`
}

const (
	_breakerMaxRequestsDefault = 1
	_breakerIntervalDefault    = time.Minute
	_breakerTimeoutDefault     = 30 * time.Second
)

func (c *StoreConfig) Setup() error {
	if c.Backend == "" {
		c.Backend = MemoryBackend
	}
	switch c.Backend {
	case MemoryBackend, PostgresBackend:
	case RedisBackend:
		c.Redis.Password = os.Getenv("REDIS_PASSWORD")
		c.Redis.Setup()
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}

	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = _breakerMaxRequestsDefault
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = _breakerIntervalDefault
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = _breakerTimeoutDefault
	}
	return nil
}

type QuotesProvider string

const (
	StaticQuotes QuotesProvider = "static"
	HTTPQuotes   QuotesProvider = "http"
)

type QuotesConfig struct {
	Provider QuotesProvider   `yaml:"provider"`
	HTTP     quote.HTTPConfig `yaml:"http"`
}

func (c *QuotesConfig) Setup() error {
	if c.Provider == "" {
		c.Provider = StaticQuotes
	}
	switch c.Provider {
	case StaticQuotes:
	case HTTPQuotes:
		c.HTTP.APIKey = os.Getenv("ALPHA_VANTAGE_API_KEY")
		if c.HTTP.APIKey == "" {
			return fmt.Errorf("empty alpha vantage api key")
		}
		c.HTTP.Setup()
	default:
		return fmt.Errorf("unknown quotes provider %q", c.Provider)
	}
	return nil
}

type RefreshConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

const (
	_refreshScheduleDefault = "*/5 * * * *"
	_refreshTimeoutDefault  = time.Minute
)

func (c *RefreshConfig) Setup() {
	c.Schedule = cmp.Or(c.Schedule, _refreshScheduleDefault)
	if c.Timeout <= 0 {
		c.Timeout = _refreshTimeoutDefault
	}
}

type LeaderboardConfig struct {
	DefaultTop int `yaml:"default_top"`
}

type ServiceConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Store       StoreConfig       `yaml:"store"`
	Quotes      QuotesConfig      `yaml:"quotes"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	LogLevel    string            `yaml:"log_level"`
}

const (
	_defaultTopDefault = 10
	_logLevelDefault   = "info"
)

func (c *ServiceConfig) ValidateAndSetup() error {
	c.Server.Setup()

	if err := c.Ledger.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup ledger", err)
	}
	if err := c.Store.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup store", err)
	}
	if err := c.Quotes.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup quotes", err)
	}

	c.Refresh.Setup()

	if c.Leaderboard.DefaultTop <= 0 {
		c.Leaderboard.DefaultTop = _defaultTopDefault
	}
	c.LogLevel = cmp.Or(c.LogLevel, _logLevelDefault)

	return nil
}

func LoadServiceConfig(filename string) (ServiceConfig, error) {
	var cfg ServiceConfig
	if err := readYAML(filename, &cfg); err != nil {
		return cfg, err
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}

func readYAML(filename string, v any) error {
	input, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%w: can't unmarshal config", err)
	}
	return nil
}
